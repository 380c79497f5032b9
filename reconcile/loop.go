// Package reconcile drives a buyer-side charge to a terminal state: it counts
// down to the charge expiry, polls the proxy for the status, and navigates
// away once the charge is paid.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pix-checkout-api/models"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTickInterval = time.Second
	DefaultNavDelay     = 2 * time.Second

	checkTimeout = 15 * time.Second
)

type State int32

const (
	Pending State = iota
	Paid
	Expired
)

func (s State) String() string {
	switch s {
	case Paid:
		return "paid"
	case Expired:
		return "expired"
	default:
		return "pending"
	}
}

// Checker reports the current status of a charge.
type Checker interface {
	CheckPayment(ctx context.Context, id string) (*models.Charge, error)
}

type Option func(*Loop)

func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

func WithPollInterval(d time.Duration) Option { return func(l *Loop) { l.pollEvery = d } }

func WithTickInterval(d time.Duration) Option { return func(l *Loop) { l.tickEvery = d } }

func WithNavDelay(d time.Duration) Option { return func(l *Loop) { l.navDelay = d } }

// OnNavigate is called once, from the loop goroutine, after a paid charge's
// navigation delay. It is never called for an expired charge.
func OnNavigate(fn func(State)) Option { return func(l *Loop) { l.onNavigate = fn } }

// OnTick is called with the remaining time on every countdown tick.
func OnTick(fn func(time.Duration)) Option { return func(l *Loop) { l.onTick = fn } }

func WithLogger(log *zap.Logger) Option { return func(l *Loop) { l.log = log } }

type checkResult struct {
	charge *models.Charge
	err    error
}

// Loop is a single-use state machine: Pending, then Paid or Expired.
type Loop struct {
	checker Checker
	charge  models.Charge

	clock      Clock
	pollEvery  time.Duration
	tickEvery  time.Duration
	navDelay   time.Duration
	onNavigate func(State)
	onTick     func(time.Duration)
	log        *zap.Logger

	state     atomic.Int32
	remaining atomic.Int64
	inFlight  atomic.Bool

	results  chan checkResult
	manual   chan struct{}
	stop     chan struct{}
	done     chan struct{}
	startOne sync.Once
	stopOne  sync.Once
}

func New(checker Checker, charge models.Charge, opts ...Option) *Loop {
	l := &Loop{
		checker:   checker,
		charge:    charge,
		clock:     realClock{},
		pollEvery: DefaultPollInterval,
		tickEvery: DefaultTickInterval,
		navDelay:  DefaultNavDelay,
		log:       zap.NewNop(),
		results:   make(chan checkResult, 1),
		manual:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(zap.String("charge_id", charge.ID))
	return l
}

// Start computes the deadline, fires the first check and begins the timers.
// Calls after the first, or after Stop, are no-ops.
func (l *Loop) Start(ctx context.Context) {
	l.startOne.Do(func() {
		now := l.clock.Now()
		left := l.charge.ExpiresAt.Sub(now)
		if left < 0 {
			left = 0
		}
		deadline := now.Add(left)
		l.remaining.Store(int64(left))

		ctx, cancel := context.WithCancel(ctx)

		if l.charge.Status == models.ChargeStatusPaid {
			nav := l.clock.NewTimer(l.navDelay)
			l.state.Store(int32(Paid))
			go l.run(ctx, cancel, deadline, nil, nil, nav)
			return
		}
		if left == 0 {
			cancel()
			l.finish(Expired)
			return
		}

		ticker := l.clock.NewTicker(l.tickEvery)
		poller := l.clock.NewTicker(l.pollEvery)
		l.poll(ctx)
		go l.run(ctx, cancel, deadline, ticker, poller, nil)
	})
}

// Stop tears down the timers and any pending navigation. Results arriving
// afterwards are dropped. Stop is idempotent and does not wait; use Done.
func (l *Loop) Stop() {
	l.stopOne.Do(func() { close(l.stop) })
	// A loop that never started has nothing to wait for.
	l.startOne.Do(l.closeDone)
}

// Done is closed once the loop has finished.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) State() State { return State(l.state.Load()) }

// Remaining is the countdown as of the last tick.
func (l *Loop) Remaining() time.Duration { return time.Duration(l.remaining.Load()) }

// CheckNow requests an out-of-band check. It is subject to the same
// in-flight guard as scheduled polls.
func (l *Loop) CheckNow() {
	select {
	case l.manual <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context, cancel context.CancelFunc, deadline time.Time, ticker, poller, nav Ticker) {
	defer cancel()

	var tickC, pollC, navC <-chan time.Time
	if ticker != nil {
		tickC, pollC = ticker.C(), poller.C()
	}
	if nav != nil {
		navC = nav.C()
	}
	stopTimers := func() {
		if ticker != nil {
			ticker.Stop()
			poller.Stop()
			ticker, poller = nil, nil
		}
		tickC, pollC = nil, nil
	}
	defer stopTimers()
	defer func() {
		if nav != nil {
			nav.Stop()
		}
	}()

	for {
		select {
		case <-l.stop:
			l.log.Debug("reconcile loop stopped", zap.String("state", l.State().String()))
			l.closeDone()
			return

		case <-ctx.Done():
			l.closeDone()
			return

		case <-tickC:
			if l.expireIfDue(deadline) {
				stopTimers()
				return
			}

		case <-pollC:
			if l.expireIfDue(deadline) {
				stopTimers()
				return
			}
			l.poll(ctx)

		case <-l.manual:
			if l.State() == Pending {
				l.poll(ctx)
			}

		case res := <-l.results:
			if l.State() != Pending {
				continue
			}
			if res.err != nil {
				l.log.Warn("payment check failed", zap.Error(res.err))
				continue
			}
			if res.charge == nil || res.charge.Status != models.ChargeStatusPaid {
				continue
			}
			stopTimers()
			nav = l.clock.NewTimer(l.navDelay)
			navC = nav.C()
			l.state.Store(int32(Paid))
			l.log.Info("payment confirmed")

		case <-navC:
			nav = nil
			if l.onNavigate != nil {
				l.onNavigate(Paid)
			}
			l.closeDone()
			return
		}
	}
}

// expireIfDue moves a pending loop to Expired once the deadline passed.
func (l *Loop) expireIfDue(deadline time.Time) bool {
	left := deadline.Sub(l.clock.Now())
	if left < 0 {
		left = 0
	}
	l.remaining.Store(int64(left))
	if l.onTick != nil {
		l.onTick(left)
	}
	if left > 0 || l.State() != Pending {
		return false
	}
	l.log.Info("charge expired before payment")
	l.finish(Expired)
	return true
}

// poll launches one check unless another is outstanding.
func (l *Loop) poll(ctx context.Context) {
	if !l.inFlight.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer l.inFlight.Store(false)

		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		charge, err := l.checker.CheckPayment(cctx, l.charge.ID)
		cancel()

		select {
		case l.results <- checkResult{charge: charge, err: err}:
		case <-l.done:
		case <-l.stop:
		}
	}()
}

func (l *Loop) finish(s State) {
	l.state.Store(int32(s))
	l.closeDone()
}

func (l *Loop) closeDone() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

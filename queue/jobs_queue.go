package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type JobType string

const (
	JobTypeApplyNotification JobType = "apply_notification"
	JobTypeExpireCharge      JobType = "expire_charge"
	JobTypeSendConfirmation  JobType = "send_confirmation"
)

const MaxRetries = 5

// ErrJobNotFound is returned by RetryJob when the id is not in the failed list.
var ErrJobNotFound = errors.New("job not found in failed queue")

type Job struct {
	ID         string                 `json:"id"`
	Type       JobType                `json:"type"`
	Data       map[string]interface{} `json:"data"`
	CreatedAt  time.Time              `json:"created_at"`
	RetryCount int                    `json:"retry_count"`
}

// StringField returns a string value from the job payload.
func (j *Job) StringField(key string) (string, error) {
	v, ok := j.Data[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("invalid %s in job data", key)
	}
	return v, nil
}

type Queue struct {
	client     *redis.Client
	queueName  string
	processing string
	delayed    string
	failed     string
	log        *zap.Logger
	now        func() time.Time
}

func NewQueue(redisURL, queueName string, log *zap.Logger) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewQueueWithClient(client, queueName, log), nil
}

// NewQueueWithClient wraps an existing client; it does not ping.
func NewQueueWithClient(client *redis.Client, queueName string, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{
		client:     client,
		queueName:  queueName,
		processing: queueName + ":processing",
		delayed:    queueName + ":delayed",
		failed:     queueName + ":failed",
		log:        log.With(zap.String("queue", queueName)),
		now:        time.Now,
	}
}

func (q *Queue) newJob(jobType JobType, data map[string]interface{}) Job {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Data:      data,
		CreatedAt: q.now().UTC(),
	}
}

func (q *Queue) Enqueue(ctx context.Context, jobType JobType, data map[string]interface{}) error {
	job := q.newJob(jobType, data)

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.RPush(ctx, q.queueName, jobJSON).Err(); err != nil {
		return fmt.Errorf("failed to push job to queue: %w", err)
	}

	q.log.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	return nil
}

// EnqueueDelayed parks a job in the delayed set until now+delay.
func (q *Queue) EnqueueDelayed(ctx context.Context, jobType JobType, data map[string]interface{}, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, jobType, data)
	}
	job := q.newJob(jobType, data)

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	executeAt := q.now().Add(delay)
	if err := q.client.ZAdd(ctx, q.delayed, &redis.Z{
		Score:  float64(executeAt.Unix()),
		Member: jobJSON,
	}).Err(); err != nil {
		return fmt.Errorf("failed to push delayed job to queue: %w", err)
	}

	q.log.Debug("enqueued delayed job",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Time("execute_at", executeAt))
	return nil
}

// Dequeue blocks up to timeout; it returns nil, nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected BLPOP result format")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	if err := q.client.RPush(ctx, q.processing, result[1]).Err(); err != nil {
		q.log.Warn("failed to move job to processing list", zap.String("job_id", job.ID), zap.Error(err))
	}

	return &job, nil
}

func (q *Queue) CompleteJob(ctx context.Context, job *Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.LRem(ctx, q.processing, 1, jobJSON).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing queue: %w", err)
	}
	return nil
}

// retryDelay is the backoff before retry n (1-based): 15s, 30s, 60s, ...
func retryDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return 15 * time.Second * time.Duration(1<<(n-1))
}

// FailJob schedules a retry with exponential backoff, or moves the job to
// the failed list once MaxRetries is exceeded.
func (q *Queue) FailJob(ctx context.Context, job *Job, jobErr error) error {
	// The processing entry was written before RetryCount changed.
	processingJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LRem(ctx, q.processing, 1, processingJSON).Err(); err != nil {
		q.log.Warn("failed to remove job from processing list", zap.String("job_id", job.ID), zap.Error(err))
	}

	job.RetryCount++
	if job.Data == nil {
		job.Data = map[string]interface{}{}
	}
	job.Data["last_error"] = jobErr.Error()
	job.Data["failed_at"] = q.now().UTC()

	if job.RetryCount <= MaxRetries {
		delay := retryDelay(job.RetryCount)
		retryAt := q.now().Add(delay)
		job.Data["next_retry_at"] = retryAt.UTC()
		job.Data["is_last_attempt"] = job.RetryCount == MaxRetries

		updated, _ := json.Marshal(job)
		if err := q.client.ZAdd(ctx, q.delayed, &redis.Z{
			Score:  float64(retryAt.Unix()),
			Member: updated,
		}).Err(); err != nil {
			q.log.Warn("failed to schedule retry, moving job to failed list", zap.String("job_id", job.ID), zap.Error(err))
			if err := q.client.RPush(ctx, q.failed, updated).Err(); err != nil {
				return fmt.Errorf("failed to push job to failed queue: %w", err)
			}
			return nil
		}

		q.log.Info("job scheduled for retry",
			zap.String("job_id", job.ID),
			zap.String("type", string(job.Type)),
			zap.Int("retry", job.RetryCount),
			zap.Duration("delay", delay))
		return nil
	}

	job.Data["all_retries_exhausted"] = true
	final, _ := json.Marshal(job)
	if err := q.client.RPush(ctx, q.failed, final).Err(); err != nil {
		return fmt.Errorf("failed to push job to failed queue: %w", err)
	}

	q.log.Error("job moved to failed list",
		zap.String("job_id", job.ID),
		zap.String("type", string(job.Type)),
		zap.Int("retries", job.RetryCount),
		zap.Error(jobErr))
	return nil
}

// ProcessDelayedJobs moves every due delayed job onto the main list.
func (q *Queue) ProcessDelayedJobs(ctx context.Context) error {
	jobs, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", q.now().Unix()),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to get delayed jobs: %w", err)
	}

	for _, jobJSON := range jobs {
		// ZRem first so two movers never push the same job twice.
		removed, err := q.client.ZRem(ctx, q.delayed, jobJSON).Result()
		if err != nil {
			q.log.Warn("failed to remove job from delayed set", zap.Error(err))
			continue
		}
		if removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, q.queueName, jobJSON).Err(); err != nil {
			q.log.Warn("failed to move delayed job to main queue", zap.Error(err))
		}
	}
	return nil
}

// FailedJobs lists jobs that exhausted their retries.
func (q *Queue) FailedJobs(ctx context.Context) ([]Job, error) {
	raw, err := q.client.LRange(ctx, q.failed, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	jobs := make([]Job, 0, len(raw))
	for _, r := range raw {
		var job Job
		if err := json.Unmarshal([]byte(r), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryJob requeues a failed job with its retry count reset.
func (q *Queue) RetryJob(ctx context.Context, jobID string) error {
	raw, err := q.client.LRange(ctx, q.failed, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list failed jobs: %w", err)
	}

	for _, jobJSON := range raw {
		var job Job
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}
		if job.ID != jobID {
			continue
		}

		if err := q.client.LRem(ctx, q.failed, 1, jobJSON).Err(); err != nil {
			return fmt.Errorf("failed to remove job from failed queue: %w", err)
		}

		job.RetryCount = 0
		job.Data["manual_retry"] = true
		job.Data["manual_retry_at"] = q.now().UTC()
		delete(job.Data, "all_retries_exhausted")
		delete(job.Data, "is_last_attempt")

		updated, _ := json.Marshal(job)
		if err := q.client.RPush(ctx, q.queueName, updated).Err(); err != nil {
			return fmt.Errorf("failed to push job to main queue: %w", err)
		}

		q.log.Info("manually requeued job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		return nil
	}

	return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
}

// IsLastAttempt reports whether a failure of this run moves the job to the
// failed list instead of scheduling another retry.
func (j *Job) IsLastAttempt() bool {
	if isLast, ok := j.Data["is_last_attempt"].(bool); ok {
		return isLast
	}
	return j.RetryCount >= MaxRetries
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	return q.client.Close()
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pix-checkout-api/config"
	"pix-checkout-api/database"
	"pix-checkout-api/handlers"
	"pix-checkout-api/logger"
	"pix-checkout-api/middleware"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/auth"
	"pix-checkout-api/services/email"
	"pix-checkout-api/services/events"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/services/payment/pushinpay"
	"pix-checkout-api/services/pricing"
	"pix-checkout-api/store"
	"pix-checkout-api/telemetry"
	"pix-checkout-api/worker"
)

const jobQueueName = "pix_jobs"

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, h-captcha-response, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("server starting", zap.Int("cpus", runtime.NumCPU()))
	for _, w := range cfg.Warnings {
		log.Warn("configuration", zap.String("warning", w))
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	shutdownTracing, err := telemetry.InitTracing(context.Background(), telemetry.TracingConfig{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
		Version:     cfg.App.Version,
	}, log)
	if err != nil {
		log.Warn("tracing unavailable", zap.Error(err))
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	charges, err := openChargeStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open charge store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer charges.Close()

	// Redis backs the job queue and the rate limiter. Without it the
	// service still takes payments and applies webhooks inline.
	jobQueue, err := queue.NewQueue(cfg.Redis.URL, jobQueueName, log)
	if err != nil {
		log.Error("redis unavailable, running without job queue", zap.Error(err))
		jobQueue = nil
	} else {
		defer jobQueue.Close()
		log.Info("connected to redis")
	}

	publisher, err := events.New(cfg.Events, log)
	if err != nil {
		log.Fatal("failed to start event publisher", zap.String("driver", cfg.Events.Driver), zap.Error(err))
	}
	defer publisher.Close()

	gateway := pushinpay.NewClient(pushinpay.Config{
		BaseURL:    cfg.PushinPay.APIURL,
		Token:      cfg.PushinPay.Token,
		WebhookURL: cfg.WebhookURL(),
		ExpiresIn:  cfg.PushinPay.ExpiresIn,
		Timeout:    cfg.PushinPay.Timeout,
	}, pushinpay.WithObserver(metrics), pushinpay.WithLogger(log))

	serviceOpts := []payment.Option{
		payment.WithPublisher(publisher),
		payment.WithMetrics(metrics),
		payment.WithLogger(log),
	}
	if jobQueue != nil {
		serviceOpts = append(serviceOpts, payment.WithQueue(jobQueue))
	}
	paymentService := payment.NewPaymentService(gateway, charges, serviceOpts...)

	emailService := email.NewSMTPService(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, log)
	if !emailService.Enabled() {
		log.Warn("SMTP_HOST not set, confirmation emails are disabled")
	}

	var paymentWorker *worker.Worker
	if jobQueue != nil {
		paymentWorker = worker.NewWorker(jobQueue, paymentService, emailService, metrics, log)
		paymentWorker.Start(cfg.Redis.WorkerConcurrency)
	}

	catalog := pricing.New(cfg.Pricing.Base, cfg.Pricing.Bump, cfg.Pricing.Upsell, cfg.Pricing.MainPricePoints)
	session := handlers.NewOrderSession(sessionKey(cfg, log), strings.HasPrefix(cfg.Server.BaseURL, "https://"))

	var captcha handlers.CaptchaVerifier
	if cfg.Auth.HCaptchaSecret != "" {
		captcha = handlers.NewHCaptcha(cfg.Auth.HCaptchaSecret)
	}

	var webhookJobs handlers.Enqueuer
	if jobQueue != nil {
		webhookJobs = jobQueue
	}

	paymentHandler := handlers.NewPaymentHandler(paymentService, catalog, session, captcha)
	orderHandler := handlers.NewOrderHandler(paymentService, session, catalog)
	webhookHandler := handlers.NewWebhookHandler(paymentService, webhookJobs, catalog,
		cfg.Server.BaseURL, cfg.Routing, cfg.PushinPay.WebhookToken, metrics)

	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Metrics(metrics))
	router.Use(middleware.SecurityHeadersMiddleware)
	if jobQueue != nil {
		router.Use(middleware.NewRateLimiter(jobQueue.Client(), log).RateLimitMiddleware())
	}

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/create-payment", paymentHandler.CreatePayment).Methods("POST", "OPTIONS")
	api.HandleFunc("/check-payment", paymentHandler.CheckPayment).Methods("GET", "OPTIONS")
	api.HandleFunc("/order", orderHandler.GetOrder).Methods("GET", "OPTIONS")
	api.HandleFunc("/order", orderHandler.ClearOrder).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/catalog", orderHandler.GetCatalog).Methods("GET", "OPTIONS")
	api.HandleFunc("/webhook/pushinpay", webhookHandler.HandlePushinPay).Methods("POST")

	registerInternalRoutes(api, cfg, paymentService, jobQueue, log)

	startTime := time.Now()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		health := struct {
			Status    string `json:"status"`
			Time      string `json:"time"`
			Store     string `json:"store"`
			Redis     string `json:"redis"`
			Gateway   string `json:"gateway"`
			Uptime    string `json:"uptime"`
			GoVersion string `json:"go_version"`
		}{
			Status:    "ok",
			Time:      time.Now().UTC().Format(time.RFC3339),
			Store:     "connected",
			Redis:     "connected",
			Gateway:   "configured",
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			GoVersion: runtime.Version(),
		}

		storeCtx, storeCancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer storeCancel()
		if err := charges.Ping(storeCtx); err != nil {
			health.Status = "degraded"
			health.Store = "error"
		}

		if jobQueue == nil {
			health.Status = "degraded"
			health.Redis = "disabled"
		} else {
			redisCtx, redisCancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer redisCancel()
			if err := jobQueue.Ping(redisCtx); err != nil {
				health.Status = "degraded"
				health.Redis = "error"
			}
		}

		if !paymentService.Ready() {
			health.Status = "degraded"
			health.Gateway = "not configured"
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health) //nolint:errcheck
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("http server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}

	if paymentWorker != nil {
		log.Info("stopping payment worker")
		paymentWorker.Stop()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}

	log.Info("server exited properly")
}

func openChargeStore(cfg *config.Config, log *zap.Logger) (payment.ChargeStore, error) {
	switch cfg.Store.Driver {
	case "mysql":
		conn, err := database.NewConnection(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := conn.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		log.Info("using mysql charge store", zap.String("host", cfg.Database.Host))
		return database.NewChargeStore(conn), nil
	case "", "bolt":
		st, err := store.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, err
		}
		log.Info("using bolt charge store", zap.String("path", cfg.Store.BoltPath))
		return st, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
}

func registerInternalRoutes(api *mux.Router, cfg *config.Config, orders handlers.OrderReader, jobQueue *queue.Queue, log *zap.Logger) {
	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.App.Name)
	if !jwtService.Enabled() || cfg.Auth.InternalSecret == "" {
		log.Info("operator API disabled; set JWT_SECRET and INTERNAL_SECRET to enable it")
		return
	}

	var failed handlers.FailedJobs = unavailableJobs{}
	if jobQueue != nil {
		failed = jobQueue
	}
	internal := handlers.NewInternalHandler(jwtService, orders, failed, cfg.Auth.InternalSecret)

	api.HandleFunc("/internal/token", internal.RequireInternalSecret(internal.IssueToken)).Methods("POST")

	protected := api.PathPrefix("/internal").Subrouter()
	protected.Use(middleware.AuthMiddleware(jwtService))
	protected.HandleFunc("/orders/{reference}", internal.GetOrder).Methods("GET")
	protected.HandleFunc("/jobs/failed", internal.ListFailedJobs).Methods("GET")
	protected.HandleFunc("/jobs/{id}/retry", internal.RetryJob).Methods("POST")
}

// unavailableJobs stands in for the queue when Redis is down.
type unavailableJobs struct{}

func (unavailableJobs) FailedJobs(ctx context.Context) ([]queue.Job, error) {
	return nil, fmt.Errorf("job queue unavailable")
}

func (unavailableJobs) RetryJob(ctx context.Context, jobID string) error {
	return fmt.Errorf("job queue unavailable")
}

// sessionKey returns the cookie signing key. A missing SESSION_SECRET gets a
// per-process random key, so sessions do not survive a restart.
func sessionKey(cfg *config.Config, log *zap.Logger) []byte {
	if cfg.Server.SessionSecret != "" {
		return []byte(cfg.Server.SessionSecret)
	}
	log.Warn("SESSION_SECRET not set, using a random session key")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatal("failed to generate session key", zap.Error(err))
	}
	return key
}

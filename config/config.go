package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	PushinPay PushinPayConfig
	Routing   RoutingConfig
	Pricing   PricingConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Events    EventsConfig
	SMTP      SMTPConfig
	Auth      AuthConfig
	Log       LogConfig
	Tracing   TracingConfig

	// Warnings holds settings Load could not use as given.
	Warnings []string
}

type AppConfig struct {
	Name        string
	Environment string
	Version     string
}

type ServerConfig struct {
	Port          string
	BaseURL       string
	SessionSecret string
}

type PushinPayConfig struct {
	APIURL       string
	Token        string
	WebhookToken string
	ExpiresIn    time.Duration
	Timeout      time.Duration
}

type RoutingConfig struct {
	UpsellPath   string
	ThankYouPath string
	SuccessPath  string
}

type PricingConfig struct {
	Base            int
	Bump            int
	Upsell          int
	MainPricePoints []int
}

type StoreConfig struct {
	Driver   string
	BoltPath string
}

type DatabaseConfig struct {
	Host     string
	User     string
	Password string
	DBName   string
}

type RedisConfig struct {
	URL               string
	WorkerConcurrency int
}

type EventsConfig struct {
	Driver       string
	KafkaBrokers []string
	KafkaTopic   string
	NATSURL      string
	NATSSubject  string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type AuthConfig struct {
	JWTSecret      string
	InternalSecret string
	HCaptchaSecret string
}

type LogConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Endpoint string
}

// ConfigurationError lists required settings that are absent.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}

// WebhookURL is the callback handed to the provider on charge creation.
func (c *Config) WebhookURL() string {
	return strings.TrimRight(c.Server.BaseURL, "/") + "/api/webhook/pushinpay"
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.PushinPay.Token == "" {
		missing = append(missing, "PUSHINPAY_TOKEN")
	}
	if c.Server.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if c.Store.Driver == "mysql" {
		if c.Database.Host == "" {
			missing = append(missing, "DB_HOST")
		}
		if c.Database.DBName == "" {
			missing = append(missing, "DB_NAME")
		}
	}
	switch c.Events.Driver {
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 {
			missing = append(missing, "KAFKA_BROKERS")
		}
	case "nats":
		if c.Events.NATSURL == "" {
			missing = append(missing, "NATS_URL")
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

// Load reads the environment. Problems that fall back to defaults are
// collected in Warnings for the caller to log once a logger exists.
func Load() *Config {
	l := &loader{}
	if err := godotenv.Load(); err != nil {
		l.warn("no .env file loaded: %v", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:        getenv("APP_NAME", "pix-checkout-api"),
			Environment: getenv("APP_ENV", "development"),
			Version:     getenv("APP_VERSION", "dev"),
		},
		Server: ServerConfig{
			Port:          getenv("SERVER_PORT", "8080"),
			BaseURL:       strings.TrimRight(os.Getenv("BASE_URL"), "/"),
			SessionSecret: os.Getenv("SESSION_SECRET"),
		},
		PushinPay: PushinPayConfig{
			APIURL:       getenv("PUSHINPAY_API_URL", "https://api.pushinpay.com.br/api"),
			Token:        os.Getenv("PUSHINPAY_TOKEN"),
			WebhookToken: os.Getenv("PUSHINPAY_WEBHOOK_TOKEN"),
			ExpiresIn:    time.Duration(l.getenvInt("PIX_EXPIRES_IN", 900)) * time.Second,
			Timeout:      time.Duration(l.getenvInt("PUSHINPAY_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Routing: RoutingConfig{
			UpsellPath:   getenv("UPSELL_PATH", "/upsell"),
			ThankYouPath: getenv("THANK_YOU_PATH", "/obrigado"),
			SuccessPath:  getenv("SUCCESS_PATH", "/sucesso"),
		},
		Pricing: PricingConfig{
			Base:            l.getenvInt("PRICE_BASE", 1000),
			Bump:            l.getenvInt("PRICE_BUMP", 690),
			Upsell:          l.getenvInt("PRICE_UPSELL", 2700),
			MainPricePoints: l.getenvIntList("MAIN_PRICE_POINTS"),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(getenv("STORE_DRIVER", "bolt")),
			BoltPath: getenv("BOLT_PATH", "data/checkout.db"),
		},
		Database: DatabaseConfig{
			Host:     os.Getenv("DB_HOST"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
		},
		Redis: RedisConfig{
			URL:               getenv("REDIS_URL", "redis://localhost:6379/0"),
			WorkerConcurrency: clamp(l.getenvInt("WORKER_CONCURRENCY", 2), 2, 8),
		},
		Events: EventsConfig{
			Driver:       strings.ToLower(os.Getenv("EVENTS_DRIVER")),
			KafkaBrokers: getenvList("KAFKA_BROKERS"),
			KafkaTopic:   getenv("KAFKA_TOPIC", "pix.charge.state_changed"),
			NATSURL:      os.Getenv("NATS_URL"),
			NATSSubject:  getenv("NATS_SUBJECT", "pix.charge.state_changed"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getenv("SMTP_PORT", "587"),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getenv("SMTP_FROM", "no-reply@desvendandoabiblia.com.br"),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			InternalSecret: os.Getenv("INTERNAL_SECRET"),
			HCaptchaSecret: os.Getenv("HCAPTCHA_SECRET"),
		},
		Log: LogConfig{
			Level:  getenv("LOG_LEVEL", "info"),
			Format: getenv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
	}
	cfg.Warnings = l.warnings

	return cfg
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

type loader struct {
	warnings []string
}

func (l *loader) warn(format string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *loader) getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.warn("invalid integer %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getenvList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *loader) getenvIntList(key string) []int {
	var out []int
	for _, part := range getenvList(key) {
		n, err := strconv.Atoi(part)
		if err != nil {
			l.warn("ignoring invalid %s entry %q", key, part)
			continue
		}
		out = append(out, n)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

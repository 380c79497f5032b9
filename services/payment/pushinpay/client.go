package pushinpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"pix-checkout-api/models"
)

const (
	DefaultBaseURL     = "https://api.pushinpay.com.br/api"
	DefaultExpiresIn   = 900 * time.Second
	RequestTimeout     = 30 * time.Second
	DefaultDescription = "Desvendando a Bíblia - Materiais Digitais"

	maxResponseBytes = 1 << 20
)

type Config struct {
	BaseURL    string
	Token      string
	WebhookURL string
	ExpiresIn  time.Duration
	Timeout    time.Duration
}

// Observer receives the latency of each provider call.
type Observer interface {
	ObserveGateway(operation, outcome string, elapsed time.Duration)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client talks to the PushinPay PIX API.
type Client struct {
	baseURL    string
	token      string
	webhookURL string
	expiresIn  time.Duration
	client     *http.Client
	observer   Observer
	log        *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = DefaultExpiresIn
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = RequestTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		webhookURL: cfg.WebhookURL,
		expiresIn:  cfg.ExpiresIn,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		log:    zap.NewNop(),
		tracer: otel.Tracer("pix-checkout-api/pushinpay"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether the client has a credential to call with.
func (c *Client) Configured() bool {
	return c.token != "" && c.webhookURL != ""
}

// CreateCharge issues a new PIX charge for req.
func (c *Client) CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.Charge, error) {
	const op = "create_charge"

	ctx, span := c.tracer.Start(ctx, "pushinpay.CreateCharge", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("pix.reference", req.Reference),
		attribute.Int("pix.value", req.Value),
	)

	description := req.Description
	if strings.TrimSpace(description) == "" {
		description = DefaultDescription
	}
	payload := createChargeRequest{
		Value:         req.Value,
		PayerName:     req.PayerName,
		PayerEmail:    req.PayerEmail,
		PayerPhone:    req.PayerPhone,
		PayerDocument: req.PayerDocument,
		Reference:     req.Reference,
		Description:   description,
		ExpiresIn:     int(c.expiresIn / time.Second),
		WebhookURL:    c.webhookURL,
	}

	issuedAt := c.now()
	status, body, header, err := c.do(ctx, op, http.MethodPost, "/pix", payload)
	if err != nil {
		return nil, c.fail(span, op, err)
	}

	if status < 200 || status > 299 {
		return nil, c.fail(span, op, &GatewayError{
			Kind:           KindRequestFailed,
			Operation:      op,
			ProviderStatus: status,
			ProviderBody:   string(body),
			Message:        messageOr(body, "failed to create PIX charge"),
		})
	}

	top, nested, err := c.decode(op, status, header, body)
	if err != nil {
		return nil, c.fail(span, op, err)
	}

	charge := normalizeCharge(top, nested, issuedAt, c.expiresIn)
	if charge.ID == "" || !charge.HasPayload() {
		return nil, c.fail(span, op, &GatewayError{
			Kind:           KindInvalidResponse,
			Operation:      op,
			ProviderStatus: status,
			ProviderBody:   string(body),
			Message:        "provider response is missing the charge id or payment payload",
		})
	}
	if charge.Value == 0 {
		charge.Value = req.Value
	}
	// A freshly issued charge is open regardless of how the provider words it.
	if !charge.Status.IsTerminal() {
		charge.Status = models.ChargeStatusCreated
	}

	span.SetAttributes(attribute.String("pix.charge_id", charge.ID))
	c.log.Info("PIX charge created",
		zap.String("reference", req.Reference),
		zap.String("charge_id", charge.ID),
		zap.Time("expires_at", charge.ExpiresAt),
	)
	return &charge, nil
}

// GetCharge fetches the current state of charge id.
func (c *Client) GetCharge(ctx context.Context, id string) (*models.Charge, error) {
	const op = "get_charge"

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyChargeID
	}

	ctx, span := c.tracer.Start(ctx, "pushinpay.GetCharge", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("pix.charge_id", id))

	status, body, header, err := c.do(ctx, op, http.MethodGet, "/transactions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, c.fail(span, op, err)
	}

	switch {
	case status == http.StatusNotFound:
		return nil, c.fail(span, op, &GatewayError{
			Kind:           KindNotFound,
			Operation:      op,
			ProviderStatus: status,
			ProviderBody:   string(body),
			Message:        messageOr(body, "charge not found"),
		})
	case status < 200 || status > 299:
		return nil, c.fail(span, op, &GatewayError{
			Kind:           KindRequestFailed,
			Operation:      op,
			ProviderStatus: status,
			ProviderBody:   string(body),
			Message:        messageOr(body, "failed to fetch PIX charge"),
		})
	}

	top, nested, err := c.decode(op, status, header, body)
	if err != nil {
		return nil, c.fail(span, op, err)
	}

	charge := normalizeCharge(top, nested, time.Time{}, 0)
	if charge.ID == "" {
		charge.ID = id
	}
	span.SetAttributes(attribute.String("pix.status", string(charge.Status)))
	return &charge, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}) (int, []byte, http.Header, error) {
	start := time.Now()

	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.observe(op, "transport_error", start)
		return 0, nil, nil, &GatewayError{
			Kind:      KindRequestFailed,
			Operation: op,
			Message:   "error calling provider",
			Err:       err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.observe(op, "read_error", start)
		return resp.StatusCode, nil, resp.Header, &GatewayError{
			Kind:           KindInvalidResponse,
			Operation:      op,
			ProviderStatus: resp.StatusCode,
			Message:        "error reading provider response",
			Err:            err,
		}
	}
	body = bytes.TrimPrefix(body, []byte("\ufeff"))

	c.observe(op, outcomeFor(resp.StatusCode), start)
	c.log.Debug("provider response",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp.StatusCode, body, resp.Header, nil
}

// decode enforces a JSON content type and body on a successful response.
func (c *Client) decode(op string, status int, header http.Header, body []byte) (chargeFields, chargeFields, error) {
	if ct := header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !strings.Contains(mediaType, "json") {
			return chargeFields{}, chargeFields{}, &GatewayError{
				Kind:           KindInvalidResponse,
				Operation:      op,
				ProviderStatus: status,
				ProviderBody:   truncate(string(body), 512),
				Message:        fmt.Sprintf("unexpected content type %q", ct),
			}
		}
	}

	top, nested, err := decodeChargeFields(body)
	if err != nil {
		return chargeFields{}, chargeFields{}, &GatewayError{
			Kind:           KindInvalidResponse,
			Operation:      op,
			ProviderStatus: status,
			ProviderBody:   truncate(string(body), 512),
			Message:        "provider returned a body that is not valid JSON",
			Err:            err,
		}
	}
	return top, nested, nil
}

func (c *Client) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	c.log.Warn("PIX provider call failed", zap.String("operation", op), zap.Error(err))
	return err
}

func (c *Client) observe(op, outcome string, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveGateway(op, outcome, time.Since(start))
	}
}

func messageOr(body []byte, fallback string) string {
	if msg := providerMessage(body); msg != "" {
		return msg
	}
	return fallback
}

func outcomeFor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "ok"
	case status == http.StatusNotFound:
		return "not_found"
	case status >= 400 && status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

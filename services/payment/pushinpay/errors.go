package pushinpay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindRequestFailed   ErrorKind = "request_failed"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindNotFound        ErrorKind = "not_found"
)

// ErrEmptyChargeID is returned by GetCharge before any call is made.
var ErrEmptyChargeID = errors.New("charge id is required")

// GatewayError describes a failed exchange with the provider.
type GatewayError struct {
	Kind           ErrorKind
	Operation      string
	ProviderStatus int
	ProviderBody   string
	Message        string
	Err            error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ProviderStatus != 0 {
		return fmt.Sprintf("pushinpay %s: %s (status %d): %s", e.Operation, e.Kind, e.ProviderStatus, msg)
	}
	return fmt.Sprintf("pushinpay %s: %s: %s", e.Operation, e.Kind, msg)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status the proxy answers with for this error.
func (e *GatewayError) HTTPStatus() int {
	if e.Kind == KindNotFound {
		return http.StatusNotFound
	}
	if e.ProviderStatus >= 400 && e.ProviderStatus <= 599 {
		return e.ProviderStatus
	}
	return http.StatusInternalServerError
}

// Details returns the provider body decoded as JSON when possible.
func (e *GatewayError) Details() interface{} {
	if e.ProviderBody == "" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(e.ProviderBody), &v); err != nil {
		return e.ProviderBody
	}
	return v
}

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Kind == KindNotFound
}

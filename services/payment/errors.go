package payment

import (
	"fmt"
	"strings"

	"pix-checkout-api/config"
)

// ValidationError reports a request rejected before any upstream call.
type ValidationError struct {
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// ErrNotConfigured is returned when the gateway credential or the public
// base URL the webhook address is built from is missing.
var ErrNotConfigured = &config.ConfigurationError{Missing: []string{"PUSHINPAY_TOKEN", "BASE_URL"}}

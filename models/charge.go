package models

import (
	"strings"
	"time"
)

// MinChargeValue is the smallest amount, in centavos, the gateway accepts.
const MinChargeValue = 50

type ChargeStatus string

const (
	ChargeStatusCreated ChargeStatus = "created"
	ChargeStatusPaid    ChargeStatus = "paid"
	ChargeStatusExpired ChargeStatus = "expired"
)

// NormalizeChargeStatus maps the provider status onto ChargeStatus. An
// empty status or "pending" means created; any other value outside the
// three known ones is passed through unchanged.
func NormalizeChargeStatus(raw string) ChargeStatus {
	switch strings.TrimSpace(raw) {
	case "", "pending", "created":
		return ChargeStatusCreated
	case "paid":
		return ChargeStatusPaid
	case "expired":
		return ChargeStatusExpired
	default:
		return ChargeStatus(raw)
	}
}

// IsTerminal reports whether no further provider transition is expected.
func (s ChargeStatus) IsTerminal() bool {
	return s == ChargeStatusPaid || s == ChargeStatusExpired
}

type ChargeRequest struct {
	Value         int      `json:"value"`
	PayerName     string   `json:"payer_name"`
	PayerEmail    string   `json:"payer_email"`
	PayerPhone    string   `json:"payer_phone"`
	PayerDocument string   `json:"payer_document"`
	Reference     string   `json:"reference"`
	Description   string   `json:"description,omitempty"`
	OrderBumps    []string `json:"order_bumps,omitempty"`
}

// MissingFields returns the JSON names of mandatory fields left empty.
func (r ChargeRequest) MissingFields() []string {
	var missing []string
	if r.Value == 0 {
		missing = append(missing, "value")
	}
	fields := []struct {
		name  string
		value string
	}{
		{"payer_name", r.PayerName},
		{"payer_email", r.PayerEmail},
		{"payer_phone", r.PayerPhone},
		{"payer_document", r.PayerDocument},
		{"reference", r.Reference},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Charge is the canonical view of a provider charge.
type Charge struct {
	ID        string       `json:"id"`
	Status    ChargeStatus `json:"status"`
	Value     int          `json:"value,omitempty"`
	QRCode    string       `json:"qr_code,omitempty"`
	QRCodeURL string       `json:"qr_code_url,omitempty"`
	PixCode   string       `json:"pix_code,omitempty"`
	ExpiresAt time.Time    `json:"expires_at"`
	PaidAt    *time.Time   `json:"paid_at,omitempty"`
}

// HasPayload reports whether the charge carries something a buyer can pay with.
func (c Charge) HasPayload() bool {
	return c.QRCode != "" || c.PixCode != "" || c.QRCodeURL != ""
}

// Live reports whether the charge can still be paid at now.
func (c Charge) Live(now time.Time) bool {
	return c.Status == ChargeStatusCreated && now.Before(c.ExpiresAt)
}

package models

import (
	"strings"
	"time"
)

type OrderKind string

const (
	OrderKindMain   OrderKind = "main"
	OrderKindUpsell OrderKind = "upsell"
)

// UpsellReferencePrefix marks references generated by the upsell page.
const UpsellReferencePrefix = "upsell-"

// KindForReference infers the order kind from the caller reference.
func KindForReference(reference string) OrderKind {
	if strings.HasPrefix(reference, UpsellReferencePrefix) {
		return OrderKindUpsell
	}
	return OrderKindMain
}

// OrderRecord is the server-owned aggregate of one checkout attempt.
type OrderRecord struct {
	Reference  string       `json:"reference"`
	Kind       OrderKind    `json:"kind"`
	Name       string       `json:"name"`
	Email      string       `json:"email"`
	Phone      string       `json:"phone"`
	Document   string       `json:"document"`
	OrderBumps []string     `json:"order_bumps,omitempty"`
	Total      int          `json:"total"`
	ChargeID   string       `json:"charge_id"`
	Status     ChargeStatus `json:"status"`
	QRCode     string       `json:"qr_code,omitempty"`
	QRCodeURL  string       `json:"qr_code_url,omitempty"`
	PixCode    string       `json:"pix_code,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	PaidAt     *time.Time   `json:"paid_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// NewOrderRecord assembles the record persisted after a successful charge.
func NewOrderRecord(req ChargeRequest, charge *Charge) *OrderRecord {
	return &OrderRecord{
		Reference:  req.Reference,
		Kind:       KindForReference(req.Reference),
		Name:       req.PayerName,
		Email:      req.PayerEmail,
		Phone:      req.PayerPhone,
		Document:   req.PayerDocument,
		OrderBumps: req.OrderBumps,
		Total:      req.Value,
		ChargeID:   charge.ID,
		Status:     charge.Status,
		QRCode:     charge.QRCode,
		QRCodeURL:  charge.QRCodeURL,
		PixCode:    charge.PixCode,
		ExpiresAt:  charge.ExpiresAt,
		PaidAt:     charge.PaidAt,
	}
}

// Charge projects the record back onto the canonical charge view.
func (o *OrderRecord) Charge() *Charge {
	return &Charge{
		ID:        o.ChargeID,
		Status:    o.Status,
		Value:     o.Total,
		QRCode:    o.QRCode,
		QRCodeURL: o.QRCodeURL,
		PixCode:   o.PixCode,
		ExpiresAt: o.ExpiresAt,
		PaidAt:    o.PaidAt,
	}
}

// StatusUpdate is a provider-sourced status change for a charge.
type StatusUpdate struct {
	ChargeID string
	Status   ChargeStatus
	PaidAt   *time.Time
}

// ApplyStatus moves the record to the new status unless that would
// downgrade a terminal status. It reports whether anything changed.
func (o *OrderRecord) ApplyStatus(u StatusUpdate, now time.Time) bool {
	if o.Status.IsTerminal() && !u.Status.IsTerminal() {
		return false
	}
	if o.Status == ChargeStatusPaid && u.Status != ChargeStatusPaid {
		return false
	}
	if o.Status == u.Status && (u.PaidAt == nil || o.PaidAt != nil) {
		return false
	}
	o.Status = u.Status
	if u.PaidAt != nil {
		o.PaidAt = u.PaidAt
	} else if u.Status == ChargeStatusPaid && o.PaidAt == nil {
		paid := now
		o.PaidAt = &paid
	}
	o.UpdatedAt = now
	return true
}

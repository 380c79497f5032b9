package models

import "time"

// WebhookEvent is a provider notification about a charge.
type WebhookEvent struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Value    int    `json:"value"`
	HasValue bool   `json:"-"`
}

// StateChangeEvent is published whenever a stored charge changes status.
type StateChangeEvent struct {
	ChargeID   string       `json:"charge_id"`
	Reference  string       `json:"reference"`
	Kind       OrderKind    `json:"kind"`
	From       ChargeStatus `json:"from,omitempty"`
	To         ChargeStatus `json:"to"`
	Value      int          `json:"value"`
	OccurredAt time.Time    `json:"occurred_at"`
}

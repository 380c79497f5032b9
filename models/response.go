package models

// APIResponse is the JSON envelope returned by every public endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// CreatePaymentData is the payload of a successful create-payment call.
type CreatePaymentData struct {
	ID        string `json:"id"`
	QRCode    string `json:"qr_code"`
	QRCodeURL string `json:"qr_code_url"`
	PixCode   string `json:"pix_code"`
	ExpiresAt string `json:"expires_at"`
	Status    string `json:"status"`
}

// CheckPaymentData is the payload of a successful check-payment call.
type CheckPaymentData struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	PaidAt    string `json:"paid_at,omitempty"`
	ExpiresAt string `json:"expires_at"`
}

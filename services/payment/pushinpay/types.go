package pushinpay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"pix-checkout-api/models"
	"pix-checkout-api/utils"
)

type createChargeRequest struct {
	Value         int    `json:"value"`
	PayerName     string `json:"payer_name"`
	PayerEmail    string `json:"payer_email"`
	PayerPhone    string `json:"payer_phone"`
	PayerDocument string `json:"payer_document"`
	Reference     string `json:"reference"`
	Description   string `json:"description"`
	ExpiresIn     int    `json:"expires_in"`
	WebhookURL    string `json:"webhook_url"`
}

// chargeFields lists every field name the provider has been seen to use.
type chargeFields struct {
	ID             utils.FlexString `json:"id"`
	PaymentID      utils.FlexString `json:"payment_id"`
	QRCode         utils.FlexString `json:"qr_code"`
	PixCode        utils.FlexString `json:"pix_code"`
	QRCodeURL      utils.FlexString `json:"qr_code_url"`
	QRCodeImage    utils.FlexString `json:"qr_code_image"`
	QRCodeBase64   utils.FlexString `json:"qr_code_base64"`
	ExpiresAt      utils.FlexString `json:"expires_at"`
	ExpirationDate utils.FlexString `json:"expiration_date"`
	Status         utils.FlexString `json:"status"`
	PaidAt         utils.FlexString `json:"paid_at"`
	PaymentDate    utils.FlexString `json:"payment_date"`
	Value          utils.FlexString `json:"value"`
	Message        utils.FlexString `json:"message"`
	Error          utils.FlexString `json:"error"`
}

type chargeEnvelope struct {
	chargeFields
	Data json.RawMessage `json:"data"`
}

// decodeChargeFields returns the top-level fields and, when "data" is an
// object, the nested ones.
func decodeChargeFields(body []byte) (top chargeFields, nested chargeFields, err error) {
	var env chargeEnvelope
	if err = json.Unmarshal(body, &env); err != nil {
		return top, nested, err
	}
	top = env.chargeFields
	if len(env.Data) > 0 && bytes.TrimSpace(env.Data)[0] == '{' {
		_ = json.Unmarshal(env.Data, &nested)
	}
	return top, nested, nil
}

func first(values ...utils.FlexString) string {
	for _, v := range values {
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}

// normalizeCharge folds synonym fields into one canonical Charge. issuedAt
// and expiresIn supply the expiry when the provider omits it.
func normalizeCharge(top, nested chargeFields, issuedAt time.Time, expiresIn time.Duration) models.Charge {
	charge := models.Charge{
		ID:        first(top.ID, top.PaymentID, nested.ID, nested.PaymentID),
		QRCode:    first(top.QRCode, top.PixCode, nested.QRCode, nested.PixCode),
		PixCode:   first(top.PixCode, top.QRCode, nested.PixCode, nested.QRCode),
		QRCodeURL: first(top.QRCodeURL, top.QRCodeImage, top.QRCodeBase64, nested.QRCodeURL, nested.QRCodeImage, nested.QRCodeBase64),
		Status:    models.NormalizeChargeStatus(first(top.Status, nested.Status)),
	}

	if v := first(top.Value, nested.Value); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			charge.Value = n
		}
	}

	if t, ok := utils.ParseProviderTime(first(top.ExpiresAt, top.ExpirationDate, nested.ExpiresAt, nested.ExpirationDate)); ok {
		charge.ExpiresAt = t
	} else if !issuedAt.IsZero() && expiresIn > 0 {
		charge.ExpiresAt = issuedAt.Add(expiresIn).UTC()
	}

	if t, ok := utils.ParseProviderTime(first(top.PaidAt, top.PaymentDate, nested.PaidAt, nested.PaymentDate)); ok {
		charge.PaidAt = &t
	}

	return charge
}

func providerMessage(body []byte) string {
	top, nested, err := decodeChargeFields(body)
	if err != nil {
		return ""
	}
	return first(top.Message, top.Error, nested.Message, nested.Error)
}

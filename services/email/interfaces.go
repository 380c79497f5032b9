package email

import "pix-checkout-api/models"

type EmailSender interface {
	SendEmail(to, subject, body string) error
	SendPaymentConfirmation(order *models.OrderRecord) error
}

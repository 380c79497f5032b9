package email

import (
	"bytes"
	"fmt"
	"html/template"

	"pix-checkout-api/models"
	"pix-checkout-api/utils"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
    <meta charset="UTF-8">
    <title>Pagamento confirmado</title>
</head>
<body style="margin: 0; padding: 0; background-color: #f9fafb; font-family: Arial, sans-serif;">
    <table role="presentation" cellspacing="0" cellpadding="0" border="0" width="100%" style="background-color: #f9fafb;">
        <tr>
            <td align="center" style="padding: 40px 20px;">
                <table role="presentation" width="600" style="background-color: #ffffff; border-radius: 12px; padding: 32px;">
                    <tr>
                        <td>
                            <h2 style="color: #111827;">Olá, {{.Name}}!</h2>
                            <p style="color: #374151;">Recebemos o seu pagamento PIX de <strong>{{.Total}}</strong>.</p>
                            <p style="color: #374151;">Pedido: {{.Reference}}</p>
                            {{if .Items}}<p style="color: #374151;">Bônus incluídos:</p>
                            <ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>{{end}}
                            <p style="color: #6b7280; font-size: 12px;">Guarde este e-mail como comprovante.</p>
                        </td>
                    </tr>
                </table>
            </td>
        </tr>
    </table>
</body>
</html>`))

type confirmationView struct {
	Name      string
	Total     string
	Reference string
	Items     []string
}

// RenderPaymentConfirmation renders the HTML body sent once an order is paid.
func RenderPaymentConfirmation(order *models.OrderRecord) (string, error) {
	var buf bytes.Buffer
	err := confirmationTemplate.Execute(&buf, confirmationView{
		Name:      order.Name,
		Total:     utils.FormatBRL(order.Total),
		Reference: order.Reference,
		Items:     order.OrderBumps,
	})
	if err != nil {
		return "", fmt.Errorf("render confirmation email: %w", err)
	}
	return buf.String(), nil
}

func confirmationSubject(order *models.OrderRecord) string {
	if order.Kind == models.OrderKindUpsell {
		return "Seu Curso Completo está liberado"
	}
	return "Pagamento confirmado: Desvendando a Bíblia"
}

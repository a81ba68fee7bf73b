package notify

import (
	"bytes"
	"text/template"

	"carrental-backend/internal/domain"
)

type messageTemplate struct {
	title *template.Template
	body  *template.Template
}

func mustTemplate(eventType domain.EventType, title, body string) messageTemplate {
	return messageTemplate{
		title: template.Must(template.New(string(eventType) + ".title").Option("missingkey=zero").Parse(title)),
		body:  template.Must(template.New(string(eventType) + ".body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[domain.EventType]messageTemplate{
	domain.EventBookingCreated: mustTemplate(domain.EventBookingCreated,
		"Booking #{{.booking_id}} received",
		"Complete the payment of {{.total}} {{.currency}} before {{.hold_expires_at}} to keep the vehicle."),
	domain.EventBookingExpired: mustTemplate(domain.EventBookingExpired,
		"Booking #{{.booking_id}} expired",
		"The payment window closed before we received your payment. The vehicle has been released."),
	domain.EventBookingCancelled: mustTemplate(domain.EventBookingCancelled,
		"Booking #{{.booking_id}} cancelled",
		"Your booking was cancelled{{if .reason}} ({{.reason}}){{end}}."),
	domain.EventPaymentSucceeded: mustTemplate(domain.EventPaymentSucceeded,
		"Payment received",
		"Booking #{{.booking_id}} is confirmed. Your trust score is now {{.trust_score}}."),
	domain.EventPaymentFailed: mustTemplate(domain.EventPaymentFailed,
		"Payment failed",
		"We could not process the payment for booking #{{.booking_id}}. You can retry before the hold expires."),
	domain.EventRentalStarted: mustTemplate(domain.EventRentalStarted,
		"Rental started",
		"Enjoy your trip. Please return the vehicle by {{.scheduled_end}}."),
	domain.EventRentalCompleted: mustTemplate(domain.EventRentalCompleted,
		"Vehicle returned",
		"Thanks for returning the vehicle for booking #{{.booking_id}}."),
	domain.EventSettlementReady: mustTemplate(domain.EventSettlementReady,
		"Settlement ready",
		"Booking #{{.booking_id}}: overtime {{.overtime_fee}}, damage {{.damage_charge}}, deposit refund {{.deposit_refund}}{{if ne .additional_payment \"0\"}}, amount due {{.additional_payment}}{{end}}."),
	domain.EventRefundProcessed: mustTemplate(domain.EventRefundProcessed,
		"Deposit refunded",
		"{{.amount}} has been refunded for booking #{{.booking_id}}{{if .reference}} (ref {{.reference}}){{end}}."),
	domain.EventRefundFailed: mustTemplate(domain.EventRefundFailed,
		"Refund delayed",
		"We could not refund the deposit for booking #{{.booking_id}} yet. Our staff will follow up."),
}

// Render produces the title and body shown to the customer. Unknown events
// fall back to the event name.
func Render(eventType domain.EventType, payload map[string]string) (string, string) {
	t, ok := templates[eventType]
	if !ok {
		return string(eventType), ""
	}
	data := payload
	if data == nil {
		data = map[string]string{}
	}
	return execute(t.title, data, string(eventType)), execute(t.body, data, "")
}

func execute(t *template.Template, data map[string]string, fallback string) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fallback
	}
	return buf.String()
}

package notify

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type mailClient interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// EmailSink mails the notification through SendGrid.
type EmailSink struct {
	client    mailClient
	fromEmail string
	fromName  string
}

func NewEmailSink(apiKey, fromEmail, fromName string) *EmailSink {
	return &EmailSink{
		client:    sendgrid.NewSendClient(apiKey),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *EmailSink) Name() string { return "sendgrid" }

func (s *EmailSink) Deliver(ctx context.Context, msg Message) error {
	if msg.Customer == nil || msg.Customer.Email == "" {
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.Customer.Name, msg.Customer.Email)
	htmlContent := fmt.Sprintf("<p>%s</p>", html.EscapeString(msg.Body))
	email := mail.NewSingleEmail(from, msg.Title, to, msg.Body, htmlContent)

	response, err := s.client.Send(email)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}
	return nil
}

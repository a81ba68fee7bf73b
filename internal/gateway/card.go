package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"

	"github.com/google/uuid"
)

const (
	cardSignatureHeader = "X-Signature"
	maxBodyBytes        = 1 << 20
)

type CardConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Timeout       time.Duration
}

// CardGateway talks to a hosted-checkout card processor over JSON REST.
type CardGateway struct {
	cfg    CardConfig
	client *http.Client
}

func NewCardGateway(cfg CardConfig) *CardGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CardGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (g *CardGateway) Method() domain.PaymentMethod { return domain.PaymentMethodCard }

func (g *CardGateway) SupportsAutomaticRefund() bool { return true }

type cardSessionRequest struct {
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	SuccessURL        string            `json:"success_url"`
	CancelURL         string            `json:"cancel_url"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type cardSessionResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type cardRefundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

type cardRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type cardError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (g *CardGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	body := cardSessionRequest{
		Amount:            req.Amount,
		Currency:          strings.ToLower(req.Currency),
		SuccessURL:        firstNonEmpty(req.SuccessURL, g.cfg.SuccessURL),
		CancelURL:         firstNonEmpty(req.CancelURL, g.cfg.CancelURL),
		ClientReferenceID: strconv.FormatInt(req.BookingID, 10),
		Metadata:          withBookingID(req.Metadata, req.BookingID),
	}

	var out cardSessionResponse
	logger.ExternalServiceCall("card", "CreateCheckout", "bookingID", req.BookingID, "amount", req.Amount)
	err := g.post(ctx, "/v1/checkout/sessions", uuid.NewString(), body, &out)
	logger.ExternalServiceResult("card", "CreateCheckout", err, "bookingID", req.BookingID, "sessionID", out.ID)
	if err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("card gateway: checkout session %s has no url", out.ID)
	}
	return out.URL, nil
}

func (g *CardGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	var out cardRefundResponse
	logger.ExternalServiceCall("card", "Refund", "bookingID", req.BookingID, "amount", req.Amount)
	err := g.post(ctx, "/v1/refunds", key, cardRefundRequest{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
	}, &out)
	logger.ExternalServiceResult("card", "Refund", err, "bookingID", req.BookingID, "refundID", out.ID)
	if err != nil {
		return "", err
	}
	if out.Status == "failed" {
		return "", fmt.Errorf("card gateway: refund %s failed", out.ID)
	}
	return out.ID, nil
}

func (g *CardGateway) post(ctx context.Context, path, idempotencyKey string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("card gateway: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("card gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("card gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("card gateway: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr cardError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("card gateway: %s (%s, status %d)", apiErr.Error.Message, apiErr.Error.Code, resp.StatusCode)
		}
		return fmt.Errorf("card gateway: unexpected status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("card gateway: decode response: %w", err)
	}
	return nil
}

type cardWebhook struct {
	Type string `json:"type"`
	Data struct {
		TransactionID string            `json:"transaction_id"`
		Amount        int64             `json:"amount"`
		Currency      string            `json:"currency"`
		Metadata      map[string]string `json:"metadata"`
	} `json:"data"`
}

func (g *CardGateway) ParseWebhook(r *http.Request) (*WebhookEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMalformedWebhook, err)
	}
	if err := VerifyBody([]byte(g.cfg.WebhookSecret), body, r.Header.Get(cardSignatureHeader)); err != nil {
		return nil, err
	}

	var hook cardWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	bookingID, err := strconv.ParseInt(hook.Data.Metadata["booking_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: booking_id metadata", ErrMalformedWebhook)
	}

	ev := &WebhookEvent{
		BookingID:     bookingID,
		TransactionID: hook.Data.TransactionID,
		Amount:        hook.Data.Amount,
		Payload:       json.RawMessage(body),
	}
	switch hook.Type {
	case "payment.succeeded":
		ev.Kind = EventPaymentSucceeded
		if ev.TransactionID == "" {
			return nil, fmt.Errorf("%w: transaction_id", ErrMalformedWebhook)
		}
	case "payment.failed":
		ev.Kind = EventPaymentFailed
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedWebhook, hook.Type)
	}
	return ev, nil
}

func withBookingID(md map[string]string, bookingID int64) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out["booking_id"] = strconv.FormatInt(bookingID, 10)
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

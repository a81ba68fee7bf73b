package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"

	"github.com/google/uuid"
)

const (
	qrHashParam     = "secure_hash"
	qrHashTypeParam = "secure_hash_type"
	qrSuccessCode   = "00"
)

type QRConfig struct {
	PayURL       string
	MerchantCode string
	HashSecret   string
	ReturnURL    string
}

// QRGateway builds signed redirect URLs for a bank QR payment page and
// verifies its IPN callbacks. The provider has no refund API, so deposits
// paid by QR are returned by staff and confirmed with a manual proof.
type QRGateway struct {
	cfg QRConfig
	now func() time.Time
}

func NewQRGateway(cfg QRConfig) *QRGateway {
	return &QRGateway{cfg: cfg, now: time.Now}
}

func (g *QRGateway) Method() domain.PaymentMethod { return domain.PaymentMethodQR }

func (g *QRGateway) SupportsAutomaticRefund() bool { return false }

func (g *QRGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (string, error) {
	u, err := url.Parse(g.cfg.PayURL)
	if err != nil {
		return "", fmt.Errorf("qr gateway: pay url: %w", err)
	}

	params := url.Values{}
	params.Set("merchant", g.cfg.MerchantCode)
	params.Set("order_ref", strconv.FormatInt(req.BookingID, 10))
	params.Set("txn_ref", uuid.NewString())
	params.Set("amount", strconv.FormatInt(req.Amount, 10))
	params.Set("currency", req.Currency)
	params.Set("return_url", firstNonEmpty(req.SuccessURL, g.cfg.ReturnURL))
	params.Set("created_at", g.now().UTC().Format("20060102150405"))

	canonical := CanonicalQuery(params)
	u.RawQuery = canonical + "&" + qrHashTypeParam + "=HMACSHA512&" + qrHashParam + "=" + SignCanonical(g.cfg.HashSecret, canonical)

	logger.ExternalServiceCall("qr", "CreateCheckout", "bookingID", req.BookingID, "amount", req.Amount)
	logger.ExternalServiceResult("qr", "CreateCheckout", nil, "bookingID", req.BookingID)
	return u.String(), nil
}

func (g *QRGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	return "", ErrRefundUnsupported
}

// ParseWebhook accepts the IPN as query parameters (GET) or a form body
// (POST).
func (g *QRGateway) ParseWebhook(r *http.Request) (*WebhookEvent, error) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	}
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	params := r.Form

	canonical := CanonicalQuery(params, qrHashParam, qrHashTypeParam)
	if err := verifyCanonical(g.cfg.HashSecret, canonical, params.Get(qrHashParam)); err != nil {
		return nil, err
	}

	bookingID, err := strconv.ParseInt(params.Get("order_ref"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: order_ref", ErrMalformedWebhook)
	}
	amount, err := strconv.ParseInt(params.Get("amount"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: amount", ErrMalformedWebhook)
	}

	flat := make(map[string]string, len(params))
	for k := range params {
		flat[k] = params.Get(k)
	}
	payload, err := json.Marshal(flat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	ev := &WebhookEvent{
		Kind:          EventPaymentFailed,
		BookingID:     bookingID,
		TransactionID: params.Get("transaction_no"),
		Amount:        amount,
		Payload:       payload,
	}
	if params.Get("response_code") == qrSuccessCode {
		if ev.TransactionID == "" {
			return nil, fmt.Errorf("%w: transaction_no", ErrMalformedWebhook)
		}
		ev.Kind = EventPaymentSucceeded
	}
	return ev, nil
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/gateway"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/service"

	"github.com/gorilla/mux"
)

const contractTimeout = 30 * time.Second

// PaymentEvents is the part of the booking service driven by gateway webhooks.
type PaymentEvents interface {
	ConfirmPayment(ctx context.Context, c service.PaymentConfirmation) (*service.ConfirmResult, error)
	RecordPaymentFailure(ctx context.Context, bookingID int64, payload json.RawMessage) error
}

type webhookResponse struct {
	BookingID int64  `json:"booking_id"`
	Status    string `json:"status"`
}

// WebhookHandler receives payment gateway callbacks. Every request passes the
// gateway's signature check before the booking engine sees it.
type WebhookHandler struct {
	gateways  *gateway.Registry
	bookings  PaymentEvents
	contracts service.ContractGenerator
	wg        sync.WaitGroup
}

func NewWebhookHandler(gateways *gateway.Registry, bookings PaymentEvents, contracts service.ContractGenerator) *WebhookHandler {
	return &WebhookHandler{
		gateways:  gateways,
		bookings:  bookings,
		contracts: contracts,
	}
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	method := domain.PaymentMethod(mux.Vars(r)["method"])
	gw, err := h.gateways.Get(method)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}

	ev, err := gw.ParseWebhook(r)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			logger.Warn("Webhook signature rejected", "method", method, "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
			return
		}
		logger.Warn("Malformed webhook", "method", method, "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	log := logger.WithBooking(ev.BookingID)
	log.Info("Webhook received", "method", method, "kind", ev.Kind, "transactionID", ev.TransactionID)

	switch ev.Kind {
	case gateway.EventPaymentSucceeded:
		h.paymentSucceeded(w, r.Context(), ev)
	case gateway.EventPaymentFailed:
		if err := h.bookings.RecordPaymentFailure(r.Context(), ev.BookingID, ev.Payload); err != nil {
			log.Error("Payment failure webhook not applied", "error", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, webhookResponse{BookingID: ev.BookingID, Status: "recorded"})
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unsupported event"})
	}
}

func (h *WebhookHandler) paymentSucceeded(w http.ResponseWriter, ctx context.Context, ev *gateway.WebhookEvent) {
	log := logger.WithBooking(ev.BookingID)

	res, err := h.bookings.ConfirmPayment(ctx, service.PaymentConfirmation{
		BookingID:     ev.BookingID,
		TransactionID: ev.TransactionID,
		Amount:        ev.Amount,
		Payload:       ev.Payload,
	})
	if err != nil {
		log.Error("Payment webhook not applied", "error", err)
		writeError(w, err)
		return
	}

	if res.Outcome == domain.OutcomeApplied && h.contracts != nil {
		h.generateContract(res)
	}
	writeJSON(w, http.StatusOK, webhookResponse{BookingID: ev.BookingID, Status: res.Outcome.String()})
}

// generateContract runs after the response so a slow store never delays the
// gateway. A failure is logged; the booking stays confirmed.
func (h *WebhookHandler) generateContract(res *service.ConfirmResult) {
	b, p := res.Booking, res.Payment
	snapshot := service.PaymentSnapshot{
		Amount:   p.Amount,
		Currency: p.Currency,
		Method:   p.Method,
		PaidAt:   time.Now(),
	}
	if p.TransactionID != nil {
		snapshot.TransactionID = *p.TransactionID
	}
	if p.PaidAt != nil {
		snapshot.PaidAt = *p.PaidAt
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), contractTimeout)
		defer cancel()

		key, err := h.contracts.GenerateAndStore(ctx, b.ID, b.CustomerID, b.VehicleID, snapshot)
		if err != nil {
			logger.WithBooking(b.ID).Error("Contract generation failed", "error", err)
			return
		}
		logger.WithBooking(b.ID).Info("Contract stored", "key", key)
	}()
}

// Wait blocks until background contract generation has finished.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

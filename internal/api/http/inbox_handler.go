package http

import (
	"net/http"
	"strconv"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/service"

	"github.com/gorilla/mux"
)

type inboxPage struct {
	Notifications []domain.Notification `json:"notifications"`
	Total         int32                 `json:"total"`
	Page          int32                 `json:"page"`
}

// InboxHandler lets a customer read the notifications the websocket pushed
// while they were offline.
type InboxHandler struct {
	inbox service.NotificationInbox
}

func NewInboxHandler(inbox service.NotificationInbox) *InboxHandler {
	return &InboxHandler{inbox: inbox}
}

func (h *InboxHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "customer id is required"})
		return
	}
	page := queryInt32(r, "page", 1)
	notes, total, err := h.inbox.List(r.Context(), id, page, queryInt32(r, "page_size", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, inboxPage{Notifications: notes, Total: total, Page: page})
}

func (h *InboxHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "customer id is required"})
		return
	}
	noteID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err := h.inbox.MarkAsRead(r.Context(), id, noteID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt32(r *http.Request, name string, def int32) int32 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 32)
	if err != nil {
		return def
	}
	return int32(v)
}

package notify

import (
	"context"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/repository"
)

// InboxSink stores the notification so the customer can read it later.
type InboxSink struct {
	repo repository.NotificationRepository
}

func NewInboxSink(repo repository.NotificationRepository) *InboxSink {
	return &InboxSink{repo: repo}
}

func (s *InboxSink) Name() string { return "inbox" }

func (s *InboxSink) Deliver(ctx context.Context, msg Message) error {
	return s.repo.Create(ctx, &domain.Notification{
		CustomerID: msg.CustomerID,
		EventType:  msg.EventType,
		Title:      msg.Title,
		Message:    msg.Body,
		Attributes: msg.Payload,
	})
}

package service

import (
	"context"
	"fmt"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
	"carrental-backend/internal/repository"
)

const maxInboxPageSize = 100

// NotificationInbox reads the persisted notifications of a customer.
type NotificationInbox interface {
	List(ctx context.Context, customerID int64, page, pageSize int32) ([]domain.Notification, int32, error)
	MarkAsRead(ctx context.Context, customerID, notificationID int64) error
}

type notificationInbox struct {
	noteRepo repository.NotificationRepository
}

func NewNotificationInbox(noteRepo repository.NotificationRepository) NotificationInbox {
	return &notificationInbox{noteRepo: noteRepo}
}

// List returns one page, newest first, and the total count.
func (s *notificationInbox) List(ctx context.Context, customerID int64, page, pageSize int32) ([]domain.Notification, int32, error) {
	if customerID <= 0 {
		return nil, 0, fmt.Errorf("%w: customer id", domain.ErrMissingField)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxInboxPageSize {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	notes, total, err := s.noteRepo.List(ctx, customerID, pageSize, offset)
	if err != nil {
		logger.Error("Failed to list notifications", "customerID", customerID, "error", err)
		return nil, 0, err
	}
	return notes, total, nil
}

func (s *notificationInbox) MarkAsRead(ctx context.Context, customerID, notificationID int64) error {
	return s.noteRepo.MarkAsRead(ctx, notificationID, customerID)
}

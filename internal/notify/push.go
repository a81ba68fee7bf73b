package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"carrental-backend/internal/logger"
)

type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushSink sends the notification to the customer's device through
// Firebase Cloud Messaging.
type PushSink struct {
	client messagingClient
}

func NewPushSink(ctx context.Context, credentialsFile string) (*PushSink, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	logger.Info("Firebase Cloud Messaging initialized")
	return &PushSink{client: client}, nil
}

func (s *PushSink) Name() string { return "fcm" }

func (s *PushSink) Deliver(ctx context.Context, msg Message) error {
	if msg.Customer == nil || msg.Customer.PushToken == "" {
		return nil
	}

	data := make(map[string]string, len(msg.Payload)+1)
	for k, v := range msg.Payload {
		data[k] = v
	}
	data["event_type"] = string(msg.EventType)

	_, err := s.client.Send(ctx, &messaging.Message{
		Token: msg.Customer.PushToken,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "bookings",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	return nil
}

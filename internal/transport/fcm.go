package transport

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

// PushTransport delivers transition notifications to the student's
// registered devices through Firebase Cloud Messaging.
type PushTransport struct {
	client *messaging.Client
	logger *zap.Logger
}

// NewPushTransport initializes the FCM client from a service account
// credentials file.
func NewPushTransport(ctx context.Context, credentialsFile string, logger *zap.Logger) (*PushTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}

	return &PushTransport{client: client, logger: logger}, nil
}

// Channel identifies this transport.
func (t *PushTransport) Channel() models.NotificationChannel { return models.ChannelPush }

// Send pushes the payload to all registered device tokens. Unregistered
// tokens are logged and skipped rather than failing the whole dispatch;
// anything else from FCM is treated as transient.
func (t *PushTransport) Send(ctx context.Context, recipient *models.NotificationRecipient, payload models.NotificationPayload) error {
	if len(recipient.DeviceTokens) == 0 {
		t.logger.Debug("no device tokens, skipping push")
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: recipient.DeviceTokens,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}

	resp, err := t.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return Transient(fmt.Errorf("fcm multicast: %w", err))
	}

	for i, result := range resp.Responses {
		if result.Error == nil {
			continue
		}
		if messaging.IsUnregistered(result.Error) {
			t.logger.Warn("stale device token", zap.String("token", recipient.DeviceTokens[i]))
			continue
		}
		return Transient(fmt.Errorf("fcm delivery: %w", result.Error))
	}

	return nil
}

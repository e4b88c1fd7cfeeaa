package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

// EmailTransport delivers transition notifications over SendGrid to the
// student and, when assigned, the advisor.
type EmailTransport struct {
	client *sendgrid.Client
	from   *mail.Email
	logger *zap.Logger
}

// NewEmailTransport builds a SendGrid-backed email transport.
func NewEmailTransport(apiKey, fromEmail, fromName string, logger *zap.Logger) *EmailTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailTransport{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromEmail),
		logger: logger,
	}
}

// Channel identifies this transport.
func (t *EmailTransport) Channel() models.NotificationChannel { return models.ChannelEmail }

// Send emails every addressable recipient. Provider 5xx responses are
// transient; 4xx responses are permanent since resending the same
// request cannot succeed.
func (t *EmailTransport) Send(ctx context.Context, recipient *models.NotificationRecipient, payload models.NotificationPayload) error {
	addresses := make([]string, 0, 2)
	if recipient.StudentEmail != "" {
		addresses = append(addresses, recipient.StudentEmail)
	}
	if recipient.AdvisorEmail != "" {
		addresses = append(addresses, recipient.AdvisorEmail)
	}
	if len(addresses) == 0 {
		t.logger.Debug("no email recipients, skipping")
		return nil
	}

	for _, addr := range addresses {
		message := mail.NewSingleEmail(t.from, payload.Title, mail.NewEmail("", addr), payload.Body, "")
		resp, err := t.client.SendWithContext(ctx, message)
		if err != nil {
			return Transient(fmt.Errorf("sendgrid send: %w", err))
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return Transient(fmt.Errorf("sendgrid responded %d", resp.StatusCode))
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("sendgrid rejected message: %d %s", resp.StatusCode, resp.Body)
		}
	}

	return nil
}

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/coop-approval-api/internal/models"
)

// Transport delivers a payload to the recipients reachable on one
// channel. Implementations classify failures as transient or permanent
// so the dispatcher knows whether a retry can help.
type Transport interface {
	Channel() models.NotificationChannel
	Send(ctx context.Context, recipient *models.NotificationRecipient, payload models.NotificationPayload) error
}

// TransientError marks a delivery failure worth retrying, such as a
// provider 5xx or a timeout.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether a delivery error may succeed on retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

package models

import "time"

// NotificationChannel identifies a delivery channel.
type NotificationChannel string

// Supported delivery channels.
const (
	ChannelPush  NotificationChannel = "push"
	ChannelEmail NotificationChannel = "email"
)

// NotificationOutcome is the terminal state of one dispatch attempt.
type NotificationOutcome string

// Dispatch outcomes.
const (
	OutcomePending NotificationOutcome = "pending"
	OutcomeSent    NotificationOutcome = "sent"
	OutcomeFailed  NotificationOutcome = "failed"
)

// NotificationPayload is the channel-agnostic message content derived
// from a committed transition.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NotificationJob tracks one dispatch attempt on one channel. Jobs are
// ephemeral and retained only in the dispatcher's bounded log.
type NotificationJob struct {
	EnrollmentID string              `json:"enrollment_id"`
	Channel      NotificationChannel `json:"channel"`
	Payload      NotificationPayload `json:"payload"`
	Attempt      int                 `json:"attempt"`
	Outcome      NotificationOutcome `json:"outcome"`
	Error        string              `json:"error,omitempty"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// NotificationRecipient holds the delivery targets for one enrollment's
// watchers, resolved from the identity collaborator.
type NotificationRecipient struct {
	StudentEmail string   `db:"student_email"`
	AdvisorEmail string   `db:"advisor_email"`
	DeviceTokens []string `db:"-"`
}

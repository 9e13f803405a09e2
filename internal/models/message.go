package models

import (
	"time"
)

// Status is the lifecycle state of a scheduled message. Transitions are
// one-directional: pending -> attempting -> sent, attempting -> pending
// (retry), attempting -> failed, pending -> canceled. sent, failed and
// canceled are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAttempting Status = "attempting"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCanceled
}

// SenderType classifies who a message is posted as.
type SenderType string

const (
	SenderUser SenderType = "user"
	SenderBot  SenderType = "bot"
)

// ValidSenderType reports whether s is one of the closed sender set.
func ValidSenderType(s SenderType) bool {
	return s == SenderUser || s == SenderBot
}

type ScheduledMessage struct {
	ID            string     `json:"id"`
	ChannelID     string     `json:"channelId"`
	Body          string     `json:"body"`
	Sender        SenderType `json:"sender"`
	CreatedBy     string     `json:"createdBy"`
	Status        Status     `json:"status"`
	PostAt        time.Time  `json:"postAt"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	AttemptCount  int        `json:"attemptCount"`
	ExternalID    *string    `json:"externalId,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`

	// workspaceToken is the bearer token used at delivery time. Unexported
	// so it never serializes into API responses.
	workspaceToken string
}

// WorkspaceToken returns the delivery bearer token captured at scheduling
// time.
func (m *ScheduledMessage) WorkspaceToken() string {
	return m.workspaceToken
}

// SetWorkspaceToken attaches the delivery bearer token.
func (m *ScheduledMessage) SetWorkspaceToken(token string) {
	m.workspaceToken = token
}

// Due reports whether the message is eligible for a delivery attempt at now:
// still pending, target time elapsed, and not parked for a retry backoff.
func (m *ScheduledMessage) Due(now time.Time) bool {
	if m.Status != StatusPending {
		return false
	}
	at := m.PostAt
	if m.NextAttemptAt != nil && m.NextAttemptAt.After(at) {
		at = *m.NextAttemptAt
	}
	return !at.After(now)
}

// Channel is read-only reference data supplied by the workspace API.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies the side effect a pending action proposes
type ActionKind string

const (
	ActionReplyEmail  ActionKind = "reply_email"
	ActionCreateEvent ActionKind = "create_event"
)

// ActionStatus is the resolution state of a pending action.
// Expiry is a derived predicate (IsExpired), not a status.
type ActionStatus string

const (
	ActionPending  ActionStatus = "pending"
	ActionApproved ActionStatus = "approved"
	ActionRejected ActionStatus = "rejected"
)

// PendingAction represents a proposed side effect awaiting operator approval
type PendingAction struct {
	ID         string
	Kind       ActionKind
	Payload    map[string]string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Status     ActionStatus
	Response   string    // verbatim text of the resolving reply
	ResolvedAt time.Time // zero until resolved
}

// NewPendingAction creates a pending action with a fresh id and a fixed expiry
func NewPendingAction(kind ActionKind, payload map[string]string, ttl time.Duration) *PendingAction {
	now := time.Now()
	return &PendingAction{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    ActionPending,
	}
}

// IsExpired checks if the action's approval window has passed
func (a *PendingAction) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}

// Approve transitions pending→approved. Returns false without state change
// if the action is expired or already resolved.
func (a *PendingAction) Approve(response string) bool {
	return a.resolve(ActionApproved, response)
}

// Reject transitions pending→rejected. Returns false without state change
// if the action is expired or already resolved.
func (a *PendingAction) Reject(response string) bool {
	return a.resolve(ActionRejected, response)
}

func (a *PendingAction) resolve(status ActionStatus, response string) bool {
	if a.Status != ActionPending || a.IsExpired() {
		return false
	}
	a.Status = status
	a.Response = response
	a.ResolvedAt = time.Now()
	return true
}

// ShortID returns the id prefix shown to the operator in approval requests
func (a *PendingAction) ShortID() string {
	if len(a.ID) <= 8 {
		return a.ID
	}
	return a.ID[:8]
}

// Summary returns a human-readable one-line description of the action
func (a *PendingAction) Summary() string {
	switch a.Kind {
	case ActionReplyEmail:
		return fmt.Sprintf("Reply to email from %s: %s",
			payloadOr(a.Payload, "sender", "Unknown"),
			payloadOr(a.Payload, "subject", "No subject"))
	case ActionCreateEvent:
		return fmt.Sprintf("Create calendar event: %s at %s",
			payloadOr(a.Payload, "title", "Untitled"),
			payloadOr(a.Payload, "start_time", "Unknown time"))
	default:
		return fmt.Sprintf("%s: %s", a.Kind, payloadOr(a.Payload, "description", "No description"))
	}
}

// Clone returns a deep copy so callers cannot mutate stored state
func (a *PendingAction) Clone() *PendingAction {
	c := *a
	if a.Payload != nil {
		c.Payload = make(map[string]string, len(a.Payload))
		for k, v := range a.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

func payloadOr(payload map[string]string, key, fallback string) string {
	if v, ok := payload[key]; ok && v != "" {
		return v
	}
	return fallback
}

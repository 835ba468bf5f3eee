// Package audit records an append-only trail of every change made to an
// exception request.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
)

// Action is the kind of mutation an entry records. Values are persisted.
type Action string

const (
	ActionCreated       Action = "created"
	ActionUpdated       Action = "updated"
	ActionDeleted       Action = "deleted"
	ActionStatusChanged Action = "status_changed"
)

// Changes is the structured before/after diff stored with an entry.
type Changes map[string]any

// FieldChange is the before/after pair for one edited field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// StatusChange builds the diff for a status_changed entry.
func StatusChange(oldStatus, newStatus string) Changes {
	return Changes{"old_status": oldStatus, "new_status": newStatus}
}

// Entry is one immutable audit record. RequestID is a historical reference
// and may point at a request that has since been deleted.
type Entry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	ActorID   string    `json:"actor_id"`
	Action    Action    `json:"action"`
	Changes   Changes   `json:"changes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists entries. Implementations must join the caller's
// transaction when the context carries one.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByRequest(ctx context.Context, requestID string) ([]*Entry, error)
}

// Log is the only writer of audit entries. There is no update or delete.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog creates a Log backed by store. A nil clock defaults to time.Now.
func NewLog(store Store, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{store: store, now: now}
}

// Record appends an entry for requestID.
func (l *Log) Record(ctx context.Context, requestID, actorID string, action Action, changes Changes) (*Entry, error) {
	if requestID == "" {
		return nil, errors.InvalidInput("request_id", "request id is required")
	}
	entry := &Entry{
		ID:        uuid.NewString(),
		RequestID: requestID,
		ActorID:   actorID,
		Action:    action,
		Changes:   changes,
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.Append(ctx, entry); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to record audit entry")
	}
	return entry, nil
}

// ListFor returns the trail for a request, oldest first.
func (l *Log) ListFor(ctx context.Context, requestID string) ([]*Entry, error) {
	return l.store.ListByRequest(ctx, requestID)
}

package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/database"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
)

// AuditRepository appends and reads immutable exception audit log entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has an update/delete-prevention
// trigger so this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *audit.Entry) error {
	var changesJSON []byte
	if entry.Changes != nil {
		var err error
		changesJSON, err = json.Marshal(entry.Changes)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit changes")
		}
	}

	query := `
		INSERT INTO exception_audit_log
		    (id, request_id, actor_id, action, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.RequestID,
		entry.ActorID,
		string(entry.Action),
		changesJSON,
		entry.CreatedAt,
	); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ListByRequest returns the full audit trail for a request ordered oldest-first.
func (r *AuditRepository) ListByRequest(ctx context.Context, requestID string) ([]*audit.Entry, error) {
	query := `
		SELECT id, request_id, actor_id, action, changes, created_at
		FROM exception_audit_log
		WHERE request_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*audit.Entry, error) {
	entries := make([]*audit.Entry, 0)
	for rows.Next() {
		entry, err := r.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return entries, nil
}

type auditScanner interface {
	Scan(dest ...any) error
}

func (r *AuditRepository) scanEntry(sc auditScanner) (*audit.Entry, error) {
	entry := &audit.Entry{}
	var (
		action      string
		changesJSON []byte
	)

	err := sc.Scan(
		&entry.ID,
		&entry.RequestID,
		&entry.ActorID,
		&action,
		&changesJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
	}
	entry.Action = audit.Action(action)

	if changesJSON != nil {
		if err := json.Unmarshal(changesJSON, &entry.Changes); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit changes")
		}
	}

	return entry, nil
}

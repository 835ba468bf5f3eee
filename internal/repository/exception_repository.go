package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/database"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
)

// ErrVersionConflict is returned when a compare-and-swap loses to a
// concurrent writer.
var ErrVersionConflict = errors.New(errors.ErrCodeConflict, "request was modified concurrently")

// ExceptionRepository persists exception requests in Postgres. Every update
// goes through CASUpdate, which only writes when the stored version matches.
type ExceptionRepository struct {
	db *database.DB
}

// NewExceptionRepository creates a new ExceptionRepository.
func NewExceptionRepository(db *database.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

const exceptionColumns = `
	id, request_type, residual_risk, status,
	required_roles, decisions,
	title, description, justification, mitigations,
	submitted_by, submitter_email, submitted_at,
	expiry_date, version, updated_at
`

// Create inserts a new request at version 1.
func (r *ExceptionRepository) Create(ctx context.Context, req *ExceptionRequest) error {
	decisionsJSON, err := json.Marshal(decisionsOrEmpty(req.Decisions))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal decisions")
	}

	query := `
		INSERT INTO exception_requests
		    (id, request_type, residual_risk, status,
		     required_roles, decisions,
		     title, description, justification, mitigations,
		     submitted_by, submitter_email, submitted_at,
		     expiry_date, version)
		VALUES ($1, $2, $3, $4,
		        $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13,
		        $14, 1)
		RETURNING version, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		req.ID,
		string(req.Type),
		string(req.ResidualRisk),
		string(req.Status),
		rolesToStrings(req.RequiredRoles),
		decisionsJSON,
		req.Title,
		req.Description,
		req.Justification,
		req.Mitigations,
		req.SubmittedBy,
		req.SubmitterEmail,
		req.SubmittedAt,
		req.ExpiryDate,
	).Scan(&req.Version, &req.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create exception request")
	}
	return nil
}

// Get retrieves a request by id.
func (r *ExceptionRepository) Get(ctx context.Context, id string) (*ExceptionRequest, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exception_requests WHERE id = $1`

	req, err := scanException(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("exception_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get exception request")
	}
	return req, nil
}

// CASUpdate applies mutate to the stored request if its version still equals
// expectedVersion. The row is locked for the duration of the transaction; a
// version mismatch returns ErrVersionConflict and an error from mutate aborts
// without writing. Only mutable columns are written.
func (r *ExceptionRepository) CASUpdate(
	ctx context.Context,
	id string,
	expectedVersion int64,
	mutate func(req *ExceptionRequest) error,
) (*ExceptionRequest, error) {
	var updated *ExceptionRequest

	err := r.db.RunInTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + exceptionColumns + ` FROM exception_requests WHERE id = $1 FOR UPDATE`
		current, err := scanException(r.db.QueryRow(ctx, query, id))
		if err == pgx.ErrNoRows {
			return errors.NotFound("exception_request", id)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to load exception request")
		}
		if current.Version != expectedVersion {
			return ErrVersionConflict
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return err
		}

		decisionsJSON, err := json.Marshal(decisionsOrEmpty(next.Decisions))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal decisions")
		}

		update := `
			UPDATE exception_requests
			SET residual_risk   = $3,
			    status          = $4,
			    required_roles  = $5,
			    decisions       = $6,
			    title           = $7,
			    description     = $8,
			    justification   = $9,
			    mitigations     = $10,
			    submitter_email = $11,
			    expiry_date     = $12,
			    version         = version + 1,
			    updated_at      = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`
		err = r.db.QueryRow(ctx, update,
			id,
			expectedVersion,
			string(next.ResidualRisk),
			string(next.Status),
			rolesToStrings(next.RequiredRoles),
			decisionsJSON,
			next.Title,
			next.Description,
			next.Justification,
			next.Mitigations,
			next.SubmitterEmail,
			next.ExpiryDate,
		).Scan(&next.Version, &next.UpdatedAt)
		if err == pgx.ErrNoRows {
			return ErrVersionConflict
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update exception request")
		}

		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete hard-deletes a request if its version still equals expectedVersion.
// Audit rows are untouched.
func (r *ExceptionRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM exception_requests WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete exception request")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM exception_requests WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check exception request")
	}
	if !exists {
		return errors.NotFound("exception_request", id)
	}
	return ErrVersionConflict
}

// List returns requests matching filter, newest submission first.
func (r *ExceptionRepository) List(ctx context.Context, filter Filter) ([]*ExceptionRequest, error) {
	query := `SELECT ` + exceptionColumns + ` FROM exception_requests WHERE 1 = 1`

	args := []interface{}{}
	argCount := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.Type != nil {
		query += fmt.Sprintf(" AND request_type = $%d", argCount)
		args = append(args, string(*filter.Type))
		argCount++
	}

	if filter.SubmittedBy != "" {
		query += fmt.Sprintf(" AND submitted_by = $%d", argCount)
		args = append(args, filter.SubmittedBy)
		argCount++
	}

	if filter.ExpiringAfter != nil {
		query += fmt.Sprintf(" AND expiry_date > $%d", argCount)
		args = append(args, *filter.ExpiringAfter)
		argCount++
	}

	if filter.ExpiringBefore != nil {
		query += fmt.Sprintf(" AND expiry_date <= $%d", argCount)
		args = append(args, *filter.ExpiringBefore)
		argCount++
	}

	query += " ORDER BY submitted_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list exception requests")
	}
	defer rows.Close()

	requests := make([]*ExceptionRequest, 0)
	for rows.Next() {
		req, err := scanException(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan exception request")
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list exception requests")
	}
	return requests, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type exceptionScanner interface {
	Scan(dest ...any) error
}

func scanException(row exceptionScanner) (*ExceptionRequest, error) {
	req := &ExceptionRequest{}
	var (
		requestType   string
		residualRisk  string
		status        string
		requiredRoles []string
		decisionsJSON []byte
		expiryDate    *time.Time
	)

	err := row.Scan(
		&req.ID,
		&requestType,
		&residualRisk,
		&status,
		&requiredRoles,
		&decisionsJSON,
		&req.Title,
		&req.Description,
		&req.Justification,
		&req.Mitigations,
		&req.SubmittedBy,
		&req.SubmitterEmail,
		&req.SubmittedAt,
		&expiryDate,
		&req.Version,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	req.Type = policy.RequestType(requestType)
	req.ResidualRisk = policy.RiskLevel(residualRisk)
	req.Status = Status(status)
	req.RequiredRoles = make([]policy.ApproverRole, 0, len(requiredRoles))
	for _, role := range requiredRoles {
		req.RequiredRoles = append(req.RequiredRoles, policy.ApproverRole(role))
	}
	req.ExpiryDate = expiryDate

	if len(decisionsJSON) > 0 {
		if err := json.Unmarshal(decisionsJSON, &req.Decisions); err != nil {
			return nil, fmt.Errorf("unmarshal decisions: %w", err)
		}
	}
	return req, nil
}

func rolesToStrings(roles []policy.ApproverRole) []string {
	out := make([]string, len(roles))
	for i, role := range roles {
		out[i] = string(role)
	}
	return out
}

func decisionsOrEmpty(d []Decision) []Decision {
	if d == nil {
		return []Decision{}
	}
	return d
}

package repository

import (
	"context"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/database"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
)

// RoleAssignmentRepository reads and writes approver role grants.
type RoleAssignmentRepository struct {
	db *database.DB
}

// NewRoleAssignmentRepository creates a new RoleAssignmentRepository.
func NewRoleAssignmentRepository(db *database.DB) *RoleAssignmentRepository {
	return &RoleAssignmentRepository{db: db}
}

// Assign grants role to a user. Re-granting refreshes the email.
func (r *RoleAssignmentRepository) Assign(ctx context.Context, a RoleAssignment) error {
	query := `
		INSERT INTO role_assignments (user_id, email, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role) DO UPDATE SET email = EXCLUDED.email
	`
	if _, err := r.db.Exec(ctx, query, a.UserID, a.Email, string(a.Role)); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to assign role")
	}
	return nil
}

// UsersWithRole returns every user holding role, ordered by user id.
func (r *RoleAssignmentRepository) UsersWithRole(ctx context.Context, role policy.ApproverRole) ([]RoleAssignment, error) {
	query := `
		SELECT user_id, email, role
		FROM role_assignments
		WHERE role = $1
		ORDER BY user_id
	`

	rows, err := r.db.Query(ctx, query, string(role))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list role assignments")
	}
	defer rows.Close()

	assignments := make([]RoleAssignment, 0)
	for rows.Next() {
		var (
			a       RoleAssignment
			roleStr string
		)
		if err := rows.Scan(&a.UserID, &a.Email, &roleStr); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan role assignment")
		}
		a.Role = policy.ApproverRole(roleStr)
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list role assignments")
	}
	return assignments, nil
}

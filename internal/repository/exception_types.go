package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
)

// ── Domain types for exception requests ──────────────────────────────────────

// Status is the lifecycle state of an exception request. Values are persisted.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusInProcess Status = "in_process"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// ParseStatus validates untrusted input.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAssigned, StatusInProcess, StatusApproved, StatusRejected:
		return Status(s), nil
	}
	return "", errors.InvalidInput("status", fmt.Sprintf("unknown status %q", s))
}

// Terminal reports whether no transition may leave this status.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Decision is one approver's verdict for a required role.
type Decision struct {
	Role       policy.ApproverRole `json:"role"`
	ApproverID string              `json:"approver_id"`
	Outcome    policy.Outcome      `json:"outcome"`
	DecidedAt  time.Time           `json:"decided_at"`
	Comment    string              `json:"comment,omitempty"`
}

// ExceptionRequest is a request to deviate from policy. Decisions are kept in
// approval order with at most one entry per role.
type ExceptionRequest struct {
	ID             string
	Type           policy.RequestType
	ResidualRisk   policy.RiskLevel
	Status         Status
	RequiredRoles  []policy.ApproverRole
	Decisions      []Decision
	Title          string
	Description    string
	Justification  string
	Mitigations    string
	SubmittedBy    string
	SubmitterEmail string
	SubmittedAt    time.Time
	ExpiryDate     *time.Time
	Version        int64
	UpdatedAt      time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (r *ExceptionRequest) Clone() *ExceptionRequest {
	c := *r
	c.RequiredRoles = append([]policy.ApproverRole(nil), r.RequiredRoles...)
	c.Decisions = append([]Decision(nil), r.Decisions...)
	if r.ExpiryDate != nil {
		d := *r.ExpiryDate
		c.ExpiryDate = &d
	}
	return &c
}

// DecisionFor returns the decision recorded for role, if any.
func (r *ExceptionRequest) DecisionFor(role policy.ApproverRole) (Decision, bool) {
	for _, d := range r.Decisions {
		if d.Role == role {
			return d, true
		}
	}
	return Decision{}, false
}

// RequiresRole reports whether role is in the request's routing.
func (r *ExceptionRequest) RequiresRole(role policy.ApproverRole) bool {
	for _, rr := range r.RequiredRoles {
		if rr == role {
			return true
		}
	}
	return false
}

// NextRole returns the first required role without a decision.
func (r *ExceptionRequest) NextRole() (policy.ApproverRole, bool) {
	for _, role := range r.RequiredRoles {
		if _, ok := r.DecisionFor(role); !ok {
			return role, true
		}
	}
	return "", false
}

// Expired is derived on read and never changes Status.
func (r *ExceptionRequest) Expired(now time.Time) bool {
	return r.Status == StatusApproved && r.ExpiryDate != nil && now.After(*r.ExpiryDate)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status         *Status
	Type           *policy.RequestType
	SubmittedBy    string
	ExpiringAfter  *time.Time
	ExpiringBefore *time.Time
	Limit          int
	Offset         int
}

// RoleAssignment grants an approver role to a user.
type RoleAssignment struct {
	UserID string
	Email  string
	Role   policy.ApproverRole
}

// ParseRoleAssignments reads grants written as comma-separated
// role:user_id:email triples, e.g.
// "cro:u-7:cro@example.com,qmr_approver:u-9:qa@example.com".
func ParseRoleAssignments(s string) ([]RoleAssignment, error) {
	var out []RoleAssignment
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, errors.InvalidInput("role_assignments",
				fmt.Sprintf("grant %q must be role:user_id:email", entry))
		}
		role, err := policy.ParseApproverRole(parts[0])
		if err != nil {
			return nil, err
		}
		out = append(out, RoleAssignment{UserID: parts[1], Email: parts[2], Role: role})
	}
	return out, nil
}

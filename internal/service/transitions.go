package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
)

// transition describes one applied change: the audit entry to write and the
// status movement, if any.
type transition struct {
	action  audit.Action
	changes audit.Changes
	from    repository.Status
	to      repository.Status
}

// ── Assign ────────────────────────────────────────────────────────────────────

func applyAssign(req *repository.ExceptionRequest, actor Identity) (*transition, error) {
	if req.Status != repository.StatusPending {
		return nil, errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("request cannot be assigned from status '%s'", req.Status))
	}
	if req.SubmittedBy != actor.ActorID && !actor.Admin {
		return nil, errors.New(errors.ErrCodeUnauthorized, "only the submitter can route the request")
	}
	if len(req.RequiredRoles) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidState, "request has no required approver roles")
	}

	req.Status = repository.StatusAssigned
	changes := audit.StatusChange(string(repository.StatusPending), string(repository.StatusAssigned))
	changes["required_roles"] = rolesToStrings(req.RequiredRoles)

	return &transition{
		action:  audit.ActionStatusChanged,
		changes: changes,
		from:    repository.StatusPending,
		to:      repository.StatusAssigned,
	}, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecideInput is one approver's verdict for one role.
type DecideInput struct {
	Role    policy.ApproverRole
	Outcome policy.Outcome
	Comment string
}

// applyDecision validates and applies a decision against the snapshot in req.
// Checks run in a fixed order so racing callers observe stable errors: state,
// role membership, actor grant, duplicate, then sequence.
func applyDecision(req *repository.ExceptionRequest, actor Identity, in DecideInput, now time.Time) (*transition, error) {
	if req.Status != repository.StatusAssigned && req.Status != repository.StatusInProcess {
		return nil, errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("request cannot be decided in status '%s'", req.Status))
	}
	if !req.RequiresRole(in.Role) {
		return nil, errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("role '%s' is not required for this request", in.Role))
	}
	if !actor.HasRole(in.Role) {
		return nil, errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("actor does not hold role '%s'", in.Role))
	}
	if _, decided := req.DecisionFor(in.Role); decided {
		return nil, errors.New(errors.ErrCodeAlreadyDecided,
			fmt.Sprintf("role '%s' has already decided", in.Role))
	}
	if next, ok := req.NextRole(); !ok || next != in.Role {
		return nil, errors.New(errors.ErrCodeUnauthorized,
			fmt.Sprintf("role '%s' must decide before '%s'", next, in.Role))
	}

	decision := repository.Decision{
		Role:       in.Role,
		ApproverID: actor.ActorID,
		Outcome:    in.Outcome,
		DecidedAt:  now,
		Comment:    in.Comment,
	}
	req.Decisions = append(req.Decisions, decision)

	from := req.Status
	switch {
	case in.Outcome == policy.OutcomeReject:
		req.Status = repository.StatusRejected
	case len(req.Decisions) == len(req.RequiredRoles):
		req.Status = repository.StatusApproved
		expiry := policy.ComputeExpiry(req.ResidualRisk, now)
		req.ExpiryDate = &expiry
	default:
		req.Status = repository.StatusInProcess
	}

	summary := map[string]any{
		"role":        string(decision.Role),
		"approver_id": decision.ApproverID,
		"outcome":     string(decision.Outcome),
	}
	if decision.Comment != "" {
		summary["comment"] = decision.Comment
	}

	if from == req.Status {
		return &transition{
			action:  audit.ActionUpdated,
			changes: audit.Changes{"decision": summary},
			from:    from,
			to:      req.Status,
		}, nil
	}

	changes := audit.StatusChange(string(from), string(req.Status))
	changes["decision"] = summary
	if req.ExpiryDate != nil {
		changes["expiry_date"] = req.ExpiryDate.Format(time.RFC3339)
	}
	return &transition{
		action:  audit.ActionStatusChanged,
		changes: changes,
		from:    from,
		to:      req.Status,
	}, nil
}

// ── Edit ──────────────────────────────────────────────────────────────────────

// EditInput carries the owner-editable fields. Nil means unchanged.
type EditInput struct {
	Title         *string
	Description   *string
	Justification *string
	Mitigations   *string
	ResidualRisk  *policy.RiskLevel
}

func applyEdit(req *repository.ExceptionRequest, actor Identity, in EditInput) (*transition, error) {
	if req.Status != repository.StatusPending {
		return nil, errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("request cannot be edited in status '%s'", req.Status))
	}
	if req.SubmittedBy != actor.ActorID {
		return nil, errors.New(errors.ErrCodeUnauthorized, "only the submitter can edit the request")
	}

	changes := audit.Changes{}
	setText := func(field string, dst *string, src *string) {
		if src == nil || *src == *dst {
			return
		}
		changes[field] = audit.FieldChange{Old: *dst, New: *src}
		*dst = *src
	}

	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, errors.InvalidInput("title", "title cannot be empty")
	}
	setText("title", &req.Title, in.Title)
	setText("description", &req.Description, in.Description)
	setText("justification", &req.Justification, in.Justification)
	setText("mitigations", &req.Mitigations, in.Mitigations)

	if in.ResidualRisk != nil && *in.ResidualRisk != req.ResidualRisk {
		if _, err := policy.ParseRiskLevel(string(*in.ResidualRisk)); err != nil {
			return nil, err
		}
		oldRoles := rolesToStrings(req.RequiredRoles)
		changes["residual_risk"] = audit.FieldChange{Old: string(req.ResidualRisk), New: string(*in.ResidualRisk)}
		req.ResidualRisk = *in.ResidualRisk
		// Not yet routed, so routing follows the declared risk.
		req.RequiredRoles = policy.Resolve(req.Type, req.ResidualRisk)
		changes["required_roles"] = audit.FieldChange{Old: oldRoles, New: rolesToStrings(req.RequiredRoles)}
	}

	if len(changes) == 0 {
		return nil, errors.InvalidInput("body", "no changes supplied")
	}

	return &transition{
		action:  audit.ActionUpdated,
		changes: changes,
		from:    req.Status,
		to:      req.Status,
	}, nil
}

func rolesToStrings(roles []policy.ApproverRole) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// Package policy holds the routing and expiry rules for exception requests.
// Everything here is pure: no I/O, no clocks.
package policy

import (
	"fmt"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
)

// RequestType is the discipline an exception request deviates from.
type RequestType string

const (
	TypeCyber            RequestType = "cyber"
	TypeLegal            RequestType = "legal"
	TypeIndependence     RequestType = "independence"
	TypeQMR              RequestType = "qmr"
	TypeClientAcceptance RequestType = "clientAcceptance"
	TypeEngagementRisk   RequestType = "engagementRisk"
	TypeAuditFinding     RequestType = "auditFinding"
	TypeData             RequestType = "data"
	TypeAI               RequestType = "ai"
)

// AllRequestTypes lists every request type in catalog order.
var AllRequestTypes = []RequestType{
	TypeCyber,
	TypeLegal,
	TypeIndependence,
	TypeQMR,
	TypeClientAcceptance,
	TypeEngagementRisk,
	TypeAuditFinding,
	TypeData,
	TypeAI,
}

// ParseRequestType validates untrusted input.
func ParseRequestType(s string) (RequestType, error) {
	for _, t := range AllRequestTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", errors.InvalidInput("type", fmt.Sprintf("unknown request type %q", s))
}

// RiskLevel is the residual risk declared by the submitter.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AllRiskLevels lists risk levels from lowest to highest.
var AllRiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// ParseRiskLevel validates untrusted input.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", errors.InvalidInput("residual_risk", fmt.Sprintf("unknown residual risk %q", s))
}

// RequiresCRO reports whether requests at this level need CRO sign-off.
func (r RiskLevel) RequiresCRO() bool {
	return r == RiskMedium || r == RiskHigh
}

// ApproverRole is a role that may act on a request.
type ApproverRole string

const (
	RoleCyber            ApproverRole = "cyber_approver"
	RoleCIO              ApproverRole = "cio_approver"
	RoleLegal            ApproverRole = "legal_approver"
	RoleIndependence     ApproverRole = "independence_approver"
	RoleQMR              ApproverRole = "qmr_approver"
	RoleClientAcceptance ApproverRole = "clientAcceptance_approver"
	RoleEngagementRisk   ApproverRole = "engagementRisk_approver"
	RoleAuditFinding     ApproverRole = "auditFinding_approver"
	RoleData             ApproverRole = "data_approver"
	RoleAI               ApproverRole = "ai_approver"
	RoleCRO              ApproverRole = "cro_approver"
)

var allRoles = []ApproverRole{
	RoleCyber,
	RoleCIO,
	RoleLegal,
	RoleIndependence,
	RoleQMR,
	RoleClientAcceptance,
	RoleEngagementRisk,
	RoleAuditFinding,
	RoleData,
	RoleAI,
	RoleCRO,
}

// ParseApproverRole validates untrusted input.
func ParseApproverRole(s string) (ApproverRole, error) {
	for _, r := range allRoles {
		if string(r) == s {
			return r, nil
		}
	}
	return "", errors.InvalidInput("role", fmt.Sprintf("unknown approver role %q", s))
}

// Outcome is an approver's verdict.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

// ParseOutcome validates untrusted input.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeApprove, OutcomeReject:
		return Outcome(s), nil
	}
	return "", errors.InvalidInput("outcome", fmt.Sprintf("unknown outcome %q", s))
}

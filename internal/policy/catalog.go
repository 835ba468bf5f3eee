package policy

import "fmt"

// disciplineRoles returns the discipline approvers for a request type in the
// order they must act. Adding a RequestType without a case here panics on
// first use.
func disciplineRoles(t RequestType) []ApproverRole {
	switch t {
	case TypeCyber:
		return []ApproverRole{RoleCyber, RoleCIO}
	case TypeLegal:
		return []ApproverRole{RoleLegal}
	case TypeIndependence:
		return []ApproverRole{RoleIndependence}
	case TypeQMR:
		return []ApproverRole{RoleQMR}
	case TypeClientAcceptance:
		return []ApproverRole{RoleClientAcceptance}
	case TypeEngagementRisk:
		return []ApproverRole{RoleEngagementRisk}
	case TypeAuditFinding:
		return []ApproverRole{RoleAuditFinding}
	case TypeData:
		return []ApproverRole{RoleData}
	case TypeAI:
		return []ApproverRole{RoleAI}
	}
	panic(fmt.Sprintf("policy: no approver roles for request type %q", t))
}

// Resolve returns the ordered approver roles for a request. Discipline roles
// come first; cro_approver is appended for medium and high residual risk.
// Unknown types are a programming error; validate input with
// ParseRequestType first.
func Resolve(t RequestType, risk RiskLevel) []ApproverRole {
	roles := disciplineRoles(t)
	if risk.RequiresCRO() {
		roles = append(roles, RoleCRO)
	}
	return roles
}

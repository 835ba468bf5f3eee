package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
)

func TestResolveLowRiskNeverIncludesCRO(t *testing.T) {
	for _, typ := range AllRequestTypes {
		roles := Resolve(typ, RiskLow)
		assert.NotEmpty(t, roles, typ)
		assert.NotContains(t, roles, RoleCRO, typ)
	}
}

func TestResolveMediumAndHighEndWithCRO(t *testing.T) {
	for _, typ := range AllRequestTypes {
		for _, risk := range []RiskLevel{RiskMedium, RiskHigh} {
			roles := Resolve(typ, risk)
			require.NotEmpty(t, roles)
			assert.Equal(t, RoleCRO, roles[len(roles)-1], "%s/%s", typ, risk)

			cro := 0
			for _, r := range roles {
				if r == RoleCRO {
					cro++
				}
			}
			assert.Equal(t, 1, cro, "%s/%s", typ, risk)
		}
	}
}

func TestResolveDisciplineRoleCount(t *testing.T) {
	for _, typ := range AllRequestTypes {
		n := len(Resolve(typ, RiskLow))
		assert.True(t, n == 1 || n == 2, "%s has %d discipline roles", typ, n)
	}
}

func TestResolveCyberHigh(t *testing.T) {
	assert.Equal(t,
		[]ApproverRole{RoleCyber, RoleCIO, RoleCRO},
		Resolve(TypeCyber, RiskHigh))
}

func TestResolveQMRLow(t *testing.T) {
	assert.Equal(t, []ApproverRole{RoleQMR}, Resolve(TypeQMR, RiskLow))
}

func TestResolveReturnsFreshSlice(t *testing.T) {
	first := Resolve(TypeCyber, RiskLow)
	first[0] = RoleCRO
	assert.Equal(t, RoleCyber, Resolve(TypeCyber, RiskLow)[0])
}

func TestResolveUnknownTypePanics(t *testing.T) {
	assert.Panics(t, func() { Resolve(RequestType("payroll"), RiskLow) })
}

func TestParseRequestType(t *testing.T) {
	typ, err := ParseRequestType("clientAcceptance")
	require.NoError(t, err)
	assert.Equal(t, TypeClientAcceptance, typ)

	_, err = ParseRequestType("payroll")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestParseRiskLevelAndOutcome(t *testing.T) {
	_, err := ParseRiskLevel("extreme")
	assert.Error(t, err)
	_, err = ParseOutcome("abstain")
	assert.Error(t, err)
	_, err = ParseApproverRole("cfo_approver")
	assert.Error(t, err)

	role, err := ParseApproverRole("cio_approver")
	require.NoError(t, err)
	assert.Equal(t, RoleCIO, role)
}

func TestComputeExpiry(t *testing.T) {
	approvedAt := time.Date(2025, 3, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		risk RiskLevel
		want time.Time
	}{
		{RiskHigh, time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)},
		{RiskMedium, time.Date(2025, 9, 15, 9, 30, 0, 0, time.UTC)},
		{RiskLow, time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeExpiry(tt.risk, approvedAt))
		})
	}
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		months int
		want   time.Time
	}{
		{"into leap february", time.Date(2023, 8, 31, 0, 0, 0, 0, time.UTC), 6, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"into common february", time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC), 6, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"leap day plus a year", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC), 12, time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)},
		{"thirty day month", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 3, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC), 3, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"no clamp needed", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 12, time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddMonths(tt.from, tt.months))
		})
	}
}

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
	"github.com/pesio-ai/be-risk-exceptions/internal/service/mocks"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []sentMail
}

func (g *recordingGateway) Notify(_ context.Context, to, subject, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

// drain returns and clears everything sent so far.
func (g *recordingGateway) drain() []sentMail {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.sent
	g.sent = nil
	return out
}

func recipientsOf(mails []sentMail) []string {
	out := make([]string, len(mails))
	for i, m := range mails {
		out[i] = m.To
	}
	return out
}

func TestNotificationsFollowTheApprovalChain(t *testing.T) {
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockRoleDirectory(ctrl)
	gateway := &recordingGateway{}

	directory.EXPECT().UsersWithRole(gomock.Any(), policy.RoleCyber).
		Return([]repository.RoleAssignment{{UserID: "u-cyber", Email: "cyber@example.com", Role: policy.RoleCyber}}, nil)
	directory.EXPECT().UsersWithRole(gomock.Any(), policy.RoleCIO).
		Return([]repository.RoleAssignment{{UserID: "u-cio", Email: "cio@example.com", Role: policy.RoleCIO}}, nil)
	directory.EXPECT().UsersWithRole(gomock.Any(), policy.RoleCRO).
		Return([]repository.RoleAssignment{
			{UserID: "u-cro", Email: "cro@example.com", Role: policy.RoleCRO},
			{UserID: "u-cro-deputy", Email: "", Role: policy.RoleCRO},
		}, nil)

	f := newFixture(t, nil, gateway, directory)

	req := f.submit(t, policy.TypeCyber, policy.RiskHigh)
	f.engine.WaitForNotifications()
	assert.ElementsMatch(t, []string{"owner@example.com", "cyber@example.com"}, recipientsOf(gateway.drain()))

	_, err := f.decide(req.ID, cyber, policy.RoleCyber, policy.OutcomeApprove)
	require.NoError(t, err)
	f.engine.WaitForNotifications()
	assert.Equal(t, []string{"cio@example.com"}, recipientsOf(gateway.drain()))

	_, err = f.decide(req.ID, cio, policy.RoleCIO, policy.OutcomeApprove)
	require.NoError(t, err)
	f.engine.WaitForNotifications()
	assert.Equal(t, []string{"cro@example.com"}, recipientsOf(gateway.drain()))

	_, err = f.decide(req.ID, cro, policy.RoleCRO, policy.OutcomeApprove)
	require.NoError(t, err)
	f.engine.WaitForNotifications()
	sent := gateway.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, "owner@example.com", sent[0].To)
	assert.Contains(t, sent[0].Subject, "approved")
	assert.Contains(t, sent[0].Body, "2025-06-15")
}

func TestRejectionNotifiesOwnerWithComment(t *testing.T) {
	gateway := &recordingGateway{}
	f := newFixture(t, nil, gateway, nil)

	req := f.submit(t, policy.TypeIndependence, policy.RiskLow)
	f.engine.WaitForNotifications()
	gateway.drain()

	independence := Identity{ActorID: "u-ind", GrantedRoles: []policy.ApproverRole{policy.RoleIndependence}}
	_, err := f.engine.Decide(context.Background(), req.ID, independence, DecideInput{
		Role: policy.RoleIndependence, Outcome: policy.OutcomeReject, Comment: "conflict of interest with audit client",
	})
	require.NoError(t, err)
	f.engine.WaitForNotifications()

	sent := gateway.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, "owner@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "independence_approver")
	assert.Contains(t, sent[0].Body, "conflict of interest")
}

func TestNotificationFailuresDoNotFailTransitions(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mocks.NewMockNotificationGateway(ctrl)
	directory := repository.NewMemoryRoleDirectory(
		repository.RoleAssignment{UserID: "u-qmr", Email: "qmr@example.com", Role: policy.RoleQMR},
	)

	gateway.EXPECT().
		Notify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(fmt.Errorf("smtp relay unavailable")).
		Times(3)

	f := newFixture(t, nil, gateway, directory)

	req := f.submit(t, policy.TypeQMR, policy.RiskLow)
	f.engine.WaitForNotifications()
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.NotificationFailures))

	view, err := f.decide(req.ID, qmr, policy.RoleQMR, policy.OutcomeApprove)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, view.Status)

	f.engine.WaitForNotifications()
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.NotificationFailures))
}

func TestDirectoryErrorStillNotifiesOwner(t *testing.T) {
	ctrl := gomock.NewController(t)
	directory := mocks.NewMockRoleDirectory(ctrl)
	gateway := &recordingGateway{}

	directory.EXPECT().
		UsersWithRole(gomock.Any(), policy.RoleData).
		Return(nil, fmt.Errorf("connection refused"))

	f := newFixture(t, nil, gateway, directory)
	f.submit(t, policy.TypeData, policy.RiskLow)
	f.engine.WaitForNotifications()

	assert.Equal(t, []string{"owner@example.com"}, recipientsOf(gateway.drain()))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationFailures))
}

func TestNotifyExpiring(t *testing.T) {
	gateway := &recordingGateway{}
	f := newFixture(t, nil, gateway, nil)

	expiring := f.submit(t, policy.TypeQMR, policy.RiskLow)
	_, err := f.decide(expiring.ID, qmr, policy.RoleQMR, policy.OutcomeApprove)
	require.NoError(t, err)

	// Approved a month later, so it expires a month later too.
	f.clock.Advance(31 * 24 * time.Hour)
	later := f.submit(t, policy.TypeQMR, policy.RiskLow)
	_, err = f.decide(later.ID, qmr, policy.RoleQMR, policy.OutcomeApprove)
	require.NoError(t, err)

	rejected := f.submit(t, policy.TypeQMR, policy.RiskLow)
	_, err = f.decide(rejected.ID, qmr, policy.RoleQMR, policy.OutcomeReject)
	require.NoError(t, err)

	f.engine.WaitForNotifications()
	gateway.drain()

	// 2026-03-05: ten days before the first expiry.
	f.clock.Set(time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC))

	n, err := f.engine.NotifyExpiring(context.Background(), 14*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.engine.WaitForNotifications()
	sent := gateway.drain()
	require.Len(t, sent, 1)
	assert.Equal(t, "owner@example.com", sent[0].To)
	assert.True(t, strings.HasPrefix(sent[0].Subject, "Exception approval expiring"))
	assert.Contains(t, sent[0].Body, expiring.ID)
	assert.Contains(t, sent[0].Body, "2026-03-15")

	// Already expired requests are not reminded again.
	f.clock.Set(time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC))
	n, err = f.engine.NotifyExpiring(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Expiry never changes status.
	view, err := f.engine.Get(context.Background(), expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusApproved, view.Status)
	assert.True(t, view.Expired)
}

func TestRunExpirySweeperStopsWithContext(t *testing.T) {
	f := newFixture(t, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.RunExpirySweeper(ctx, 5*time.Millisecond, time.Hour) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

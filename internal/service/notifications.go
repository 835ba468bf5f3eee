package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pesio-ai/be-risk-exceptions/internal/metrics"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
)

// message is one email to send. Exactly one of Email or Role is set: role
// messages fan out to every holder found in the directory.
type message struct {
	Email   string
	Role    policy.ApproverRole
	Subject string
	Body    string
}

// dispatcher sends notifications off the request path. Failures are logged
// with the request id and counted, never returned.
type dispatcher struct {
	gateway   NotificationGateway
	directory RoleDirectory
	timeout   time.Duration
	metrics   *metrics.Metrics
	log       *logger.Logger
	wg        sync.WaitGroup
}

func (d *dispatcher) dispatch(ctx context.Context, requestID string, msgs []message) {
	if d.gateway == nil || len(msgs) == 0 {
		return
	}

	// The caller's context ends with its request; delivery must not.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		for _, m := range msgs {
			for _, email := range d.recipients(ctx, requestID, m) {
				if err := d.gateway.Notify(ctx, email, m.Subject, m.Body); err != nil {
					d.metrics.NotificationFailures.Inc()
					d.log.Warn().Err(err).
						Str("request_id", requestID).
						Str("recipient", email).
						Msg("notification: dispatch failed (non-fatal)")
				}
			}
		}
	}()
}

func (d *dispatcher) recipients(ctx context.Context, requestID string, m message) []string {
	if m.Role == "" {
		if m.Email == "" {
			return nil
		}
		return []string{m.Email}
	}
	if d.directory == nil {
		return nil
	}

	users, err := d.directory.UsersWithRole(ctx, m.Role)
	if err != nil {
		d.metrics.NotificationFailures.Inc()
		d.log.Warn().Err(err).
			Str("request_id", requestID).
			Str("role", string(m.Role)).
			Msg("notification: could not resolve approvers for role")
		return nil
	}

	emails := make([]string, 0, len(users))
	for _, u := range users {
		if u.Email != "" {
			emails = append(emails, u.Email)
		}
	}
	return emails
}

func (d *dispatcher) wait() {
	d.wg.Wait()
}

// ── message builders ──────────────────────────────────────────────────────────

func awaitingApproval(req *repository.ExceptionRequest, role policy.ApproverRole) message {
	return message{
		Role:    role,
		Subject: fmt.Sprintf("Exception request awaiting %s: %s", role, req.Title),
		Body: fmt.Sprintf(
			"Exception request %s (%s, residual risk %s) submitted by %s requires a decision from %s.",
			req.ID, req.Type, req.ResidualRisk, req.SubmittedBy, role),
	}
}

// messagesFor returns the notifications owed when a request enters status to.
func messagesFor(req *repository.ExceptionRequest, to repository.Status) []message {
	owner := req.SubmitterEmail
	switch to {
	case repository.StatusAssigned:
		msgs := []message{{
			Email:   owner,
			Subject: fmt.Sprintf("Exception request routed: %s", req.Title),
			Body: fmt.Sprintf("Your exception request %s has been routed to %d approver role(s).",
				req.ID, len(req.RequiredRoles)),
		}}
		if next, ok := req.NextRole(); ok {
			msgs = append(msgs, awaitingApproval(req, next))
		}
		return msgs

	case repository.StatusInProcess:
		if next, ok := req.NextRole(); ok {
			return []message{awaitingApproval(req, next)}
		}
		return nil

	case repository.StatusApproved:
		expiry := ""
		if req.ExpiryDate != nil {
			expiry = req.ExpiryDate.Format("2006-01-02")
		}
		return []message{{
			Email:   owner,
			Subject: fmt.Sprintf("Exception request approved: %s", req.Title),
			Body:    fmt.Sprintf("Your exception request %s was approved and expires on %s.", req.ID, expiry),
		}}

	case repository.StatusRejected:
		body := fmt.Sprintf("Your exception request %s was rejected.", req.ID)
		if n := len(req.Decisions); n > 0 {
			last := req.Decisions[n-1]
			body = fmt.Sprintf("Your exception request %s was rejected by %s.", req.ID, last.Role)
			if last.Comment != "" {
				body += " Comment: " + last.Comment
			}
		}
		return []message{{
			Email:   owner,
			Subject: fmt.Sprintf("Exception request rejected: %s", req.Title),
			Body:    body,
		}}
	}
	return nil
}

func expiryReminder(req *repository.ExceptionRequest) message {
	return message{
		Email:   req.SubmitterEmail,
		Subject: fmt.Sprintf("Exception approval expiring: %s", req.Title),
		Body: fmt.Sprintf("The approval for exception request %s expires on %s. Submit a new request if the exception is still needed.",
			req.ID, req.ExpiryDate.Format("2006-01-02")),
	}
}

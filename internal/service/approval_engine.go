package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/metrics"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/logger"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
)

const (
	defaultMaxCASAttempts  = 3
	defaultDispatchTimeout = 10 * time.Second
)

// Options tunes an ApprovalEngine. Zero values take defaults.
type Options struct {
	MaxCASAttempts  int
	DispatchTimeout time.Duration
	Now             func() time.Time
}

// ApprovalEngine owns every transition of an exception request. It is the
// only writer of status, decisions and expiry date.
type ApprovalEngine struct {
	requests    RequestRepository
	auditLog    *audit.Log
	tx          Transactor
	notifier    *dispatcher
	metrics     *metrics.Metrics
	log         *logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
	maxAttempts int
}

// NewApprovalEngine creates a new ApprovalEngine.
func NewApprovalEngine(
	requests RequestRepository,
	auditLog *audit.Log,
	tx Transactor,
	directory RoleDirectory,
	gateway NotificationGateway,
	m *metrics.Metrics,
	log *logger.Logger,
	opts Options,
) *ApprovalEngine {
	if opts.MaxCASAttempts < 1 {
		opts.MaxCASAttempts = defaultMaxCASAttempts
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &ApprovalEngine{
		requests: requests,
		auditLog: auditLog,
		tx:       tx,
		notifier: &dispatcher{
			gateway:   gateway,
			directory: directory,
			timeout:   opts.DispatchTimeout,
			metrics:   m,
			log:       log,
		},
		metrics:     m,
		log:         log,
		tracer:      otel.Tracer("github.com/pesio-ai/be-risk-exceptions/internal/service"),
		now:         opts.Now,
		maxAttempts: opts.MaxCASAttempts,
	}
}

// RequestView is a request as read by callers, with the derived expiry flag.
type RequestView struct {
	*repository.ExceptionRequest
	Expired bool
}

// SubmitInput is a new exception request.
type SubmitInput struct {
	Type          policy.RequestType
	ResidualRisk  policy.RiskLevel
	Title         string
	Description   string
	Justification string
	Mitigations   string
	// Draft keeps the request pending so the owner can edit it before
	// routing it with Assign.
	Draft bool
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit creates a pending request with its approver roles resolved and,
// unless it is a draft, routes it to approvers straight away.
func (s *ApprovalEngine) Submit(ctx context.Context, actor Identity, in SubmitInput) (_ *RequestView, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalEngine.Submit")
	defer func() { s.finish(span, "submit", err) }()

	if actor.ActorID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor identity is required")
	}
	if _, err := policy.ParseRequestType(string(in.Type)); err != nil {
		return nil, err
	}
	if _, err := policy.ParseRiskLevel(string(in.ResidualRisk)); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, errors.InvalidInput("title", "title is required")
	}

	req := &repository.ExceptionRequest{
		ID:             uuid.NewString(),
		Type:           in.Type,
		ResidualRisk:   in.ResidualRisk,
		Status:         repository.StatusPending,
		RequiredRoles:  policy.Resolve(in.Type, in.ResidualRisk),
		Decisions:      []repository.Decision{},
		Title:          title,
		Description:    in.Description,
		Justification:  in.Justification,
		Mitigations:    in.Mitigations,
		SubmittedBy:    actor.ActorID,
		SubmitterEmail: actor.Email,
		SubmittedAt:    s.now().UTC(),
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	created := audit.Changes{
		"status":         string(req.Status),
		"type":           string(req.Type),
		"residual_risk":  string(req.ResidualRisk),
		"required_roles": rolesToStrings(req.RequiredRoles),
	}

	// A routed submission is created already assigned, so the row never
	// exists as pending without its routing entry.
	var routed *transition
	if !in.Draft {
		if routed, err = applyAssign(req, actor); err != nil {
			return nil, err
		}
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.requests.Create(ctx, req); err != nil {
			return err
		}
		if _, err := s.auditLog.Record(ctx, req.ID, actor.ActorID, audit.ActionCreated, created); err != nil {
			return err
		}
		if routed == nil {
			return nil
		}
		_, err := s.auditLog.Record(ctx, req.ID, actor.ActorID, routed.action, routed.changes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transitions.WithLabelValues(string(audit.ActionCreated), string(repository.StatusPending)).Inc()

	s.log.Info().
		Str("request_id", req.ID).
		Str("actor_id", actor.ActorID).
		Str("type", string(req.Type)).
		Str("residual_risk", string(req.ResidualRisk)).
		Int("required_roles", len(req.RequiredRoles)).
		Bool("draft", in.Draft).
		Msg("Exception request submitted")

	if routed != nil {
		s.metrics.Transitions.WithLabelValues(string(routed.action), string(routed.to)).Inc()
		s.afterTransition(ctx, req, actor, routed)
	}
	return s.view(req), nil
}

// ── Assign ────────────────────────────────────────────────────────────────────

// Assign routes a pending request to its approvers.
func (s *ApprovalEngine) Assign(ctx context.Context, id string, actor Identity) (_ *RequestView, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalEngine.Assign",
		trace.WithAttributes(attribute.String("request.id", id)))
	defer func() { s.finish(span, "assign", err) }()

	updated, tr, err := s.mutate(ctx, id, actor, func(req *repository.ExceptionRequest) (*transition, error) {
		return applyAssign(req, actor)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated, actor, tr)
	return s.view(updated), nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// Decide records actor's verdict for one required role. A rejection is
// terminal; approving the last role approves the request and stamps its
// expiry date.
func (s *ApprovalEngine) Decide(ctx context.Context, id string, actor Identity, in DecideInput) (_ *RequestView, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalEngine.Decide",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("decision.role", string(in.Role)),
			attribute.String("decision.outcome", string(in.Outcome)),
		))
	defer func() { s.finish(span, "decide", err) }()

	started := time.Now()
	defer func() { s.metrics.DecisionDuration.Observe(time.Since(started).Seconds()) }()

	if _, err := policy.ParseApproverRole(string(in.Role)); err != nil {
		return nil, err
	}
	if _, err := policy.ParseOutcome(string(in.Outcome)); err != nil {
		return nil, err
	}

	updated, tr, err := s.mutate(ctx, id, actor, func(req *repository.ExceptionRequest) (*transition, error) {
		return applyDecision(req, actor, in, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated, actor, tr)
	return s.view(updated), nil
}

// ── Edit ──────────────────────────────────────────────────────────────────────

// Edit changes the owner-editable fields of a pending request.
func (s *ApprovalEngine) Edit(ctx context.Context, id string, actor Identity, in EditInput) (_ *RequestView, err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalEngine.Edit",
		trace.WithAttributes(attribute.String("request.id", id)))
	defer func() { s.finish(span, "edit", err) }()

	updated, tr, err := s.mutate(ctx, id, actor, func(req *repository.ExceptionRequest) (*transition, error) {
		return applyEdit(req, actor, in)
	})
	if err != nil {
		return nil, err
	}

	s.afterTransition(ctx, updated, actor, tr)
	return s.view(updated), nil
}

// ── Delete ────────────────────────────────────────────────────────────────────

// Delete removes a request. Only the submitter or an administrator may
// delete. The row is removed only at the version the deleted audit entry
// describes, in the same transaction; the entry outlives the row.
func (s *ApprovalEngine) Delete(ctx context.Context, id string, actor Identity) (err error) {
	ctx, span := s.tracer.Start(ctx, "ApprovalEngine.Delete",
		trace.WithAttributes(attribute.String("request.id", id)))
	defer func() { s.finish(span, "delete", err) }()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.requests.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.SubmittedBy != actor.ActorID && !actor.Admin {
			return errors.New(errors.ErrCodeUnauthorized, "only the submitter or an administrator can delete the request")
		}

		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.requests.Delete(ctx, id, current.Version); err != nil {
				return err
			}
			_, err := s.auditLog.Record(ctx, id, actor.ActorID, audit.ActionDeleted, audit.Changes{
				"status":  string(current.Status),
				"type":    string(current.Type),
				"title":   current.Title,
				"version": current.Version,
			})
			return err
		})
		if err == nil {
			s.metrics.Transitions.WithLabelValues(string(audit.ActionDeleted), string(current.Status)).Inc()
			s.log.Info().
				Str("request_id", id).
				Str("actor_id", actor.ActorID).
				Bool("admin", actor.Admin).
				Int64("version", current.Version).
				Msg("Exception request deleted")
			return nil
		}
		if !errors.HasCode(err, errors.ErrCodeConflict) {
			return err
		}

		s.metrics.CASConflicts.Inc()
		s.log.Debug().
			Str("request_id", id).
			Int("attempt", attempt).
			Int64("expected_version", current.Version).
			Msg("Version conflict on delete; retrying")
	}

	s.metrics.CASExhausted.Inc()
	return errors.New(errors.ErrCodeConflict,
		"request was modified concurrently; reload and retry")
}

// ── Query helpers ─────────────────────────────────────────────────────────────

// Get returns a request with its derived expiry flag.
func (s *ApprovalEngine) Get(ctx context.Context, id string) (*RequestView, error) {
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(req), nil
}

// List returns requests matching filter.
func (s *ApprovalEngine) List(ctx context.Context, filter repository.Filter) ([]*RequestView, error) {
	reqs, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*RequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, s.view(req))
	}
	return views, nil
}

// AuditTrail returns every audit entry for a request, oldest first. It works
// for deleted requests too.
func (s *ApprovalEngine) AuditTrail(ctx context.Context, id string) ([]*audit.Entry, error) {
	return s.auditLog.ListFor(ctx, id)
}

// WaitForNotifications blocks until in-flight notification dispatches finish.
func (s *ApprovalEngine) WaitForNotifications() {
	s.notifier.wait()
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// mutate runs read-validate-write under compare-and-swap. The request and its
// audit entry are written in one transaction; a version conflict restarts
// from a fresh read, up to maxAttempts times.
func (s *ApprovalEngine) mutate(
	ctx context.Context,
	id string,
	actor Identity,
	apply func(req *repository.ExceptionRequest) (*transition, error),
) (*repository.ExceptionRequest, *transition, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.requests.Get(ctx, id)
		if err != nil {
			return nil, nil, err
		}

		var (
			updated *repository.ExceptionRequest
			tr      *transition
		)
		err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			updated, err = s.requests.CASUpdate(ctx, id, current.Version, func(req *repository.ExceptionRequest) error {
				t, err := apply(req)
				if err != nil {
					return err
				}
				tr = t
				return nil
			})
			if err != nil {
				return err
			}
			_, err = s.auditLog.Record(ctx, id, actor.ActorID, tr.action, tr.changes)
			return err
		})
		if err == nil {
			s.metrics.Transitions.WithLabelValues(string(tr.action), string(tr.to)).Inc()
			return updated, tr, nil
		}
		if !errors.HasCode(err, errors.ErrCodeConflict) {
			return nil, nil, err
		}

		s.metrics.CASConflicts.Inc()
		s.log.Debug().
			Str("request_id", id).
			Int("attempt", attempt).
			Int64("expected_version", current.Version).
			Msg("Version conflict; retrying")
	}

	s.metrics.CASExhausted.Inc()
	return nil, nil, errors.New(errors.ErrCodeConflict,
		"request was modified concurrently; reload and retry")
}

func (s *ApprovalEngine) afterTransition(ctx context.Context, req *repository.ExceptionRequest, actor Identity, tr *transition) {
	s.log.Info().
		Str("request_id", req.ID).
		Str("actor_id", actor.ActorID).
		Str("action", string(tr.action)).
		Str("from", string(tr.from)).
		Str("to", string(tr.to)).
		Int64("version", req.Version).
		Msg("Exception request updated")

	// Intermediate approvals keep status in_process but still hand over to
	// the next role.
	if tr.from != tr.to || tr.to == repository.StatusInProcess {
		s.notifier.dispatch(ctx, req.ID, messagesFor(req, tr.to))
	}
}

func (s *ApprovalEngine) view(req *repository.ExceptionRequest) *RequestView {
	return &RequestView{ExceptionRequest: req, Expired: req.Expired(s.now())}
}

func (s *ApprovalEngine) finish(span trace.Span, operation string, err error) {
	if err != nil {
		code := errors.CodeOf(err)
		s.metrics.Rejections.WithLabelValues(operation, string(code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(code))
	}
	span.End()
}

package service

import (
	"context"

	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/pesio-ai/be-risk-exceptions/internal/service NotificationGateway,RoleDirectory

// RequestRepository is the engine's view of request storage. CASUpdate must
// only apply mutate when the stored version equals expectedVersion and must
// return a CONFLICT error otherwise. Delete follows the same version rule.
type RequestRepository interface {
	Create(ctx context.Context, req *repository.ExceptionRequest) error
	Get(ctx context.Context, id string) (*repository.ExceptionRequest, error)
	CASUpdate(ctx context.Context, id string, expectedVersion int64, mutate func(req *repository.ExceptionRequest) error) (*repository.ExceptionRequest, error)
	Delete(ctx context.Context, id string, expectedVersion int64) error
	List(ctx context.Context, filter repository.Filter) ([]*repository.ExceptionRequest, error)
}

// Transactor runs fn as one unit of work. Repository calls made with the
// context passed to fn join it.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RoleDirectory resolves which users hold an approver role, for addressing
// notifications.
type RoleDirectory interface {
	UsersWithRole(ctx context.Context, role policy.ApproverRole) ([]repository.RoleAssignment, error)
}

// NotificationGateway delivers an email. Calls are made off the request path;
// errors are logged and dropped.
type NotificationGateway interface {
	Notify(ctx context.Context, recipientEmail, subject, body string) error
}

// Identity is the already-authenticated principal acting on a request.
type Identity struct {
	ActorID      string
	Email        string
	GrantedRoles []policy.ApproverRole
	Admin        bool
}

// HasRole reports whether the identity was granted role.
func (i Identity) HasRole(role policy.ApproverRole) bool {
	for _, r := range i.GrantedRoles {
		if r == role {
			return true
		}
	}
	return false
}

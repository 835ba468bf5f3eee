package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
	"github.com/pesio-ai/be-risk-exceptions/internal/policy"
)

// In-memory stores back the engine tests and the STORAGE_DRIVER=memory mode.
// They honour the same version and ordering contracts as the Postgres stores.

// MemoryExceptionRepository keeps requests in a map guarded by a mutex.
type MemoryExceptionRepository struct {
	mu       sync.RWMutex
	requests map[string]*ExceptionRequest
	now      func() time.Time
}

func NewMemoryExceptionRepository() *MemoryExceptionRepository {
	return &MemoryExceptionRepository{
		requests: make(map[string]*ExceptionRequest),
		now:      time.Now,
	}
}

func (r *MemoryExceptionRepository) Create(_ context.Context, req *ExceptionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requests[req.ID]; exists {
		return errors.New(errors.ErrCodeConflict, "exception request already exists")
	}
	req.Version = 1
	req.UpdatedAt = r.now().UTC()
	r.requests[req.ID] = req.Clone()
	return nil
}

func (r *MemoryExceptionRepository) Get(_ context.Context, id string) (*ExceptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, errors.NotFound("exception_request", id)
	}
	return req.Clone(), nil
}

func (r *MemoryExceptionRepository) CASUpdate(
	_ context.Context,
	id string,
	expectedVersion int64,
	mutate func(req *ExceptionRequest) error,
) (*ExceptionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.requests[id]
	if !ok {
		return nil, errors.NotFound("exception_request", id)
	}
	if current.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	// Immutable columns are never taken from the mutated copy.
	next.ID = current.ID
	next.Type = current.Type
	next.SubmittedBy = current.SubmittedBy
	next.SubmittedAt = current.SubmittedAt
	next.Version = current.Version + 1
	next.UpdatedAt = r.now().UTC()

	r.requests[id] = next
	return next.Clone(), nil
}

func (r *MemoryExceptionRepository) Delete(_ context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.requests[id]
	if !ok {
		return errors.NotFound("exception_request", id)
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	delete(r.requests, id)
	return nil
}

func (r *MemoryExceptionRepository) List(_ context.Context, filter Filter) ([]*ExceptionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ExceptionRequest, 0)
	for _, req := range r.requests {
		if matches(req, filter) {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*ExceptionRequest{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(req *ExceptionRequest, f Filter) bool {
	if f.Status != nil && req.Status != *f.Status {
		return false
	}
	if f.Type != nil && req.Type != *f.Type {
		return false
	}
	if f.SubmittedBy != "" && req.SubmittedBy != f.SubmittedBy {
		return false
	}
	if f.ExpiringAfter != nil && (req.ExpiryDate == nil || !req.ExpiryDate.After(*f.ExpiringAfter)) {
		return false
	}
	if f.ExpiringBefore != nil && (req.ExpiryDate == nil || req.ExpiryDate.After(*f.ExpiringBefore)) {
		return false
	}
	return true
}

// MemoryAuditRepository is an append-only slice per request.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries map[string][]*audit.Entry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{entries: make(map[string][]*audit.Entry)}
}

func (r *MemoryAuditRepository) Append(_ context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *entry
	r.entries[entry.RequestID] = append(r.entries[entry.RequestID], &stored)
	return nil
}

func (r *MemoryAuditRepository) ListByRequest(_ context.Context, requestID string) ([]*audit.Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.entries[requestID]
	out := make([]*audit.Entry, len(src))
	for i, e := range src {
		c := *e
		out[i] = &c
	}
	// Stable so entries sharing a timestamp keep append order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryRoleDirectory holds role grants in memory.
type MemoryRoleDirectory struct {
	mu          sync.RWMutex
	assignments []RoleAssignment
}

func NewMemoryRoleDirectory(assignments ...RoleAssignment) *MemoryRoleDirectory {
	return &MemoryRoleDirectory{assignments: append([]RoleAssignment(nil), assignments...)}
}

func (d *MemoryRoleDirectory) Assign(_ context.Context, a RoleAssignment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.assignments {
		if d.assignments[i].UserID == a.UserID && d.assignments[i].Role == a.Role {
			d.assignments[i].Email = a.Email
			return nil
		}
	}
	d.assignments = append(d.assignments, a)
	return nil
}

func (d *MemoryRoleDirectory) UsersWithRole(_ context.Context, role policy.ApproverRole) ([]RoleAssignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RoleAssignment, 0)
	for _, a := range d.assignments {
		if a.Role == role {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// MemoryTransactor serialises units of work so a request update and its
// audit entry are observed together.
type MemoryTransactor struct {
	mu sync.Mutex
}

func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{}
}

func (t *MemoryTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-risk-exceptions/internal/audit"
	"github.com/pesio-ai/be-risk-exceptions/internal/platform/errors"
)

type sliceStore struct {
	entries []*audit.Entry
	err     error
}

func (s *sliceStore) Append(_ context.Context, e *audit.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *sliceStore) ListByRequest(_ context.Context, requestID string) ([]*audit.Entry, error) {
	var out []*audit.Entry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestLogRecord(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	store := &sliceStore{}
	log := audit.NewLog(store, func() time.Time { return now })

	entry, err := log.Record(context.Background(), "req-1", "u-1", audit.ActionStatusChanged,
		audit.StatusChange("assigned", "in_process"))
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "u-1", entry.ActorID)
	assert.Equal(t, time.UTC, entry.CreatedAt.Location())
	assert.True(t, entry.CreatedAt.Equal(now))
	assert.Equal(t, "assigned", entry.Changes["old_status"])
	assert.Equal(t, "in_process", entry.Changes["new_status"])

	trail, err := log.ListFor(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestLogRecordRequiresRequestID(t *testing.T) {
	log := audit.NewLog(&sliceStore{}, nil)
	_, err := log.Record(context.Background(), "", "u-1", audit.ActionCreated, nil)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestLogRecordWrapsStoreFailure(t *testing.T) {
	log := audit.NewLog(&sliceStore{err: fmt.Errorf("disk full")}, nil)
	_, err := log.Record(context.Background(), "req-1", "u-1", audit.ActionCreated, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInternal))
	assert.Contains(t, err.Error(), "disk full")
}

package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-risk-exceptions/internal/repository"
)

// NotifyExpiring reminds owners of approved requests whose expiry falls
// within window of now. It only reads requests; expiry never changes status.
// Returns the number of requests a reminder was queued for.
func (s *ApprovalEngine) NotifyExpiring(ctx context.Context, window time.Duration) (int, error) {
	now := s.now().UTC()
	until := now.Add(window)
	approved := repository.StatusApproved

	reqs, err := s.requests.List(ctx, repository.Filter{
		Status:         &approved,
		ExpiringAfter:  &now,
		ExpiringBefore: &until,
	})
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, req := range reqs {
		if req.ExpiryDate == nil || req.SubmitterEmail == "" {
			continue
		}
		s.notifier.dispatch(ctx, req.ID, []message{expiryReminder(req)})
		queued++
	}

	s.log.Info().
		Int("expiring", len(reqs)).
		Int("reminded", queued).
		Dur("window", window).
		Msg("Expiry reminder sweep complete")
	return queued, nil
}

// RunExpirySweeper calls NotifyExpiring every interval until ctx is done.
func (s *ApprovalEngine) RunExpirySweeper(ctx context.Context, interval, window time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.NotifyExpiring(ctx, window); err != nil {
				s.log.Error().Err(err).Msg("Expiry reminder sweep failed")
			}
		}
	}
}

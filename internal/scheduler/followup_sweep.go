package scheduler

import (
	"context"
	"time"

	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const defaultFollowupSweepInterval = time.Hour

// DueUserLister finds users with at least one conversation that may need a
// follow-up at now.
type DueUserLister interface {
	UsersDue(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// FollowupSweep periodically dispatches a follow-up run for every user that
// has stale conversations.
type FollowupSweep struct {
	users      DueUserLister
	dispatcher FollowupDispatcher
	log        *logger.Logger
	interval   time.Duration
	clock      func() time.Time
}

func NewFollowupSweep(users DueUserLister, dispatcher FollowupDispatcher, log *logger.Logger, interval time.Duration) *FollowupSweep {
	if interval <= 0 {
		interval = defaultFollowupSweepInterval
	}
	return &FollowupSweep{
		users:      users,
		dispatcher: dispatcher,
		log:        log,
		interval:   interval,
		clock:      time.Now,
	}
}

func (s *FollowupSweep) Run(ctx context.Context) {
	if s == nil || s.users == nil || s.dispatcher == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *FollowupSweep) sweep(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Warn("follow-up sweep failed", "error", err)
	}
}

// Sweep dispatches one run per due user. now is truncated to the sweep
// interval so that concurrent sweepers produce the same task IDs. Returns the
// number of runs dispatched.
func (s *FollowupSweep) Sweep(ctx context.Context) (int, error) {
	now := s.clock().UTC().Truncate(s.interval)

	users, err := s.users.UsersDue(ctx, now)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, userID := range users {
		if err := s.dispatcher.DispatchFollowupRun(ctx, userID, now); err != nil {
			s.log.BatchItemFailed("followup_sweep", userID.String(), err)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		s.log.Info("follow-up runs dispatched", "users", dispatched, "now", now)
	}
	return dispatched, nil
}

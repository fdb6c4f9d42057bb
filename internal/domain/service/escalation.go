package service

import (
	"context"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// EscalateFunc is invoked when a soft lock's deadline expires without
// resolution.
type EscalateFunc func(ctx context.Context, lockID string) error

// EscalationService tracks absolute soft-lock deadlines. Deadlines are
// persisted as wall-clock instants, not countdowns, so a device reboot or
// process restart never resets the escalation window. In-memory timers are
// reconstructed from the store at startup.
type EscalationService struct {
	deadlines repository.EscalationRepository
	clock     clock.Clock
	logger    logger.Logger

	escalate EscalateFunc

	mu     sync.Mutex
	timers map[string]clock.Timer
	closed bool
}

// NewEscalationService constructs the service. The escalate callback is
// attached separately because the lock engine is both the caller and the
// escalation target.
func NewEscalationService(deadlines repository.EscalationRepository, clk clock.Clock, log logger.Logger) *EscalationService {
	if clk == nil {
		clk = clock.C
	}
	return &EscalationService{
		deadlines: deadlines,
		clock:     clk,
		logger:    log.WithComponent("escalation"),
		timers:    make(map[string]clock.Timer),
	}
}

// SetEscalateFunc attaches the escalation target.
func (s *EscalationService) SetEscalateFunc(fn EscalateFunc) {
	s.escalate = fn
}

// Arm persists the absolute deadline and starts an in-memory timer for the
// remaining duration. Re-arming an existing lock id replaces its deadline.
func (s *EscalationService) Arm(ctx context.Context, lockID string, deadline time.Time) error {
	record := &models.EscalationDeadline{
		LockID:   lockID,
		Deadline: deadline.UTC(),
	}
	if err := s.deadlines.Save(ctx, record); err != nil {
		return errors.ErrStoreUnavailable("save escalation deadline").WithCause(err)
	}

	s.armTimer(lockID, deadline)
	s.logger.Info(ctx, "Escalation deadline armed",
		logger.String("lock_id", lockID),
		logger.Time("deadline", deadline),
	)
	return nil
}

// Cancel stops the in-memory timer and removes the persisted deadline.
func (s *EscalationService) Cancel(ctx context.Context, lockID string) error {
	s.mu.Lock()
	if timer, ok := s.timers[lockID]; ok {
		timer.Stop()
		delete(s.timers, lockID)
	}
	s.mu.Unlock()

	if err := s.deadlines.Delete(ctx, lockID); err != nil {
		return errors.ErrStoreUnavailable("delete escalation deadline").WithCause(err)
	}
	return nil
}

// Restore rebuilds timers from persisted deadlines after a restart.
// Deadlines already in the past fire immediately.
func (s *EscalationService) Restore(ctx context.Context) error {
	records, err := s.deadlines.All(ctx)
	if err != nil {
		return errors.ErrStoreUnavailable("load escalation deadlines").WithCause(err)
	}

	now := s.clock.Now()
	for _, record := range records {
		if !record.Deadline.After(now) {
			s.logger.Info(ctx, "Deadline elapsed during downtime, escalating",
				logger.String("lock_id", record.LockID),
				logger.Time("deadline", record.Deadline),
			)
			s.fire(record.LockID)
			continue
		}
		s.armTimer(record.LockID, record.Deadline)
		s.logger.Info(ctx, "Escalation deadline restored",
			logger.String("lock_id", record.LockID),
			logger.Time("deadline", record.Deadline),
		)
	}
	return nil
}

// Stop cancels all in-memory timers. Persisted deadlines are kept so the
// next start restores them.
func (s *EscalationService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *EscalationService) armTimer(lockID string, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.timers[lockID]; ok {
		old.Stop()
	}

	remaining := deadline.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	s.timers[lockID] = s.clock.AfterFunc(remaining, func() {
		s.mu.Lock()
		delete(s.timers, lockID)
		s.mu.Unlock()
		s.fire(lockID)
	})
}

func (s *EscalationService) fire(lockID string) {
	if s.escalate == nil {
		return
	}
	ctx := context.Background()
	if err := s.escalate(ctx, lockID); err != nil {
		s.logger.Error(ctx, "Escalation failed", err, logger.String("lock_id", lockID))
		return
	}
	if err := s.deadlines.Delete(ctx, lockID); err != nil {
		s.logger.Error(ctx, "Failed to remove fired deadline", err, logger.String("lock_id", lockID))
	}
}

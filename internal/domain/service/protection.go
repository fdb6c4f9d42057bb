package service

import (
	"context"
	"sync"
	"time"

	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// severityScore maps evidence severity to a threat-score contribution.
var severityScore = map[constants.Severity]int{
	constants.SeverityLow:      5,
	constants.SeverityMedium:   10,
	constants.SeverityHigh:     20,
	constants.SeverityCritical: 40,
}

// decayPerInterval is subtracted from the score on each clean monitoring
// sweep, so a device that stays clean drifts back toward STANDARD.
const decayPerInterval = 2

// CriticalLockFunc applies the automatic hard lock raised when the
// protection level reaches CRITICAL.
type CriticalLockFunc func(ctx context.Context) error

// ProtectionService accumulates a persisted threat score from tamper and
// change evidence and hardens the device as the derived protection level
// rises. Hardening side effects fire once per upward transition, not on
// every sweep.
type ProtectionService struct {
	threat   repository.ThreatRepository
	enforcer Enforcer
	audit    *logger.AuditLogger
	logger   logger.Logger

	criticalLock CriticalLockFunc

	mu  sync.Mutex
	now func() time.Time
}

func NewProtectionService(threat repository.ThreatRepository, enforcer Enforcer, audit *logger.AuditLogger, log logger.Logger) *ProtectionService {
	return &ProtectionService{
		threat:   threat,
		enforcer: enforcer,
		audit:    audit,
		logger:   log.WithComponent("protection"),
		now:      time.Now,
	}
}

// SetCriticalLockFunc attaches the auto-lock target. Attached separately
// because the lock engine and this service are wired in either order.
func (p *ProtectionService) SetCriticalLockFunc(fn CriticalLockFunc) {
	p.criticalLock = fn
}

// RecordEvidence feeds one piece of evidence into the score. Returns the
// resulting protection level.
func (p *ProtectionService) RecordEvidence(ctx context.Context, severity constants.Severity) (constants.ProtectionLevel, error) {
	return p.apply(ctx, severityScore[severity])
}

// RecordCleanSweep decays the score after a monitoring pass with no
// findings.
func (p *ProtectionService) RecordCleanSweep(ctx context.Context) (constants.ProtectionLevel, error) {
	return p.apply(ctx, -decayPerInterval)
}

// Level returns the current protection level.
func (p *ProtectionService) Level(ctx context.Context) (constants.ProtectionLevel, int, error) {
	state, err := p.threat.Load(ctx)
	if err != nil {
		return constants.ProtectionStandard, 0, err
	}
	return state.Level, state.Score, nil
}

func (p *ProtectionService) apply(ctx context.Context, delta int) (constants.ProtectionLevel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, err := p.threat.Load(ctx)
	if err != nil {
		return constants.ProtectionStandard, errors.ErrStoreUnavailable("load threat state").WithCause(err)
	}

	previous := state.Level
	transitioned := state.Apply(delta, p.now().UTC())
	if err := p.threat.Store(ctx, state); err != nil {
		return previous, errors.ErrStoreUnavailable("store threat state").WithCause(err)
	}

	if transitioned {
		p.audit.LogAuditEvent(ctx, constants.AuditEventProtectionChanged, constants.SeverityMedium,
			logger.String("previous_level", string(previous)),
			logger.String("level", string(state.Level)),
			logger.Int("score", state.Score),
		)
		if state.Level.Rank() > previous.Rank() {
			p.harden(ctx, state.Level)
		}
	}
	return state.Level, nil
}

// harden applies the cumulative measures for the new level. Measures are
// additive: CRITICAL includes everything ENHANCED does.
func (p *ProtectionService) harden(ctx context.Context, level constants.ProtectionLevel) {
	switch level {
	case constants.ProtectionEnhanced:
		if err := p.enforcer.DisableDeveloperOptions(ctx, true); err != nil {
			p.logger.Warn(ctx, "Failed to disable developer options",
				logger.String("reason", err.Error()),
			)
		}
	case constants.ProtectionCritical:
		if err := p.enforcer.DisableDeveloperOptions(ctx, true); err != nil {
			p.logger.Warn(ctx, "Failed to disable developer options",
				logger.String("reason", err.Error()),
			)
		}
		if err := p.enforcer.DisableUSB(ctx, true); err != nil {
			p.logger.Warn(ctx, "Failed to disable USB access",
				logger.String("reason", err.Error()),
			)
		}
		if err := p.enforcer.PreventFactoryReset(ctx); err != nil {
			p.logger.Warn(ctx, "Failed to block factory reset",
				logger.String("reason", err.Error()),
			)
		}
		if p.criticalLock != nil {
			if err := p.criticalLock(ctx); err != nil {
				p.logger.Error(ctx, "Failed to apply critical auto lock", err)
			}
		}
	}
}

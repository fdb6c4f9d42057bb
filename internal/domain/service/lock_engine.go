package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// serverRemovableReasons are lock reasons a plain server "unlocked" status
// may clear. Locks carrying local tamper evidence are deliberately absent:
// a stale or conflicting server unlock must never downgrade them. They are
// cleared only by an explicit backend-authorized UNLOCK_DEVICE command,
// which is the server acknowledging the tamper event.
var serverRemovableReasons = map[constants.LockReason]struct{}{
	constants.LockReasonPaymentOverdue:   {},
	constants.LockReasonPaymentDefault:   {},
	constants.LockReasonAdminCommand:     {},
	constants.LockReasonEscalation:       {},
	constants.LockReasonSafeMode:         {},
	constants.LockReasonDeveloperOptions: {},
}

// DeadlineScheduler arms and cancels escalation timers for soft locks. The
// implementation persists absolute deadlines and reconstructs timers after
// restart.
type DeadlineScheduler interface {
	Arm(ctx context.Context, lockID string, deadline time.Time) error
	Cancel(ctx context.Context, lockID string) error
}

// LockEngine owns the authoritative lock state for the device. It reconciles
// three independent authorities (server instructions, the offline command
// queue and local tamper evidence) into a single consistent set of lock
// records, and keeps the OS enforcement state converging toward them.
type LockEngine struct {
	deviceID  string
	locks     repository.LockRepository
	softLocks repository.SoftLockRepository
	enforcer  Enforcer
	overlay   OverlayRenderer
	scheduler DeadlineScheduler
	window    time.Duration
	audit     *logger.AuditLogger
	logger    logger.Logger
	metrics   Metrics

	// mu serializes every read-modify-persist cycle over the lock records.
	// Concurrent ApplyLock/RemoveLock calls from different monitoring loops
	// must not race and silently drop an update.
	mu sync.Mutex

	// pinMu guards the unlock password delivered via next_payment.
	pinMu          sync.Mutex
	unlockPassword string

	now func() time.Time
}

// NewLockEngine constructs the engine. The deadline scheduler is attached
// separately because the escalation service needs the engine as its
// escalation target.
func NewLockEngine(
	deviceID string,
	locks repository.LockRepository,
	softLocks repository.SoftLockRepository,
	enforcer Enforcer,
	overlay OverlayRenderer,
	window time.Duration,
	audit *logger.AuditLogger,
	log logger.Logger,
	metrics Metrics,
) *LockEngine {
	if window <= 0 {
		window = constants.DefaultEscalationWindow
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &LockEngine{
		deviceID:  deviceID,
		locks:     locks,
		softLocks: softLocks,
		enforcer:  enforcer,
		overlay:   overlay,
		window:    window,
		audit:     audit,
		logger:    log.WithComponent("lock-engine"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetScheduler attaches the escalation deadline scheduler.
func (e *LockEngine) SetScheduler(s DeadlineScheduler) {
	e.scheduler = s
}

// SetUnlockPassword updates the PIN accepted for hard-lock unlock attempts.
// Delivered by the backend in next_payment.
func (e *LockEngine) SetUnlockPassword(pin string) {
	e.pinMu.Lock()
	defer e.pinMu.Unlock()
	e.unlockPassword = pin
}

// ================================================================================
// Device Locks
// ================================================================================

// ApplyLock applies a lock record and enforces it. The record is persisted
// before the OS-level enforcement action so a crash mid-enforcement leaves
// durable intent for the reconciliation loop to retry; there is never a gap
// where a lock is enforced but unrecorded, or recorded with no retry path.
// Applying an id that is already active is a no-op, which makes command
// execution idempotent.
func (e *LockEngine) ApplyLock(ctx context.Context, lock *models.DeviceLock) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.locks.FindByID(ctx, lock.LockID)
	if err == nil && existing.LockStatus == constants.LockStatusActive {
		e.logger.Debug(ctx, "Lock already active, skipping re-apply",
			logger.String("lock_id", lock.LockID),
		)
		return nil
	}
	if err != nil && !errors.IsNotFound(err) {
		return err
	}

	lock.LockStatus = constants.LockStatusActive
	lock.Enforced = false
	lock.UpdatedAt = e.now().UTC()

	// Persist intent first. A lock-state write failure is escalated to the
	// caller; fail closed rather than enforcing an unrecorded lock.
	if err := e.locks.Save(ctx, lock); err != nil {
		return errors.ErrStoreUnavailable("save lock").WithCause(err)
	}

	e.audit.LogLockTransition(ctx, constants.AuditEventLockApplied, lock.LockID, lock.LockType, lock.LockReason)
	e.metrics.RecordLockTransition(constants.StateForLockType(lock.LockType), lock.LockReason)

	if err := e.enforcer.LockNow(ctx, lock.LockType); err != nil {
		// Record stays with Enforced=false; the monitor loop retries until
		// the OS state matches the record.
		e.logger.Error(ctx, "Lock enforcement failed, will retry", err,
			logger.String("lock_id", lock.LockID),
		)
	} else {
		lock.Enforced = true
		if err := e.locks.Save(ctx, lock); err != nil {
			e.logger.Error(ctx, "Failed to persist enforcement confirmation", err,
				logger.String("lock_id", lock.LockID),
			)
		}
	}

	e.overlay.ShowOverlay(OverlayData{
		LockID:      lock.LockID,
		LockType:    lock.LockType,
		Title:       "Device locked",
		Message:     lock.Message,
		Dismissible: false,
		PinRequired: lock.PinRequired && lock.LockType != constants.LockTypePermanent,
	})

	return nil
}

// RemoveLock clears a lock record. The OS-level unlock is attempted first;
// if it fails the record is kept so the device stays considered locked
// (prefer stuck-locked over stuck-unlocked). Permanent locks require
// backend authorization.
func (e *LockEngine) RemoveLock(ctx context.Context, lockID string, backendAuthorized bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLockLocked(ctx, lockID, backendAuthorized)
}

func (e *LockEngine) removeLockLocked(ctx context.Context, lockID string, backendAuthorized bool) error {
	lock, err := e.locks.FindByID(ctx, lockID)
	if err != nil {
		return err
	}

	if lock.BackendUnlockOnly && !backendAuthorized {
		return errors.ErrPermanentLock(lockID)
	}

	// Release OS enforcement only when no other active lock still needs it.
	others, err := e.locks.ActiveLocks(ctx)
	if err != nil {
		return errors.ErrStoreUnavailable("list active locks").WithCause(err)
	}
	remaining := false
	for _, other := range others {
		if other.LockID != lockID {
			remaining = true
			break
		}
	}

	if !remaining {
		if err := e.enforcer.Unlock(ctx); err != nil {
			e.audit.LogAuditEvent(ctx, constants.AuditEventEnforcementFailed, constants.SeverityHigh,
				logger.String("lock_id", lockID),
				logger.String("operation", "unlock"),
			)
			return errors.ErrEnforcementFailed("unlock").WithCause(err)
		}
	}

	if err := e.locks.Delete(ctx, lockID); err != nil {
		return errors.ErrStoreUnavailable("delete lock").WithCause(err)
	}

	e.audit.LogLockTransition(ctx, constants.AuditEventLockRemoved, lock.LockID, lock.LockType, lock.LockReason)
	e.overlay.DismissOverlay(lockID)
	return nil
}

// EffectiveState derives the enforced device state: the maximum severity
// over all active locks, with unresolved soft locks contributing SOFT.
func (e *LockEngine) EffectiveState(ctx context.Context) (constants.LockState, error) {
	locks, err := e.locks.ActiveLocks(ctx)
	if err != nil {
		return constants.LockStateUnlocked, err
	}

	best := constants.LockType("")
	for _, lock := range locks {
		if lock.LockType.Rank() > best.Rank() {
			best = lock.LockType
		}
	}
	if best != "" {
		return constants.StateForLockType(best), nil
	}

	soft, err := e.softLocks.Unresolved(ctx)
	if err != nil {
		return constants.LockStateUnlocked, err
	}
	if len(soft) > 0 {
		return constants.LockStateSoftLocked, nil
	}
	return constants.LockStateUnlocked, nil
}

// ActiveLocks exposes the current active lock records for the local API.
func (e *LockEngine) ActiveLocks(ctx context.Context) ([]*models.DeviceLock, error) {
	return e.locks.ActiveLocks(ctx)
}

// ================================================================================
// Soft Locks
// ================================================================================

// TriggerSoftLock creates a soft lock for a trigger key unless one is
// already unresolved for the same key, arms its escalation deadline, and
// shows the dismissible overlay.
func (e *LockEngine) TriggerSoftLock(ctx context.Context, lockType constants.SoftLockType, reason constants.LockReason, triggerKey, title, message string) (*models.SoftLock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.softLocks.FindUnresolvedByTrigger(ctx, triggerKey)
	if err == nil {
		return existing, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}

	soft := models.NewSoftLock(lockType, reason, triggerKey, title, message)
	if err := e.softLocks.Save(ctx, soft); err != nil {
		return nil, errors.ErrStoreUnavailable("save soft lock").WithCause(err)
	}

	deadline := e.now().UTC().Add(e.window)
	if e.scheduler != nil {
		if err := e.scheduler.Arm(ctx, soft.LockID, deadline); err != nil {
			e.logger.Error(ctx, "Failed to arm escalation deadline", err,
				logger.String("lock_id", soft.LockID),
			)
		}
	}

	e.metrics.RecordLockTransition(constants.LockStateSoftLocked, reason)
	e.overlay.ShowOverlay(OverlayData{
		LockID:      soft.LockID,
		LockType:    constants.LockTypeSoft,
		Title:       title,
		Message:     message,
		Dismissible: true,
	})

	e.logger.Info(ctx, "Soft lock created",
		logger.String("lock_id", soft.LockID),
		logger.String("trigger_key", triggerKey),
		logger.Time("escalation_deadline", deadline),
	)
	return soft, nil
}

// ResolveSoftLock terminates a soft-lock instance through the resolution
// path: the escalation timer and its persisted deadline are cancelled and
// the record removed. Resolution and escalation are mutually exclusive.
func (e *LockEngine) ResolveSoftLock(ctx context.Context, lockID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	soft, err := e.softLocks.FindByID(ctx, lockID)
	if err != nil {
		return err
	}

	soft.Resolve(e.now().UTC())
	if err := e.softLocks.Save(ctx, soft); err != nil {
		return errors.ErrStoreUnavailable("save soft lock").WithCause(err)
	}

	if e.scheduler != nil {
		if err := e.scheduler.Cancel(ctx, lockID); err != nil {
			e.logger.Error(ctx, "Failed to cancel escalation deadline", err,
				logger.String("lock_id", lockID),
			)
		}
	}

	if err := e.softLocks.Delete(ctx, lockID); err != nil {
		return errors.ErrStoreUnavailable("delete soft lock").WithCause(err)
	}

	e.overlay.DismissOverlay(lockID)
	e.logger.Info(ctx, "Soft lock resolved", logger.String("lock_id", lockID))
	return nil
}

// EscalateSoftLock terminates a soft-lock instance through the escalation
// path: a HARD lock is applied and the soft-lock record removed. The
// resolved flag is re-checked at fire time so a timer that raced a
// resolution cannot escalate a lock the user already cleared.
func (e *LockEngine) EscalateSoftLock(ctx context.Context, lockID string) error {
	e.mu.Lock()
	soft, err := e.softLocks.FindByID(ctx, lockID)
	if err != nil {
		e.mu.Unlock()
		if errors.IsNotFound(err) {
			// Already resolved and removed; nothing to escalate.
			return nil
		}
		return err
	}
	if soft.IsResolved {
		e.mu.Unlock()
		return nil
	}

	e.mu.Unlock()

	hard := models.NewDeviceLock(e.deviceID, constants.LockTypeHard, constants.LockReasonEscalation,
		fmt.Sprintf("Unresolved: %s", soft.Message))
	hard.LockID = models.DeriveLockID("escalation:" + lockID)

	// The hard lock lands before the soft record goes away: a crash or store
	// failure between the two leaves the instance escalated, never unlocked.
	// The derived lock id makes the retry from the persisted deadline
	// re-apply idempotently and finish the removal.
	if err := e.ApplyLock(ctx, hard); err != nil {
		return err
	}

	e.mu.Lock()
	if err := e.softLocks.Delete(ctx, lockID); err != nil {
		e.mu.Unlock()
		return errors.ErrStoreUnavailable("delete soft lock").WithCause(err)
	}
	e.mu.Unlock()

	e.audit.LogLockTransition(ctx, constants.AuditEventLockEscalated, lockID, constants.LockTypeHard, constants.LockReasonEscalation)
	e.overlay.DismissOverlay(lockID)
	return nil
}

// HandleSoftLockAction is the user-action callback from the overlay UI.
func (e *LockEngine) HandleSoftLockAction(ctx context.Context, lockID string, action constants.SoftLockAction) error {
	switch action {
	case constants.SoftLockActionAcknowledge:
		return e.ResolveSoftLock(ctx, lockID)
	case constants.SoftLockActionDismiss:
		e.mu.Lock()
		defer e.mu.Unlock()
		soft, err := e.softLocks.FindByID(ctx, lockID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		soft.LastShownAt = &now
		return e.softLocks.Save(ctx, soft)
	default:
		return errors.ErrInvalidRequest("unknown soft lock action: " + string(action))
	}
}

// ================================================================================
// Authority Inputs
// ================================================================================

// HandleTamperStatus feeds local tamper evidence into the state machine.
// CRITICAL severity applies a hard lock immediately, regardless of server
// state.
func (e *LockEngine) HandleTamperStatus(ctx context.Context, status *models.TamperStatus) error {
	if status.Severity < constants.SeverityCritical {
		return nil
	}

	lock := models.NewDeviceLock(e.deviceID, constants.LockTypeHard, constants.LockReasonTamperDetected,
		fmt.Sprintf("Device security compromised: %s", strings.Join(status.FlagNames(), ", ")))
	lock.LockID = models.DeriveLockID("tamper:" + e.deviceID)
	return e.ApplyLock(ctx, lock)
}

// HandleComparison feeds baseline mismatch evidence into the state machine.
// CRITICAL identifier changes mean device swap and apply a hard lock.
func (e *LockEngine) HandleComparison(ctx context.Context, result *models.ComparisonResult) error {
	if result == nil || !result.HasChanges || result.Severity < constants.SeverityCritical {
		return nil
	}

	fields := result.CriticalFields()
	lock := models.NewDeviceLock(e.deviceID, constants.LockTypeHard, constants.LockReasonDeviceSwap,
		fmt.Sprintf("Device security compromised: %s", strings.Join(fields, ", ")))
	lock.LockID = models.DeriveLockID("device-swap:" + e.deviceID)
	return e.ApplyLock(ctx, lock)
}

// ApplyServerState reconciles the server's authoritative lock status from a
// heartbeat response. A server lock ensures a hard lock; a server unlock
// clears only server-removable reasons. The most severe authority wins,
// and local tamper evidence is never downgraded by a plain unlock.
func (e *LockEngine) ApplyServerState(ctx context.Context, isLocked bool, reason string) error {
	if isLocked {
		lockReason := constants.LockReasonAdminCommand
		if strings.EqualFold(reason, "Payment overdue") {
			lockReason = constants.LockReasonPaymentOverdue
		} else if strings.EqualFold(reason, "Security issue") {
			lockReason = constants.LockReasonSecurityViolation
		}

		lock := models.NewDeviceLock(e.deviceID, constants.LockTypeHard, lockReason, reason)
		lock.LockID = models.DeriveLockID("server:" + e.deviceID)
		return e.ApplyLock(ctx, lock)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	locks, err := e.locks.ActiveLocks(ctx)
	if err != nil {
		return err
	}
	for _, lock := range locks {
		if _, removable := serverRemovableReasons[lock.LockReason]; !removable {
			continue
		}
		if lock.LockType == constants.LockTypePermanent {
			continue
		}
		if err := e.removeLockLocked(ctx, lock.LockID, false); err != nil {
			// Fail closed: an unlock-enforcement failure keeps the record;
			// the next reconciliation pass retries.
			e.logger.Error(ctx, "Server-directed unlock failed", err,
				logger.String("lock_id", lock.LockID),
			)
		}
	}
	// Server locks carrying security reasons were applied from evidence the
	// server has since cleared through this same removable path above.
	return nil
}

// AttemptPinUnlock validates the next-payment PIN against a hard lock.
// Permanent locks ignore the PIN path entirely.
func (e *LockEngine) AttemptPinUnlock(ctx context.Context, lockID, pin string) error {
	lock, err := e.locks.FindByID(ctx, lockID)
	if err != nil {
		return err
	}
	if lock.LockType == constants.LockTypePermanent || lock.BackendUnlockOnly {
		return errors.ErrPermanentLock(lockID)
	}
	if !lock.PinRequired {
		return errors.ErrInvalidRequest("lock does not accept PIN unlock")
	}

	e.pinMu.Lock()
	expected := e.unlockPassword
	e.pinMu.Unlock()

	if expected == "" || pin != expected {
		return errors.New(constants.ErrCodeUnauthorized, "invalid unlock PIN")
	}

	return e.RemoveLock(ctx, lockID, false)
}

// ReconcileEnforcement converges OS state toward the lock records: retries
// enforcement for records not yet confirmed and expires locks whose
// deadline passed. Called by the security monitor on its poll interval.
func (e *LockEngine) ReconcileEnforcement(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	locks, err := e.locks.ActiveLocks(ctx)
	if err != nil {
		e.logger.Error(ctx, "Failed to list active locks for reconciliation", err)
		return
	}
	now := e.now().UTC()

	for _, lock := range locks {
		if lock.IsExpired(now) && !lock.BackendUnlockOnly {
			if err := e.removeLockLocked(ctx, lock.LockID, false); err != nil {
				e.logger.Error(ctx, "Failed to expire lock", err,
					logger.String("lock_id", lock.LockID),
				)
			}
			continue
		}

		if lock.Enforced {
			continue
		}
		if err := e.enforcer.LockNow(ctx, lock.LockType); err != nil {
			e.logger.Warn(ctx, "Lock enforcement retry failed",
				logger.String("lock_id", lock.LockID),
				logger.String("reason", err.Error()),
			)
			continue
		}
		lock.Enforced = true
		lock.UpdatedAt = now
		if err := e.locks.Save(ctx, lock); err != nil {
			e.logger.Error(ctx, "Failed to persist enforcement confirmation", err,
				logger.String("lock_id", lock.LockID),
			)
		}
	}
}

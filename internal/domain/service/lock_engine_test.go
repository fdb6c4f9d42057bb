package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
)

const testDeviceID = "device-1234"

func TestApplyLockEnforcesAndShowsOverlay(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonAdminCommand, "locked by admin")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	stored, err := f.locks.FindByID(ctx, lock.LockID)
	require.NoError(t, err)
	assert.Equal(t, constants.LockStatusActive, stored.LockStatus)
	assert.True(t, stored.Enforced)
	assert.True(t, f.enforcer.isLocked())

	data, ok := f.overlay.active(lock.LockID)
	require.True(t, ok)
	assert.False(t, data.Dismissible)
	assert.True(t, data.PinRequired)
}

func TestApplyLockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonAdminCommand, "locked")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	assert.Equal(t, 1, f.enforcer.lockCalls)
	active, err := f.engine.ActiveLocks(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestApplyLockEnforcementFailureLeavesRetryableRecord(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)
	f.enforcer.lockErr = errors.ErrEnforcementFailed("lock")

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonTamperDetected, "tampered")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	stored, err := f.locks.FindByID(ctx, lock.LockID)
	require.NoError(t, err)
	assert.Equal(t, constants.LockStatusActive, stored.LockStatus)
	assert.False(t, stored.Enforced)

	// The reconciliation pass retries once the OS call starts succeeding.
	f.enforcer.lockErr = nil
	f.engine.ReconcileEnforcement(ctx)

	stored, err = f.locks.FindByID(ctx, lock.LockID)
	require.NoError(t, err)
	assert.True(t, stored.Enforced)
	assert.True(t, f.enforcer.isLocked())
}

func TestRemoveLockFailsClosedOnUnlockError(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonPaymentOverdue, "pay up")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	f.enforcer.unlockErr = errors.ErrEnforcementFailed("unlock")
	err := f.engine.RemoveLock(ctx, lock.LockID, false)
	require.Error(t, err)
	assert.True(t, errors.IsEnforcementFailure(err))

	// Record survives so the device stays considered locked.
	_, err = f.locks.FindByID(ctx, lock.LockID)
	require.NoError(t, err)
	assert.True(t, f.enforcer.isLocked())
}

func TestRemoveLockKeepsEnforcementWhileOthersRemain(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	first := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonPaymentOverdue, "payment")
	second := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonAdminCommand, "admin")
	require.NoError(t, f.engine.ApplyLock(ctx, first))
	require.NoError(t, f.engine.ApplyLock(ctx, second))

	require.NoError(t, f.engine.RemoveLock(ctx, first.LockID, false))
	assert.Equal(t, 0, f.enforcer.unlockCalls)
	assert.True(t, f.enforcer.isLocked())

	require.NoError(t, f.engine.RemoveLock(ctx, second.LockID, false))
	assert.Equal(t, 1, f.enforcer.unlockCalls)
	assert.False(t, f.enforcer.isLocked())
}

func TestPermanentLockRequiresBackendAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypePermanent, constants.LockReasonPaymentDefault, "defaulted")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	err := f.engine.RemoveLock(ctx, lock.LockID, false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodePermanentLock))

	require.NoError(t, f.engine.RemoveLock(ctx, lock.LockID, true))
	assert.False(t, f.enforcer.isLocked())
}

func TestEffectiveStateIsMaximumSeverity(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	state, err := f.engine.EffectiveState(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.LockStateUnlocked, state)

	_, err = f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonDeveloperOptions,
		"dev-options", "Warning", "developer options enabled")
	require.NoError(t, err)

	state, err = f.engine.EffectiveState(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.LockStateSoftLocked, state)

	hard := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonPaymentOverdue, "payment")
	require.NoError(t, f.engine.ApplyLock(ctx, hard))

	state, err = f.engine.EffectiveState(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.LockStateHardLocked, state)

	permanent := models.NewDeviceLock(testDeviceID, constants.LockTypePermanent, constants.LockReasonPaymentDefault, "default")
	require.NoError(t, f.engine.ApplyLock(ctx, permanent))

	state, err = f.engine.EffectiveState(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.LockStatePermanentLocked, state)
}

func TestTriggerSoftLockDeduplicatesByTriggerKey(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	before := time.Now().UTC()
	first, err := f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonSafeMode,
		"safe-mode", "Warning", "device booted into safe mode")
	require.NoError(t, err)

	second, err := f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonSafeMode,
		"safe-mode", "Warning", "device booted into safe mode")
	require.NoError(t, err)
	assert.Equal(t, first.LockID, second.LockID)

	deadline, ok := f.scheduler.armedDeadline(first.LockID)
	require.True(t, ok)
	assert.WithinDuration(t, before.Add(time.Hour), deadline, 5*time.Second)
}

func TestResolveSoftLockCancelsEscalation(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	soft, err := f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonSafeMode,
		"safe-mode", "Warning", "device booted into safe mode")
	require.NoError(t, err)

	require.NoError(t, f.engine.ResolveSoftLock(ctx, soft.LockID))

	_, armed := f.scheduler.armedDeadline(soft.LockID)
	assert.False(t, armed)
	assert.Contains(t, f.scheduler.cancelled, soft.LockID)

	_, err = f.softLocks.FindByID(ctx, soft.LockID)
	assert.True(t, errors.IsNotFound(err))

	_, shown := f.overlay.active(soft.LockID)
	assert.False(t, shown)
}

func TestEscalateSoftLockAppliesHardLock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	soft, err := f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonSafeMode,
		"safe-mode", "Warning", "device booted into safe mode")
	require.NoError(t, err)

	require.NoError(t, f.engine.EscalateSoftLock(ctx, soft.LockID))

	hardID := models.DeriveLockID("escalation:" + soft.LockID)
	hard, err := f.locks.FindByID(ctx, hardID)
	require.NoError(t, err)
	assert.Equal(t, constants.LockTypeHard, hard.LockType)
	assert.Equal(t, constants.LockReasonEscalation, hard.LockReason)
	assert.True(t, f.enforcer.isLocked())

	_, err = f.softLocks.FindByID(ctx, soft.LockID)
	assert.True(t, errors.IsNotFound(err))
}

func TestEscalationRetriesAfterLockStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	soft, err := f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonSafeMode,
		"safe-mode", "Warning", "device booted into safe mode")
	require.NoError(t, err)

	f.locks.saveErr = errors.New(constants.ErrCodeStoreUnavailable, "disk full")
	require.Error(t, f.engine.EscalateSoftLock(ctx, soft.LockID))

	// The soft record must survive the failed attempt so the retry still
	// finds something to escalate; dropping it first would leave the device
	// unlocked with no pending deadline.
	_, err = f.softLocks.FindByID(ctx, soft.LockID)
	require.NoError(t, err)

	f.locks.saveErr = nil
	require.NoError(t, f.engine.EscalateSoftLock(ctx, soft.LockID))

	hard, err := f.locks.FindByID(ctx, models.DeriveLockID("escalation:"+soft.LockID))
	require.NoError(t, err)
	assert.Equal(t, constants.LockStatusActive, hard.LockStatus)
	assert.True(t, f.enforcer.isLocked())

	_, err = f.softLocks.FindByID(ctx, soft.LockID)
	assert.True(t, errors.IsNotFound(err))
}

func TestEscalateResolvedSoftLockIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	soft, err := f.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, constants.LockReasonSafeMode,
		"safe-mode", "Warning", "device booted into safe mode")
	require.NoError(t, err)
	require.NoError(t, f.engine.ResolveSoftLock(ctx, soft.LockID))

	// A timer that raced the resolution fires against a removed record.
	require.NoError(t, f.engine.EscalateSoftLock(ctx, soft.LockID))

	active, err := f.engine.ActiveLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.False(t, f.enforcer.isLocked())
}

func TestHandleTamperStatusLocksOnCritical(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	high := models.NewTamperStatus(time.Now().UTC())
	high.AddFlag(constants.TamperFlagUSBDebugging, constants.SeverityHigh)
	require.NoError(t, f.engine.HandleTamperStatus(ctx, high))
	assert.False(t, f.enforcer.isLocked())

	critical := models.NewTamperStatus(time.Now().UTC())
	critical.AddFlag(constants.TamperFlagRooted, constants.SeverityCritical)
	require.NoError(t, f.engine.HandleTamperStatus(ctx, critical))

	lock, err := f.locks.FindByID(ctx, models.DeriveLockID("tamper:"+testDeviceID))
	require.NoError(t, err)
	assert.Equal(t, constants.LockReasonTamperDetected, lock.LockReason)
	assert.Contains(t, lock.Message, "ROOTED")
	assert.True(t, f.enforcer.isLocked())
}

func TestHandleComparisonLocksOnDeviceSwap(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	result := &models.ComparisonResult{
		HasChanges: true,
		Severity:   constants.SeverityCritical,
		Changes: []models.ChangeDetail{
			{Field: "serial_number", BaselineValue: "SN-A", CurrentValue: "SN-B", Severity: constants.SeverityCritical},
		},
	}
	require.NoError(t, f.engine.HandleComparison(ctx, result))

	lock, err := f.locks.FindByID(ctx, models.DeriveLockID("device-swap:"+testDeviceID))
	require.NoError(t, err)
	assert.Equal(t, constants.LockReasonDeviceSwap, lock.LockReason)
	assert.Contains(t, lock.Message, "serial_number")
}

func TestServerUnlockNeverClearsTamperLock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	status := models.NewTamperStatus(time.Now().UTC())
	status.AddFlag(constants.TamperFlagRooted, constants.SeverityCritical)
	require.NoError(t, f.engine.HandleTamperStatus(ctx, status))
	require.NoError(t, f.engine.ApplyServerState(ctx, true, "Payment overdue"))

	serverLock, err := f.locks.FindByID(ctx, models.DeriveLockID("server:"+testDeviceID))
	require.NoError(t, err)
	assert.Equal(t, constants.LockReasonPaymentOverdue, serverLock.LockReason)

	// Plain server unlock clears the payment lock only; the tamper lock
	// keeps the device enforced.
	require.NoError(t, f.engine.ApplyServerState(ctx, false, ""))

	active, err := f.engine.ActiveLocks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, constants.LockReasonTamperDetected, active[0].LockReason)
	assert.True(t, f.enforcer.isLocked())
	assert.Equal(t, 0, f.enforcer.unlockCalls)
}

func TestServerUnlockSkipsPermanentLocks(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	permanent := models.NewDeviceLock(testDeviceID, constants.LockTypePermanent, constants.LockReasonPaymentDefault, "defaulted")
	require.NoError(t, f.engine.ApplyLock(ctx, permanent))

	require.NoError(t, f.engine.ApplyServerState(ctx, false, ""))

	active, err := f.engine.ActiveLocks(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.True(t, f.enforcer.isLocked())
}

func TestAttemptPinUnlock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)
	f.engine.SetUnlockPassword("4711")

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonPaymentOverdue, "payment")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	err := f.engine.AttemptPinUnlock(ctx, lock.LockID, "9999")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodeUnauthorized))
	assert.True(t, f.enforcer.isLocked())

	require.NoError(t, f.engine.AttemptPinUnlock(ctx, lock.LockID, "4711"))
	assert.False(t, f.enforcer.isLocked())
}

func TestAttemptPinUnlockRejectsPermanentLock(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)
	f.engine.SetUnlockPassword("4711")

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypePermanent, constants.LockReasonPaymentDefault, "defaulted")
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	err := f.engine.AttemptPinUnlock(ctx, lock.LockID, "4711")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, constants.ErrCodePermanentLock))
	assert.True(t, f.enforcer.isLocked())
}

func TestReconcileEnforcementExpiresElapsedLocks(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(testDeviceID)

	lock := models.NewDeviceLock(testDeviceID, constants.LockTypeHard, constants.LockReasonAdminCommand, "temporary")
	expired := time.Now().UTC().Add(-time.Minute)
	lock.ExpiresAt = &expired
	require.NoError(t, f.engine.ApplyLock(ctx, lock))

	f.engine.ReconcileEnforcement(ctx)

	active, err := f.engine.ActiveLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.False(t, f.enforcer.isLocked())
}

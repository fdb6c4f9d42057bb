package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/logger"
)

func newProtectionFixture() (*service.ProtectionService, *memThreatRepo, *fakeEnforcer) {
	log := logger.NewNoopLogger()
	threat := &memThreatRepo{}
	enforcer := newFakeEnforcer()
	svc := service.NewProtectionService(threat, enforcer, logger.NewAuditLogger(log), log)
	return svc, threat, enforcer
}

func TestProtectionStaysStandardBelowThreshold(t *testing.T) {
	ctx := context.Background()
	svc, _, enforcer := newProtectionFixture()

	level, err := svc.RecordEvidence(ctx, constants.SeverityMedium)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtectionStandard, level)

	level, score, err := svc.Level(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtectionStandard, level)
	assert.Equal(t, 10, score)
	assert.False(t, enforcer.devOptionsDisabled)
}

func TestProtectionPromotesToEnhancedAndHardens(t *testing.T) {
	ctx := context.Background()
	svc, _, enforcer := newProtectionFixture()

	// 20 + 20 + 10 = 50, exactly the promotion threshold.
	_, err := svc.RecordEvidence(ctx, constants.SeverityHigh)
	require.NoError(t, err)
	_, err = svc.RecordEvidence(ctx, constants.SeverityHigh)
	require.NoError(t, err)
	level, err := svc.RecordEvidence(ctx, constants.SeverityMedium)
	require.NoError(t, err)

	assert.Equal(t, constants.ProtectionEnhanced, level)
	assert.True(t, enforcer.devOptionsDisabled)
	assert.False(t, enforcer.usbDisabled)
	assert.False(t, enforcer.resetBlocked)
}

func TestProtectionPromotesToCriticalWithFullHardening(t *testing.T) {
	ctx := context.Background()
	svc, _, enforcer := newProtectionFixture()

	_, err := svc.RecordEvidence(ctx, constants.SeverityCritical)
	require.NoError(t, err)
	level, err := svc.RecordEvidence(ctx, constants.SeverityCritical)
	require.NoError(t, err)

	assert.Equal(t, constants.ProtectionCritical, level)
	assert.True(t, enforcer.devOptionsDisabled)
	assert.True(t, enforcer.usbDisabled)
	assert.True(t, enforcer.resetBlocked)
}

func TestCriticalTransitionAppliesAutoLock(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProtectionFixture()

	lockCalls := 0
	svc.SetCriticalLockFunc(func(context.Context) error {
		lockCalls++
		return nil
	})

	_, err := svc.RecordEvidence(ctx, constants.SeverityCritical)
	require.NoError(t, err)
	assert.Zero(t, lockCalls)

	level, err := svc.RecordEvidence(ctx, constants.SeverityCritical)
	require.NoError(t, err)
	require.Equal(t, constants.ProtectionCritical, level)
	assert.Equal(t, 1, lockCalls)

	// Further evidence within CRITICAL must not re-apply the lock.
	_, err = svc.RecordEvidence(ctx, constants.SeverityCritical)
	require.NoError(t, err)
	assert.Equal(t, 1, lockCalls)
}

func TestProtectionScoreClampsAtCeiling(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProtectionFixture()

	for i := 0; i < 5; i++ {
		_, err := svc.RecordEvidence(ctx, constants.SeverityCritical)
		require.NoError(t, err)
	}

	level, score, err := svc.Level(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtectionCritical, level)
	assert.Equal(t, constants.ThreatScoreMax, score)
}

func TestProtectionDecaysTowardStandard(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProtectionFixture()

	_, err := svc.RecordEvidence(ctx, constants.SeverityHigh)
	require.NoError(t, err)
	_, err = svc.RecordEvidence(ctx, constants.SeverityHigh)
	require.NoError(t, err)
	level, err := svc.RecordEvidence(ctx, constants.SeverityMedium)
	require.NoError(t, err)
	require.Equal(t, constants.ProtectionEnhanced, level)

	// One clean sweep drops the score below the promotion threshold.
	level, err = svc.RecordCleanSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtectionStandard, level)

	_, score, err := svc.Level(ctx)
	require.NoError(t, err)
	assert.Equal(t, 48, score)
}

func TestProtectionScoreNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newProtectionFixture()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordCleanSweep(ctx)
		require.NoError(t, err)
	}

	level, score, err := svc.Level(ctx)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtectionStandard, level)
	assert.Zero(t, score)
}

func TestHardeningFiresOncePerUpwardTransition(t *testing.T) {
	ctx := context.Background()
	svc, _, enforcer := newProtectionFixture()

	_, err := svc.RecordEvidence(ctx, constants.SeverityCritical)
	require.NoError(t, err)
	level, err := svc.RecordEvidence(ctx, constants.SeverityMedium)
	require.NoError(t, err)
	require.Equal(t, constants.ProtectionEnhanced, level)
	require.True(t, enforcer.devOptionsDisabled)

	// More evidence within the same level must not re-run the hardening.
	enforcer.devOptionsDisabled = false
	level, err = svc.RecordEvidence(ctx, constants.SeverityMedium)
	require.NoError(t, err)
	assert.Equal(t, constants.ProtectionEnhanced, level)
	assert.False(t, enforcer.devOptionsDisabled)
}

package service

import (
	"context"
	"sync"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// fieldClass fixes severity and change type per monitored field. Identifier
// fields collected at registration never legitimately change for the
// device's lifetime; a change there is evidence of device swap.
type fieldClass struct {
	severity   constants.Severity
	changeType constants.ChangeType
}

var fieldTable = map[string]fieldClass{
	"imei":               {constants.SeverityCritical, constants.ChangeTypeIdentifier},
	"serial_number":      {constants.SeverityCritical, constants.ChangeTypeIdentifier},
	"android_id":         {constants.SeverityCritical, constants.ChangeTypeIdentifier},
	"device_fingerprint": {constants.SeverityCritical, constants.ChangeTypeIdentifier},

	"rooted":        {constants.SeverityHigh, constants.ChangeTypeSecurityFlag},
	"usb_debugging": {constants.SeverityHigh, constants.ChangeTypeSecurityFlag},
	"developer_mode": {constants.SeverityHigh, constants.ChangeTypeSecurityFlag},

	"bootloader":          {constants.SeverityMedium, constants.ChangeTypeEnvironment},
	"bootloader_unlocked": {constants.SeverityHigh, constants.ChangeTypeSecurityFlag},
	"hardware":            {constants.SeverityMedium, constants.ChangeTypeEnvironment},
	"installed_apps_hash": {constants.SeverityMedium, constants.ChangeTypeEnvironment},
	"system_props_hash":   {constants.SeverityMedium, constants.ChangeTypeEnvironment},

	"manufacturer":      {constants.SeverityCritical, constants.ChangeTypeIdentifier},
	"model":             {constants.SeverityCritical, constants.ChangeTypeIdentifier},
	"sim_serial_number": {constants.SeverityMedium, constants.ChangeTypeEnvironment},
}

// ChangeDetector diffs fresh identity snapshots against the stored baseline.
type ChangeDetector struct {
	source   IdentitySource
	baseline repository.BaselineRepository
	history  repository.ChangeHistoryRepository
	audit    *logger.AuditLogger
	logger   logger.Logger

	// mu serializes baseline read-modify-write so a concurrent first call
	// cannot seed two different baselines.
	mu sync.Mutex
}

// NewChangeDetector creates a detector over the given baseline store.
func NewChangeDetector(
	source IdentitySource,
	baseline repository.BaselineRepository,
	history repository.ChangeHistoryRepository,
	audit *logger.AuditLogger,
	log logger.Logger,
) *ChangeDetector {
	return &ChangeDetector{
		source:   source,
		baseline: baseline,
		history:  history,
		audit:    audit,
		logger:   log.WithComponent("change-detector"),
	}
}

// InitializeBaseline snapshots the current identity and stores it as the
// baseline. Used at first run and at explicit post-verification checkpoints.
func (d *ChangeDetector) InitializeBaseline(ctx context.Context) (*models.DeviceProfile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initializeLocked(ctx)
}

func (d *ChangeDetector) initializeLocked(ctx context.Context) (*models.DeviceProfile, error) {
	profile, err := d.source.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.baseline.Store(ctx, profile); err != nil {
		return nil, err
	}
	d.logger.Info(ctx, "Identity baseline established",
		logger.Time("captured_at", profile.CapturedAt),
	)
	return profile, nil
}

// CheckForChanges re-collects current identity and diffs it field-by-field
// against the baseline. When no baseline exists yet the call seeds one and
// reports no changes; the first call is never a false positive.
func (d *ChangeDetector) CheckForChanges(ctx context.Context) (*models.ComparisonResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	base, err := d.baseline.Load(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		if _, seedErr := d.initializeLocked(ctx); seedErr != nil {
			return nil, seedErr
		}
		return &models.ComparisonResult{BaselineSeeded: true}, nil
	}

	current, err := d.source.Collect(ctx)
	if err != nil {
		return nil, err
	}

	result := diff(base, current, time.Now().UTC())

	if result.HasChanges {
		for _, change := range result.Changes {
			d.audit.LogIdentityChange(ctx, change.Field, change.Severity)
		}
		if err := d.history.Append(ctx, result.Changes); err != nil {
			// History is informational; a failed append must not hide the
			// comparison result from the lock engine.
			d.logger.Warn(ctx, "Failed to append change history",
				logger.String("reason", err.Error()),
			)
		}
	}

	return result, nil
}

// UpdateBaseline advances the baseline to the current identity. This is the
// only legitimate way the baseline moves; it must be called only after a
// change has been explicitly verified and accepted by the backend.
func (d *ChangeDetector) UpdateBaseline(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.initializeLocked(ctx)
	return err
}

// CurrentProfile captures a fresh identity snapshot without touching the
// baseline.
func (d *ChangeDetector) CurrentProfile(ctx context.Context) (*models.DeviceProfile, error) {
	return d.source.Collect(ctx)
}

// diff compares the monitored fields of two profiles using the fixed
// field table. Unknown fields are ignored; aggregate severity is the max
// over all changes.
func diff(base, current *models.DeviceProfile, now time.Time) *models.ComparisonResult {
	baseFields := base.IdentityFields()
	currentFields := current.IdentityFields()

	result := &models.ComparisonResult{}
	for field, class := range fieldTable {
		baseValue, inBase := baseFields[field]
		currentValue, inCurrent := currentFields[field]
		if !inBase || !inCurrent {
			continue
		}
		// Empty-on-both-sides is not a change; an identifier the platform
		// never exposed cannot mismatch.
		if baseValue == currentValue || (baseValue == "" && currentValue == "") {
			continue
		}

		result.Changes = append(result.Changes, models.ChangeDetail{
			Field:         field,
			BaselineValue: baseValue,
			CurrentValue:  currentValue,
			Severity:      class.severity,
			ChangeType:    class.changeType,
			DetectedAt:    now,
		})
		result.HasChanges = true
		result.Severity = constants.MaxSeverity(result.Severity, class.severity)
	}

	return result
}

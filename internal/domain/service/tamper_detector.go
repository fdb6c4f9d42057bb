package service

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/logger"
)

// coreSeverity maps the high-frequency probe set to the severity each flag
// contributes to the aggregate.
var coreSeverity = map[constants.TamperFlag]constants.Severity{
	constants.TamperFlagRooted:              constants.SeverityCritical,
	constants.TamperFlagBootloaderUnlocked:  constants.SeverityCritical,
	constants.TamperFlagBackendDataMismatch: constants.SeverityCritical,
	constants.TamperFlagCustomROM:           constants.SeverityHigh,
	constants.TamperFlagUSBDebugging:        constants.SeverityHigh,
	constants.TamperFlagDeveloperMode:       constants.SeverityHigh,
	constants.TamperFlagLocalDataTampered:   constants.SeverityHigh,
}

// advancedSeverity maps the extended probe set run by the lower-frequency
// sweep. The two sets are intentionally decoupled so core checks can run at
// high frequency without re-triggering the expensive ones.
var advancedSeverity = map[constants.TamperFlag]constants.Severity{
	constants.TamperFlagSELinuxModified:     constants.SeverityHigh,
	constants.TamperFlagSystemFilesModified: constants.SeverityHigh,
	constants.TamperFlagSuspiciousPackages:  constants.SeverityHigh,
	constants.TamperFlagXposedInstalled:     constants.SeverityHigh,
	constants.TamperFlagMagiskInstalled:     constants.SeverityHigh,
	constants.TamperFlagEmulator:            constants.SeverityMedium,
	constants.TamperFlagAppDebuggable:       constants.SeverityMedium,
}

// advancedCacheKey stores the last advanced report between sweeps.
const advancedCacheKey = "advanced_report"

// ProbeFunc evaluates one tamper check. Implementations may fail; a failing
// probe is treated as "not detected" and never blocks sibling probes.
type ProbeFunc func(ctx context.Context) (bool, error)

// TamperDetector runs the probe battery and aggregates results into
// severity-classified reports. Probe resolution uses a static registry:
// overrides registered at construction win over the identity source.
type TamperDetector struct {
	source    IdentitySource
	overrides map[constants.TamperFlag]ProbeFunc
	incidents repository.IncidentRepository
	audit     *logger.AuditLogger
	logger    logger.Logger
	metrics   Metrics
	cache     *gocache.Cache
	deviceID  string
	now       func() time.Time
}

// NewTamperDetector creates a detector. The overrides table binds flags that
// the identity source cannot answer (integrity checkpoint, file watcher,
// backend mismatch latch) to their providers.
func NewTamperDetector(
	source IdentitySource,
	overrides map[constants.TamperFlag]ProbeFunc,
	incidents repository.IncidentRepository,
	audit *logger.AuditLogger,
	log logger.Logger,
	advancedTTL time.Duration,
	deviceID string,
	metrics Metrics,
) *TamperDetector {
	if overrides == nil {
		overrides = make(map[constants.TamperFlag]ProbeFunc)
	}
	if advancedTTL <= 0 {
		advancedTTL = constants.DefaultAdvancedCheckTTL
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &TamperDetector{
		source:    source,
		overrides: overrides,
		incidents: incidents,
		audit:     audit,
		logger:    log.WithComponent("tamper-detector"),
		metrics:   metrics,
		cache:     gocache.New(advancedTTL, advancedTTL),
		deviceID:  deviceID,
		now:       time.Now,
	}
}

// GetTamperStatus runs the core probe set and returns a fresh aggregate.
// Severity is the maximum over all triggered flags.
func (d *TamperDetector) GetTamperStatus(ctx context.Context) *models.TamperStatus {
	return d.sweep(ctx, coreSeverity)
}

// PerformAdvancedCheck runs the extended probe set. The result is cached for
// the configured TTL; callers inside the TTL window get the previous report
// rather than a fresh sweep.
func (d *TamperDetector) PerformAdvancedCheck(ctx context.Context) *models.TamperStatus {
	if cached, ok := d.cache.Get(advancedCacheKey); ok {
		return cached.(*models.TamperStatus)
	}

	status := d.sweep(ctx, advancedSeverity)
	d.cache.SetDefault(advancedCacheKey, status)
	return status
}

// sweep evaluates every probe in the table independently and aggregates by
// monotonic max severity. Each positive detection is recorded as its own
// audit incident regardless of the aggregate.
func (d *TamperDetector) sweep(ctx context.Context, table map[constants.TamperFlag]constants.Severity) *models.TamperStatus {
	status := models.NewTamperStatus(d.now().UTC())

	for flag, severity := range table {
		detected := d.probe(ctx, flag)
		if !detected {
			continue
		}

		status.AddFlag(flag, severity)
		d.metrics.RecordTamperFlag(flag)
		d.recordIncident(ctx, flag, severity)
	}

	return status
}

// probe evaluates one flag defensively: panics and errors are contained and
// reported as "not detected" so a single failing check cannot blind the
// rest of the detector or crash the caller.
func (d *TamperDetector) probe(ctx context.Context, flag constants.TamperFlag) (detected bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "Tamper probe panicked",
				nil,
				logger.String("flag", string(flag)),
				logger.Any("panic", r),
			)
			detected = false
		}
	}()

	fn, ok := d.overrides[flag]
	if !ok {
		fn = func(ctx context.Context) (bool, error) {
			return d.source.Probe(ctx, flag)
		}
	}

	result, err := fn(ctx)
	if err != nil {
		d.logger.Warn(ctx, "Tamper probe failed, treating as not detected",
			logger.String("flag", string(flag)),
			logger.String("reason", err.Error()),
		)
		return false
	}
	return result
}

// recordIncident writes the forensic trail entry for one positive probe.
// Persistence failures here are informational and swallowed after logging.
func (d *TamperDetector) recordIncident(ctx context.Context, flag constants.TamperFlag, severity constants.Severity) {
	d.audit.LogTamperIncident(ctx, flag, severity)

	incident := models.NewAuditIncident(d.deviceID, constants.AuditEventTamperDetected, severity,
		"tamper flag triggered: "+string(flag)).
		WithMetadata(map[string]string{"flag": string(flag)})

	if err := d.incidents.Append(ctx, incident); err != nil {
		d.logger.Warn(ctx, "Failed to persist tamper incident",
			logger.String("flag", string(flag)),
			logger.String("reason", err.Error()),
		)
	}
}

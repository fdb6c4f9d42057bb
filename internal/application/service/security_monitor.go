package service

import (
	"context"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
	domainsvc "github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/logger"
)

// SystemWatch is the modified-path latch fed by the filesystem watcher. The
// latch stays set until an advanced tamper sweep has recorded the finding
// and releases it through Reset.
type SystemWatch interface {
	Run(ctx context.Context)
	Modified() (bool, string)
	Reset()
}

// SecurityMonitor is the fast local loop. Between heartbeats it keeps OS
// enforcement converged with the lock records, watches for privilege loss,
// probes the security-trigger conditions, runs the lower-cadence advanced
// tamper sweep and reacts to filesystem tampering without waiting for the
// server.
type SecurityMonitor struct {
	deviceID string

	engine   *domainsvc.LockEngine
	tamper   *domainsvc.TamperDetector
	source   domainsvc.IdentitySource
	enforcer domainsvc.Enforcer
	watcher  SystemWatch
	interval time.Duration

	audit  *logger.AuditLogger
	logger logger.Logger

	// ownerLost and adminLost latch privilege loss so each is reacted to
	// once, not on every tick.
	ownerLost bool
	adminLost bool
}

// NewSecurityMonitor wires the local monitoring loop. watcher may be nil
// when no watch paths are configured.
func NewSecurityMonitor(
	deviceID string,
	engine *domainsvc.LockEngine,
	tamper *domainsvc.TamperDetector,
	source domainsvc.IdentitySource,
	enforcer domainsvc.Enforcer,
	watcher SystemWatch,
	interval time.Duration,
	audit *logger.AuditLogger,
	log logger.Logger,
) *SecurityMonitor {
	if interval <= 0 {
		interval = constants.DefaultMonitorInterval
	}
	return &SecurityMonitor{
		deviceID: deviceID,
		engine:   engine,
		tamper:   tamper,
		source:   source,
		enforcer: enforcer,
		watcher:  watcher,
		interval: interval,
		audit:    audit,
		logger:   log.WithComponent("security-monitor"),
	}
}

// Run executes monitor ticks until the context ends.
func (m *SecurityMonitor) Run(ctx context.Context) error {
	if m.watcher != nil {
		go m.watcher.Run(ctx)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one monitor pass.
func (m *SecurityMonitor) Tick(ctx context.Context) {
	m.checkPrivilege(ctx)
	m.checkUninstallGuard(ctx)
	m.checkSecurityTriggers(ctx)
	m.checkWatcher(ctx)
	m.runAdvancedSweep(ctx)
	m.engine.ReconcileEnforcement(ctx)
}

// checkPrivilege verifies the agent still holds device-owner privilege.
// Losing it means someone is dismantling the agent; the response is an
// immediate hard lock while admin rights remain.
func (m *SecurityMonitor) checkPrivilege(ctx context.Context) {
	owner, err := m.enforcer.IsDeviceOwner(ctx)
	if err != nil {
		m.logger.Warn(ctx, "Device owner check failed",
			logger.String("reason", err.Error()),
		)
		return
	}

	if owner {
		m.ownerLost = false
		return
	}
	if m.ownerLost {
		return
	}
	m.ownerLost = true

	m.audit.LogAuditEvent(ctx, constants.AuditEventDeviceOwnerLost, constants.SeverityCritical,
		logger.String("device_id", m.deviceID),
	)

	lock := models.NewDeviceLock(m.deviceID, constants.LockTypeHard, constants.LockReasonSecurityViolation,
		"Device security compromised: device owner privilege lost")
	lock.LockID = models.DeriveLockID("owner-lost:" + m.deviceID)
	if err := m.engine.ApplyLock(ctx, lock); err != nil {
		m.logger.Error(ctx, "Failed to apply recovery lock", err)
	}
}

// checkUninstallGuard verifies the device-admin grant that blocks agent
// uninstall is still in place. Admin loss alone does not lock; the owner
// check above covers full privilege loss. It is recorded once per loss.
func (m *SecurityMonitor) checkUninstallGuard(ctx context.Context) {
	admin, err := m.enforcer.IsDeviceAdmin(ctx)
	if err != nil {
		m.logger.Warn(ctx, "Device admin check failed",
			logger.String("reason", err.Error()),
		)
		return
	}

	if admin {
		m.adminLost = false
		return
	}
	if m.adminLost {
		return
	}
	m.adminLost = true

	m.audit.LogAuditEvent(ctx, constants.AuditEventSuspiciousActivity, constants.SeverityHigh,
		logger.String("device_id", m.deviceID),
		logger.String("check", "uninstall_guard"),
	)
	m.logger.Warn(ctx, "Device admin privilege lost, uninstall block inactive")
}

// checkSecurityTriggers probes the conditions that warrant a dismissible
// warning rather than an immediate lock: developer options or USB debugging
// turned on, and a boot into safe mode. The fixed trigger keys deduplicate
// while unresolved and re-trigger if the condition persists after
// resolution.
func (m *SecurityMonitor) checkSecurityTriggers(ctx context.Context) {
	if m.probeFlag(ctx, constants.TamperFlagDeveloperMode) || m.probeFlag(ctx, constants.TamperFlagUSBDebugging) {
		m.raiseTrigger(ctx, constants.LockReasonDeveloperOptions, "developer-options",
			"Developer options enabled",
			"Developer options or USB debugging is enabled. Disable them to keep the device compliant.")
	}
	if m.probeFlag(ctx, constants.TamperFlagSafeMode) {
		m.raiseTrigger(ctx, constants.LockReasonSafeMode, "safe-mode",
			"Safe mode detected",
			"The device was booted into safe mode. Restart normally to keep the device compliant.")
	}
}

func (m *SecurityMonitor) probeFlag(ctx context.Context, flag constants.TamperFlag) bool {
	detected, err := m.source.Probe(ctx, flag)
	if err != nil {
		m.logger.Warn(ctx, "Security trigger probe failed",
			logger.String("flag", string(flag)),
			logger.String("reason", err.Error()),
		)
		return false
	}
	return detected
}

func (m *SecurityMonitor) raiseTrigger(ctx context.Context, reason constants.LockReason, triggerKey, title, message string) {
	if _, err := m.engine.TriggerSoftLock(ctx, constants.SoftLockTypeTrigger, reason, triggerKey, title, message); err != nil {
		m.logger.Error(ctx, "Failed to raise security trigger", err,
			logger.String("trigger_key", triggerKey),
		)
	}
}

// checkWatcher reacts to filesystem modification events latched by the
// fsnotify watcher. The tamper detector also reads the latch through its
// probe; this path exists so the reaction does not wait for the next
// heartbeat.
func (m *SecurityMonitor) checkWatcher(ctx context.Context) {
	if m.watcher == nil {
		return
	}
	modified, path := m.watcher.Modified()
	if !modified {
		return
	}

	m.audit.LogTamperIncident(ctx, constants.TamperFlagSystemFilesModified, constants.SeverityHigh)
	m.logger.Warn(ctx, "Monitored system file modified",
		logger.String("path", path),
	)
}

// runAdvancedSweep runs the extended probe battery at the cadence the TTL
// cache allows and feeds the verdict to the lock engine. Once a sweep has
// recorded the SYSTEM_FILES_MODIFIED finding, the watcher latch is released
// so the flag tracks fresh modifications rather than staying set forever.
func (m *SecurityMonitor) runAdvancedSweep(ctx context.Context) {
	status := m.tamper.PerformAdvancedCheck(ctx)
	if err := m.engine.HandleTamperStatus(ctx, status); err != nil {
		m.logger.Error(ctx, "Failed to act on advanced tamper status", err)
	}
	if m.watcher != nil && status.HasFlag(constants.TamperFlagSystemFilesModified) {
		m.watcher.Reset()
	}
}

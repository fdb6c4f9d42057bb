// Package constants defines system-wide constants for the Device Sentinel agent.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Lock Type Constants
// ================================================================================

// LockType represents the enforcement class of a device lock.
type LockType string

const (
	// LockTypeSoft is a dismissible warning overlay; the device stays usable
	// and escalates to a hard lock when the escalation window elapses.
	LockTypeSoft LockType = "SOFT"

	// LockTypeHard is a full-screen, non-dismissible block requiring a PIN or
	// a backend-authorized unlock.
	LockTypeHard LockType = "HARD"

	// LockTypePermanent is a terminal hard lock that only a backend-authorized
	// unlock can clear.
	LockTypePermanent LockType = "PERMANENT"
)

// Rank orders lock types by severity so the effective enforced state can be
// computed as a maximum. Higher is more severe.
func (t LockType) Rank() int {
	switch t {
	case LockTypeSoft:
		return 1
	case LockTypeHard:
		return 2
	case LockTypePermanent:
		return 3
	default:
		return 0
	}
}

// LockState is the effective enforced state of the device, derived from the
// set of active lock records.
type LockState string

const (
	LockStateUnlocked        LockState = "UNLOCKED"
	LockStateSoftLocked      LockState = "SOFT_LOCKED"
	LockStateHardLocked      LockState = "HARD_LOCKED"
	LockStatePermanentLocked LockState = "PERMANENT_LOCKED"
)

// StateForLockType maps a lock type to the device state it enforces.
func StateForLockType(t LockType) LockState {
	switch t {
	case LockTypeSoft:
		return LockStateSoftLocked
	case LockTypeHard:
		return LockStateHardLocked
	case LockTypePermanent:
		return LockStatePermanentLocked
	default:
		return LockStateUnlocked
	}
}

// LockStatus represents the lifecycle status of a lock record.
type LockStatus string

const (
	// LockStatusActive indicates the lock is currently enforced.
	LockStatusActive LockStatus = "ACTIVE"

	// LockStatusResolved indicates the lock has been cleared.
	LockStatusResolved LockStatus = "RESOLVED"
)

// LockReason is the canonical taxonomy of why a lock was applied.
type LockReason string

const (
	LockReasonPaymentOverdue    LockReason = "payment_overdue"
	LockReasonPaymentDefault    LockReason = "payment_default"
	LockReasonSecurityViolation LockReason = "security_violation"
	LockReasonTamperDetected    LockReason = "tamper_detected"
	LockReasonDeviceSwap        LockReason = "device_swap"
	LockReasonAdminCommand      LockReason = "admin_command"
	LockReasonSafeMode          LockReason = "safe_mode"
	LockReasonDeveloperOptions  LockReason = "developer_options"
	LockReasonEscalation        LockReason = "soft_lock_escalated"
	LockReasonOwnerLost         LockReason = "device_owner_lost"
)

// ================================================================================
// Tamper Flag Constants
// ================================================================================

// TamperFlag is a single named detection result produced by one probe.
type TamperFlag string

const (
	TamperFlagRooted              TamperFlag = "ROOTED"
	TamperFlagBootloaderUnlocked  TamperFlag = "BOOTLOADER_UNLOCKED"
	TamperFlagCustomROM           TamperFlag = "CUSTOM_ROM"
	TamperFlagUSBDebugging        TamperFlag = "USB_DEBUGGING"
	TamperFlagDeveloperMode       TamperFlag = "DEVELOPER_MODE"
	TamperFlagXposedInstalled     TamperFlag = "XPOSED_INSTALLED"
	TamperFlagMagiskInstalled     TamperFlag = "MAGISK_INSTALLED"
	TamperFlagEmulator            TamperFlag = "EMULATOR"
	TamperFlagAppDebuggable       TamperFlag = "APP_DEBUGGABLE"
	TamperFlagSuspiciousPackages  TamperFlag = "SUSPICIOUS_PACKAGES"
	TamperFlagSystemFilesModified TamperFlag = "SYSTEM_FILES_MODIFIED"
	TamperFlagSELinuxModified     TamperFlag = "SELINUX_MODIFIED"
	TamperFlagSafeMode            TamperFlag = "SAFE_MODE"
	TamperFlagLocalDataTampered   TamperFlag = "LOCAL_DATA_TAMPERED"
	TamperFlagBackendDataMismatch TamperFlag = "BACKEND_DATA_MISMATCH"
)

// ================================================================================
// Severity Constants
// ================================================================================

// Severity classifies tamper evidence and identity changes. Aggregation over
// a set of findings is always the maximum, never an average.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the canonical name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b > a {
		return b
	}
	return a
}

// ================================================================================
// Change Type Constants
// ================================================================================

// ChangeType classifies how a monitored identity field differed from baseline.
type ChangeType string

const (
	// ChangeTypeIdentifier covers hardware identifiers that must never change.
	ChangeTypeIdentifier ChangeType = "identifier"

	// ChangeTypeSecurityFlag covers root/debug/developer-mode style flags.
	ChangeTypeSecurityFlag ChangeType = "security_flag"

	// ChangeTypeEnvironment covers software environment hashes and versions.
	ChangeTypeEnvironment ChangeType = "environment"
)

// ================================================================================
// Command Constants
// ================================================================================

// CommandType identifies a server or locally derived offline command.
type CommandType string

const (
	CommandLockDevice    CommandType = "LOCK_DEVICE"
	CommandUnlockDevice  CommandType = "UNLOCK_DEVICE"
	CommandWarn          CommandType = "WARN"
	CommandPermanentLock CommandType = "PERMANENT_LOCK"
	CommandWipeData      CommandType = "WIPE_DATA"
	CommandRebootDevice  CommandType = "REBOOT_DEVICE"
	CommandUpdateApp     CommandType = "UPDATE_APP"
)

// CommandStatus represents the processing status of a queued command.
type CommandStatus string

const (
	CommandStatusPending  CommandStatus = "pending"
	CommandStatusExecuted CommandStatus = "executed"
	CommandStatusFailed   CommandStatus = "failed"
	CommandStatusExpired  CommandStatus = "expired"
)

// ================================================================================
// Protection Level Constants
// ================================================================================

// ProtectionLevel is driven by the accumulated threat score.
type ProtectionLevel string

const (
	ProtectionStandard ProtectionLevel = "STANDARD"
	ProtectionEnhanced ProtectionLevel = "ENHANCED"
	ProtectionCritical ProtectionLevel = "CRITICAL"
)

const (
	// ThreatScoreMax is the clamp ceiling for the accumulated threat score.
	ThreatScoreMax = 100

	// ThreatScoreEnhancedThreshold promotes STANDARD to ENHANCED.
	ThreatScoreEnhancedThreshold = 50

	// ThreatScoreCriticalThreshold promotes ENHANCED to CRITICAL.
	ThreatScoreCriticalThreshold = 80
)

// Rank orders protection levels for comparison.
func (l ProtectionLevel) Rank() int {
	switch l {
	case ProtectionCritical:
		return 3
	case ProtectionEnhanced:
		return 2
	case ProtectionStandard:
		return 1
	default:
		return 0
	}
}

// LevelForScore maps a clamped threat score to a protection level.
func LevelForScore(score int) ProtectionLevel {
	switch {
	case score >= ThreatScoreCriticalThreshold:
		return ProtectionCritical
	case score >= ThreatScoreEnhancedThreshold:
		return ProtectionEnhanced
	default:
		return ProtectionStandard
	}
}

// ================================================================================
// Soft Lock Constants
// ================================================================================

// SoftLockType distinguishes security triggers from payment reminders.
type SoftLockType string

const (
	SoftLockTypeTrigger         SoftLockType = "TRIGGER"
	SoftLockTypePaymentReminder SoftLockType = "PAYMENT_REMINDER"
)

// SoftLockAction is a user response relayed by the overlay UI.
type SoftLockAction string

const (
	SoftLockActionAcknowledge SoftLockAction = "ACKNOWLEDGE"
	SoftLockActionDismiss     SoftLockAction = "DISMISS"
)

// ================================================================================
// Audit Event Constants
// ================================================================================

// AuditEventType classifies entries in the forensic incident trail.
type AuditEventType string

const (
	AuditEventTamperDetected     AuditEventType = "tamper_detected"
	AuditEventIdentityChanged    AuditEventType = "identity_changed"
	AuditEventLockApplied        AuditEventType = "lock_applied"
	AuditEventLockRemoved        AuditEventType = "lock_removed"
	AuditEventLockEscalated      AuditEventType = "lock_escalated"
	AuditEventCommandExecuted    AuditEventType = "command_executed"
	AuditEventCommandRejected    AuditEventType = "command_rejected"
	AuditEventEnforcementFailed  AuditEventType = "enforcement_failed"
	AuditEventDeviceOwnerLost    AuditEventType = "device_owner_lost"
	AuditEventProtectionChanged  AuditEventType = "protection_level_changed"
	AuditEventHeartbeatFailed    AuditEventType = "heartbeat_failed"
	AuditEventDataWipe           AuditEventType = "data_wipe"
	AuditEventDeactivationNotice AuditEventType = "deactivation_notice"
	AuditEventSuspiciousActivity AuditEventType = "suspicious_activity"
)

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode is the machine-readable error classification.
type ErrorCode string

const (
	ErrCodeInternal           ErrorCode = "internal_error"
	ErrCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrCodeNotFound           ErrorCode = "not_found"
	ErrCodeConflict           ErrorCode = "conflict"
	ErrCodeExpired            ErrorCode = "expired"
	ErrCodeSignatureInvalid   ErrorCode = "signature_invalid"
	ErrCodeEnforcementFailed  ErrorCode = "enforcement_failed"
	ErrCodeStoreUnavailable   ErrorCode = "store_unavailable"
	ErrCodePermanentLock      ErrorCode = "permanent_lock"
	ErrCodeTransportFailed    ErrorCode = "transport_failed"
	ErrCodeUnauthorized       ErrorCode = "unauthorized"
	ErrCodeServiceUnavailable ErrorCode = "service_unavailable"
)

// ================================================================================
// Log Level Constants
// ================================================================================

// LogLevel represents logging severity levels.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

// ContextKey is the type for request-scoped context values.
type ContextKey string

const (
	// ContextKeyDeviceID carries the registered device identifier.
	ContextKeyDeviceID ContextKey = "device_id"

	// ContextKeyCycleID carries the reconciliation cycle identifier.
	ContextKeyCycleID ContextKey = "cycle_id"
)

// ================================================================================
// Default Intervals and Windows
// ================================================================================

const (
	// DefaultHeartbeatInterval is the base reconciliation period.
	DefaultHeartbeatInterval = 60 * time.Second

	// MinHeartbeatInterval is the floor applied when the protection level is
	// elevated or the previous send failed.
	MinHeartbeatInterval = 15 * time.Second

	// DefaultMonitorInterval drives the security monitor sub-checks and
	// enforcement reconciliation.
	DefaultMonitorInterval = 10 * time.Second

	// DefaultCommandPollInterval drives the command queue processor.
	DefaultCommandPollInterval = 20 * time.Second

	// DefaultEscalationWindow is the soft-lock escalation deadline offset.
	DefaultEscalationWindow = 24 * time.Hour

	// DefaultPaymentReminderWindow controls how far ahead of the next due
	// date a payment-reminder soft lock is raised.
	DefaultPaymentReminderWindow = 48 * time.Hour

	// DefaultChangeHistoryLimit bounds the append-only change history ring.
	DefaultChangeHistoryLimit = 500

	// DefaultAdvancedCheckTTL caches extended probe results between the
	// lower-frequency advanced sweeps.
	DefaultAdvancedCheckTTL = 5 * time.Minute
)

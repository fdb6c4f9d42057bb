package models

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexivo/sentinel/pkg/constants"
)

// DeviceLock is a single lock record owned exclusively by the lock engine.
// Multiple active locks may coexist; the effective enforced state is the
// maximum-severity lock among them.
type DeviceLock struct {
	LockID            string               `gorm:"primaryKey" json:"lock_id"`
	DeviceID          string               `gorm:"index" json:"device_id"`
	LockType          constants.LockType   `json:"lock_type"`
	LockStatus        constants.LockStatus `gorm:"index" json:"lock_status"`
	LockReason        constants.LockReason `json:"lock_reason"`
	Message           string               `json:"message"`
	ExpiresAt         *time.Time           `json:"expires_at,omitempty"` // nil = never
	PinRequired       bool                 `json:"pin_required"`
	BackendUnlockOnly bool                 `json:"backend_unlock_only"`

	// Enforced records whether the OS-level enforcement action has been
	// confirmed. A persisted record with Enforced=false is retried by the
	// monitor loop; the record, not the OS state, is the source of truth.
	Enforced bool `json:"enforced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName maps the model to its sqlite table.
func (DeviceLock) TableName() string {
	return "device_locks"
}

// NewDeviceLock creates a lock record with a fresh id.
func NewDeviceLock(deviceID string, lockType constants.LockType, reason constants.LockReason, message string) *DeviceLock {
	now := time.Now().UTC()
	return &DeviceLock{
		LockID:            uuid.NewString(),
		DeviceID:          deviceID,
		LockType:          lockType,
		LockStatus:        constants.LockStatusActive,
		LockReason:        reason,
		Message:           message,
		PinRequired:       lockType == constants.LockTypeHard,
		BackendUnlockOnly: lockType == constants.LockTypePermanent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// DeriveLockID derives a deterministic lock id from a seed. Command
// execution seeds with the command id so executing the same LOCK_DEVICE
// command twice yields the same record; the engine seeds tamper and server
// locks with stable keys for the same reason.
func DeriveLockID(seed string) string {
	sum := sha256.Sum256([]byte("lock:" + seed))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// 16 bytes always form a valid UUID; keep a readable fallback anyway.
		return fmt.Sprintf("lock-%x", sum[:16])
	}
	return id.String()
}

// IsExpired reports whether the lock has a deadline in the past.
func (l *DeviceLock) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.IsZero() && l.ExpiresAt.Before(now)
}

// SoftLock tracks one soft-lock instance with its escalation lifecycle.
// Exactly one of resolution or escalation terminates each instance.
type SoftLock struct {
	LockID      string                 `gorm:"primaryKey" json:"lock_id"`
	Reason      constants.LockReason   `json:"reason"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Type        constants.SoftLockType `json:"type"`
	TriggerKey  string                 `gorm:"index" json:"trigger_key"`
	CreatedAt   time.Time              `json:"created_at"`
	LastShownAt *time.Time             `json:"last_shown_at,omitempty"`
	IsResolved  bool                   `gorm:"index" json:"is_resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	Metadata    string                 `json:"metadata,omitempty"` // JSON blob
}

// TableName maps the model to its sqlite table.
func (SoftLock) TableName() string {
	return "soft_locks"
}

// NewSoftLock creates a soft lock for the given trigger key. The trigger key
// deduplicates repeated triggers of the same kind while one instance is
// still unresolved.
func NewSoftLock(lockType constants.SoftLockType, reason constants.LockReason, triggerKey, title, message string) *SoftLock {
	return &SoftLock{
		LockID:     uuid.NewString(),
		Reason:     reason,
		Title:      title,
		Message:    message,
		Type:       lockType,
		TriggerKey: triggerKey,
		CreatedAt:  time.Now().UTC(),
	}
}

// Resolve marks the soft lock as resolved at the given time.
func (s *SoftLock) Resolve(now time.Time) {
	s.IsResolved = true
	s.ResolvedAt = &now
}

// EscalationDeadline is the persisted absolute deadline for one soft lock.
// Deadlines are stored as absolute timestamps, never relative delays, so a
// reboot cannot reset the escalation clock.
type EscalationDeadline struct {
	LockID   string    `gorm:"primaryKey" json:"lock_id"`
	Deadline time.Time `gorm:"index" json:"deadline"`
}

// TableName maps the model to its sqlite table.
func (EscalationDeadline) TableName() string {
	return "escalation_deadlines"
}

// Package repository defines the persistence contracts for the agent's
// durable state. Implementations live under
// internal/infrastructure/persistence/sqlite.
package repository

import (
	"context"

	"github.com/nexivo/sentinel/internal/domain/models"
)

// LockRepository persists device lock records. All read-modify-write
// sequences against this store are serialized by the lock engine; the
// repository itself only guarantees durability of individual operations.
type LockRepository interface {
	// Save persists a lock record, inserting or replacing by lock id.
	Save(ctx context.Context, lock *models.DeviceLock) error

	// FindByID returns the lock with the given id, or ErrLockNotFound.
	FindByID(ctx context.Context, lockID string) (*models.DeviceLock, error)

	// ActiveLocks returns every lock record currently in ACTIVE status.
	ActiveLocks(ctx context.Context) ([]*models.DeviceLock, error)

	// Delete removes the lock record. Missing records are not an error;
	// delete is idempotent so the reconciliation loop can retry safely.
	Delete(ctx context.Context, lockID string) error
}

// SoftLockRepository persists soft-lock instances.
type SoftLockRepository interface {
	// Save persists a soft-lock record, inserting or replacing by lock id.
	Save(ctx context.Context, lock *models.SoftLock) error

	// FindByID returns the soft lock with the given id, or ErrSoftLockNotFound.
	FindByID(ctx context.Context, lockID string) (*models.SoftLock, error)

	// FindUnresolvedByTrigger returns the unresolved soft lock for a trigger
	// key, or ErrSoftLockNotFound. Used to deduplicate repeated triggers.
	FindUnresolvedByTrigger(ctx context.Context, triggerKey string) (*models.SoftLock, error)

	// Unresolved returns all soft locks that are neither resolved nor
	// escalated yet.
	Unresolved(ctx context.Context) ([]*models.SoftLock, error)

	// Delete removes the soft-lock record. Idempotent.
	Delete(ctx context.Context, lockID string) error
}

// EscalationRepository persists absolute escalation deadlines, one per soft
// lock. Deadlines survive process death and reboot; cancellation of
// in-memory timers must never delete these records.
type EscalationRepository interface {
	// Save persists the absolute deadline for a soft lock.
	Save(ctx context.Context, deadline *models.EscalationDeadline) error

	// FindByLockID returns the deadline for a soft lock, or a not-found error.
	FindByLockID(ctx context.Context, lockID string) (*models.EscalationDeadline, error)

	// All returns every persisted deadline, used to reconstruct timers at
	// startup.
	All(ctx context.Context) ([]*models.EscalationDeadline, error)

	// Delete removes the deadline record. Idempotent.
	Delete(ctx context.Context, lockID string) error
}

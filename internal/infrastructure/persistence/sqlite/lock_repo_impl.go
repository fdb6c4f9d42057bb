package sqlite

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// LockRepoImpl implements LockRepository on sqlite.
type LockRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewLockRepository creates a sqlite-backed lock repository.
func NewLockRepository(db *gorm.DB, log logger.Logger) repository.LockRepository {
	return &LockRepoImpl{db: db, logger: log}
}

// Save inserts or replaces the lock record by lock id.
func (r *LockRepoImpl) Save(ctx context.Context, lock *models.DeviceLock) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(lock).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to save lock", err, logger.String("lock_id", lock.LockID))
		return errors.ErrStoreUnavailable("save lock").WithCause(err)
	}
	return nil
}

// FindByID returns the lock record with the given id.
func (r *LockRepoImpl) FindByID(ctx context.Context, lockID string) (*models.DeviceLock, error) {
	var lock models.DeviceLock
	err := r.db.WithContext(ctx).Where("lock_id = ?", lockID).First(&lock).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrLockNotFound(lockID)
		}
		return nil, errors.ErrStoreUnavailable("find lock").WithCause(err)
	}
	return &lock, nil
}

// ActiveLocks returns every lock in ACTIVE status, oldest first.
func (r *LockRepoImpl) ActiveLocks(ctx context.Context) ([]*models.DeviceLock, error) {
	var locks []*models.DeviceLock
	err := r.db.WithContext(ctx).
		Where("lock_status = ?", constants.LockStatusActive).
		Order("created_at asc").
		Find(&locks).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("list active locks").WithCause(err)
	}
	return locks, nil
}

// Delete removes the lock record. Missing records are not an error.
func (r *LockRepoImpl) Delete(ctx context.Context, lockID string) error {
	err := r.db.WithContext(ctx).Where("lock_id = ?", lockID).Delete(&models.DeviceLock{}).Error
	if err != nil {
		return errors.ErrStoreUnavailable("delete lock").WithCause(err)
	}
	return nil
}

// SoftLockRepoImpl implements SoftLockRepository on sqlite.
type SoftLockRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewSoftLockRepository creates a sqlite-backed soft-lock repository.
func NewSoftLockRepository(db *gorm.DB, log logger.Logger) repository.SoftLockRepository {
	return &SoftLockRepoImpl{db: db, logger: log}
}

// Save inserts or replaces the soft-lock record by lock id.
func (r *SoftLockRepoImpl) Save(ctx context.Context, lock *models.SoftLock) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(lock).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to save soft lock", err, logger.String("lock_id", lock.LockID))
		return errors.ErrStoreUnavailable("save soft lock").WithCause(err)
	}
	return nil
}

// FindByID returns the soft lock with the given id.
func (r *SoftLockRepoImpl) FindByID(ctx context.Context, lockID string) (*models.SoftLock, error) {
	var lock models.SoftLock
	err := r.db.WithContext(ctx).Where("lock_id = ?", lockID).First(&lock).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrSoftLockNotFound(lockID)
		}
		return nil, errors.ErrStoreUnavailable("find soft lock").WithCause(err)
	}
	return &lock, nil
}

// FindUnresolvedByTrigger returns the unresolved soft lock for a trigger key.
func (r *SoftLockRepoImpl) FindUnresolvedByTrigger(ctx context.Context, triggerKey string) (*models.SoftLock, error) {
	var lock models.SoftLock
	err := r.db.WithContext(ctx).
		Where("trigger_key = ? AND is_resolved = ?", triggerKey, false).
		First(&lock).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrSoftLockNotFound(triggerKey)
		}
		return nil, errors.ErrStoreUnavailable("find soft lock by trigger").WithCause(err)
	}
	return &lock, nil
}

// Unresolved returns all unresolved soft locks, oldest first.
func (r *SoftLockRepoImpl) Unresolved(ctx context.Context) ([]*models.SoftLock, error) {
	var locks []*models.SoftLock
	err := r.db.WithContext(ctx).
		Where("is_resolved = ?", false).
		Order("created_at asc").
		Find(&locks).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("list soft locks").WithCause(err)
	}
	return locks, nil
}

// Delete removes the soft-lock record. Idempotent.
func (r *SoftLockRepoImpl) Delete(ctx context.Context, lockID string) error {
	err := r.db.WithContext(ctx).Where("lock_id = ?", lockID).Delete(&models.SoftLock{}).Error
	if err != nil {
		return errors.ErrStoreUnavailable("delete soft lock").WithCause(err)
	}
	return nil
}

// EscalationRepoImpl implements EscalationRepository on sqlite.
type EscalationRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewEscalationRepository creates a sqlite-backed escalation deadline store.
func NewEscalationRepository(db *gorm.DB, log logger.Logger) repository.EscalationRepository {
	return &EscalationRepoImpl{db: db, logger: log}
}

// Save inserts or replaces the deadline for a soft lock.
func (r *EscalationRepoImpl) Save(ctx context.Context, deadline *models.EscalationDeadline) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(deadline).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to save escalation deadline", err,
			logger.String("lock_id", deadline.LockID),
			logger.Time("deadline", deadline.Deadline),
		)
		return errors.ErrStoreUnavailable("save escalation deadline").WithCause(err)
	}
	return nil
}

// FindByLockID returns the deadline for a soft lock.
func (r *EscalationRepoImpl) FindByLockID(ctx context.Context, lockID string) (*models.EscalationDeadline, error) {
	var deadline models.EscalationDeadline
	err := r.db.WithContext(ctx).Where("lock_id = ?", lockID).First(&deadline).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrSoftLockNotFound(lockID)
		}
		return nil, errors.ErrStoreUnavailable("find escalation deadline").WithCause(err)
	}
	return &deadline, nil
}

// All returns every persisted deadline, soonest first.
func (r *EscalationRepoImpl) All(ctx context.Context) ([]*models.EscalationDeadline, error) {
	var deadlines []*models.EscalationDeadline
	err := r.db.WithContext(ctx).Order("deadline asc").Find(&deadlines).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("list escalation deadlines").WithCause(err)
	}
	return deadlines, nil
}

// Delete removes the deadline record. Idempotent.
func (r *EscalationRepoImpl) Delete(ctx context.Context, lockID string) error {
	err := r.db.WithContext(ctx).Where("lock_id = ?", lockID).Delete(&models.EscalationDeadline{}).Error
	if err != nil {
		return errors.ErrStoreUnavailable("delete escalation deadline").WithCause(err)
	}
	return nil
}


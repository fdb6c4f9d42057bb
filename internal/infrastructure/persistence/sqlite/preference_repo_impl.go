package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// preferenceRow is one key/value entry in a namespace. The integrity
// checkpoint hashes whole namespaces, so the composite unique index keeps
// lookups and snapshots cheap.
type preferenceRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Namespace string `gorm:"uniqueIndex:idx_pref_ns_key;size:128"`
	Key       string `gorm:"uniqueIndex:idx_pref_ns_key;size:256"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (preferenceRow) TableName() string {
	return "preferences"
}

// PreferenceRepoImpl implements PreferenceRepository on sqlite.
type PreferenceRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewPreferenceRepository creates a sqlite-backed scoped key-value store.
func NewPreferenceRepository(db *gorm.DB, log logger.Logger) repository.PreferenceRepository {
	return &PreferenceRepoImpl{db: db, logger: log}
}

// Get returns the value for key in namespace, or empty string.
func (r *PreferenceRepoImpl) Get(ctx context.Context, namespace, key string) (string, error) {
	var row preferenceRow
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", errors.ErrStoreUnavailable("read preference").WithCause(err)
	}
	return row.Value, nil
}

// Put writes the value for key in namespace.
func (r *PreferenceRepoImpl) Put(ctx context.Context, namespace, key, value string) error {
	row := preferenceRow{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to write preference", err,
			logger.String("namespace", namespace),
			logger.String("key", key),
		)
		return errors.ErrStoreUnavailable("write preference").WithCause(err)
	}
	return nil
}

// Delete removes key from namespace. Idempotent.
func (r *PreferenceRepoImpl) Delete(ctx context.Context, namespace, key string) error {
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND key = ?", namespace, key).
		Delete(&preferenceRow{}).Error
	if err != nil {
		return errors.ErrStoreUnavailable("delete preference").WithCause(err)
	}
	return nil
}

// Snapshot returns every key/value pair in the namespace.
func (r *PreferenceRepoImpl) Snapshot(ctx context.Context, namespace string) (map[string]string, error) {
	var rows []preferenceRow
	err := r.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Find(&rows).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("snapshot preferences").WithCause(err)
	}

	snapshot := make(map[string]string, len(rows))
	for _, row := range rows {
		snapshot[row.Key] = row.Value
	}
	return snapshot, nil
}

package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// baselineRow stores the identity baseline as a single JSON blob row. The
// profile is an immutable snapshot, so a blob avoids churning the schema
// every time a monitored field is added.
type baselineRow struct {
	ID        uint      `gorm:"primaryKey"`
	Profile   string    `gorm:"type:text"`
	UpdatedAt time.Time
}

func (baselineRow) TableName() string {
	return "baseline_snapshots"
}

// BaselineRepoImpl implements BaselineRepository on sqlite.
type BaselineRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewBaselineRepository creates a sqlite-backed baseline store.
func NewBaselineRepository(db *gorm.DB, log logger.Logger) repository.BaselineRepository {
	return &BaselineRepoImpl{db: db, logger: log}
}

// Load returns the stored baseline.
func (r *BaselineRepoImpl) Load(ctx context.Context) (*models.DeviceProfile, error) {
	var row baselineRow
	err := r.db.WithContext(ctx).First(&row, 1).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrBaselineNotFound()
		}
		return nil, errors.ErrStoreUnavailable("load baseline").WithCause(err)
	}

	var profile models.DeviceProfile
	if err := json.Unmarshal([]byte(row.Profile), &profile); err != nil {
		r.logger.Error(ctx, "Stored baseline is corrupt", err)
		return nil, errors.ErrBaselineNotFound().WithCause(err)
	}
	return &profile, nil
}

// Store replaces the baseline with the given snapshot.
func (r *BaselineRepoImpl) Store(ctx context.Context, profile *models.DeviceProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return errors.ErrInvalidRequest("encode baseline").WithCause(err)
	}

	row := baselineRow{ID: 1, Profile: string(data), UpdatedAt: time.Now().UTC()}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return errors.ErrStoreUnavailable("store baseline").WithCause(err)
	}
	return nil
}

// ChangeHistoryRepoImpl implements ChangeHistoryRepository on sqlite with a
// bounded ring: appends evict the oldest rows beyond the limit.
type ChangeHistoryRepoImpl struct {
	db     *gorm.DB
	limit  int
	logger logger.Logger
}

// NewChangeHistoryRepository creates a sqlite-backed change log bounded to
// limit entries.
func NewChangeHistoryRepository(db *gorm.DB, limit int, log logger.Logger) repository.ChangeHistoryRepository {
	if limit <= 0 {
		limit = constants.DefaultChangeHistoryLimit
	}
	return &ChangeHistoryRepoImpl{db: db, limit: limit, logger: log}
}

// Append records the changes and evicts entries beyond the ring size.
func (r *ChangeHistoryRepoImpl) Append(ctx context.Context, changes []models.ChangeDetail) error {
	if len(changes) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&changes).Error; err != nil {
			return errors.ErrStoreUnavailable("append change history").WithCause(err)
		}

		var total int64
		if err := tx.Model(&models.ChangeDetail{}).Count(&total).Error; err != nil {
			return errors.ErrStoreUnavailable("count change history").WithCause(err)
		}
		if excess := total - int64(r.limit); excess > 0 {
			var ids []uint
			if err := tx.Model(&models.ChangeDetail{}).
				Order("detected_at asc, id asc").
				Limit(int(excess)).
				Pluck("id", &ids).Error; err != nil {
				return errors.ErrStoreUnavailable("find evictable history").WithCause(err)
			}
			if err := tx.Delete(&models.ChangeDetail{}, ids).Error; err != nil {
				return errors.ErrStoreUnavailable("evict change history").WithCause(err)
			}
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first.
func (r *ChangeHistoryRepoImpl) Recent(ctx context.Context, limit int) ([]models.ChangeDetail, error) {
	if limit <= 0 || limit > r.limit {
		limit = r.limit
	}
	var changes []models.ChangeDetail
	err := r.db.WithContext(ctx).
		Order("detected_at desc, id desc").
		Limit(limit).
		Find(&changes).Error
	if err != nil {
		return nil, errors.ErrStoreUnavailable("read change history").WithCause(err)
	}
	return changes, nil
}

// IncidentRepoImpl implements IncidentRepository on sqlite.
type IncidentRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewIncidentRepository creates a sqlite-backed incident trail.
func NewIncidentRepository(db *gorm.DB, log logger.Logger) repository.IncidentRepository {
	return &IncidentRepoImpl{db: db, logger: log}
}

// Append stores one incident.
func (r *IncidentRepoImpl) Append(ctx context.Context, incident *models.AuditIncident) error {
	err := r.db.WithContext(ctx).Create(incident).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to append incident", err,
			logger.String("incident_id", incident.IncidentID),
			logger.String("event_type", string(incident.EventType)),
		)
		return errors.ErrStoreUnavailable("append incident").WithCause(err)
	}
	return nil
}

// Unreported returns up to limit incidents pending delivery, oldest first.
func (r *IncidentRepoImpl) Unreported(ctx context.Context, limit int) ([]*models.AuditIncident, error) {
	var incidents []*models.AuditIncident
	q := r.db.WithContext(ctx).
		Where("reported = ?", false).
		Order("timestamp asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&incidents).Error; err != nil {
		return nil, errors.ErrStoreUnavailable("list unreported incidents").WithCause(err)
	}
	return incidents, nil
}

// MarkReported flags incidents as delivered.
func (r *IncidentRepoImpl) MarkReported(ctx context.Context, incidentIDs []string) error {
	if len(incidentIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.AuditIncident{}).
		Where("incident_id IN ?", incidentIDs).
		Update("reported", true).Error
	if err != nil {
		return errors.ErrStoreUnavailable("mark incidents reported").WithCause(err)
	}
	return nil
}

// ThreatRepoImpl implements ThreatRepository on sqlite. The score lives in
// a single row created lazily with a zeroed STANDARD state.
type ThreatRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewThreatRepository creates a sqlite-backed threat state store.
func NewThreatRepository(db *gorm.DB, log logger.Logger) repository.ThreatRepository {
	return &ThreatRepoImpl{db: db, logger: log}
}

// Load returns the threat state, creating the initial row on first use.
func (r *ThreatRepoImpl) Load(ctx context.Context) (*models.ThreatState, error) {
	var state models.ThreatState
	err := r.db.WithContext(ctx).First(&state, 1).Error
	if err == nil {
		return &state, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, errors.ErrStoreUnavailable("load threat state").WithCause(err)
	}

	state = models.ThreatState{
		ID:        1,
		Score:     0,
		Level:     constants.ProtectionStandard,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&state).Error; err != nil {
		return nil, errors.ErrStoreUnavailable("init threat state").WithCause(err)
	}
	return &state, nil
}

// Store replaces the threat state.
func (r *ThreatRepoImpl) Store(ctx context.Context, state *models.ThreatState) error {
	state.ID = 1
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(state).Error
	if err != nil {
		return errors.ErrStoreUnavailable("store threat state").WithCause(err)
	}
	return nil
}

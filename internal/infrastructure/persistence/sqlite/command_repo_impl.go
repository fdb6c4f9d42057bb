package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// CommandRepoImpl implements CommandRepository on sqlite. FIFO order
// follows the enqueue timestamp with command id as a stable tiebreaker.
type CommandRepoImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewCommandRepository creates a sqlite-backed command queue store.
func NewCommandRepository(db *gorm.DB, log logger.Logger) repository.CommandRepository {
	return &CommandRepoImpl{db: db, logger: log}
}

// Insert stores a new command.
func (r *CommandRepoImpl) Insert(ctx context.Context, cmd *models.OfflineCommand) error {
	err := r.db.WithContext(ctx).Create(cmd).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to insert command", err,
			logger.String("command_id", cmd.CommandID),
		)
		return errors.ErrStoreUnavailable("insert command").WithCause(err)
	}
	return nil
}

// Exists reports whether a command with the given id is present regardless
// of status.
func (r *CommandRepoImpl) Exists(ctx context.Context, commandID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OfflineCommand{}).
		Where("command_id = ?", commandID).
		Count(&count).Error
	if err != nil {
		return false, errors.ErrStoreUnavailable("check command").WithCause(err)
	}
	return count > 0, nil
}

// FindByID returns the command with the given id.
func (r *CommandRepoImpl) FindByID(ctx context.Context, commandID string) (*models.OfflineCommand, error) {
	var cmd models.OfflineCommand
	err := r.db.WithContext(ctx).Where("command_id = ?", commandID).First(&cmd).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrCommandNotFound(commandID)
		}
		return nil, errors.ErrStoreUnavailable("find command").WithCause(err)
	}
	return &cmd, nil
}

// OldestPending returns the head of the FIFO queue.
func (r *CommandRepoImpl) OldestPending(ctx context.Context) (*models.OfflineCommand, error) {
	var cmd models.OfflineCommand
	err := r.db.WithContext(ctx).
		Where("status = ?", constants.CommandStatusPending).
		Order("enqueued_at asc, command_id asc").
		First(&cmd).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errors.ErrCommandNotFound("queue-head")
		}
		return nil, errors.ErrStoreUnavailable("pop command").WithCause(err)
	}
	return &cmd, nil
}

// UpdateStatus records the outcome of a command execution attempt.
func (r *CommandRepoImpl) UpdateStatus(ctx context.Context, commandID string, status, result string, executedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.OfflineCommand{}).
		Where("command_id = ?", commandID).
		Updates(map[string]interface{}{
			"status":      status,
			"result":      result,
			"executed_at": executedAt,
		})
	if res.Error != nil {
		return errors.ErrStoreUnavailable("update command status").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrCommandNotFound(commandID)
	}
	return nil
}

// PendingCount returns the current queue depth.
func (r *CommandRepoImpl) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OfflineCommand{}).
		Where("status = ?", constants.CommandStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, errors.ErrStoreUnavailable("count pending commands").WithCause(err)
	}
	return count, nil
}

// PurgeExecutedBefore deletes terminal-status commands older than the cutoff.
func (r *CommandRepoImpl) PurgeExecutedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND executed_at < ?", []constants.CommandStatus{
			constants.CommandStatusExecuted,
			constants.CommandStatusFailed,
			constants.CommandStatusExpired,
		}, cutoff).
		Delete(&models.OfflineCommand{})
	if res.Error != nil {
		return 0, errors.ErrStoreUnavailable("purge commands").WithCause(res.Error)
	}
	return res.RowsAffected, nil
}

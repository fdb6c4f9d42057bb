package repository

import (
	"context"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
)

// CommandRepository persists the durable command queue. FIFO order follows
// the enqueue timestamp; the command id is the idempotency key.
type CommandRepository interface {
	// Insert stores a new command. Inserting a command id that already
	// exists returns ErrCommandConflict from the driver layer; callers
	// treat a duplicate as a no-op.
	Insert(ctx context.Context, cmd *models.OfflineCommand) error

	// Exists reports whether a command with the given id is present,
	// regardless of status.
	Exists(ctx context.Context, commandID string) (bool, error)

	// FindByID returns the command with the given id, or ErrCommandNotFound.
	FindByID(ctx context.Context, commandID string) (*models.OfflineCommand, error)

	// OldestPending returns the oldest command still in pending status, or
	// ErrCommandNotFound when the queue is empty. Expired pending commands
	// are included; the queue service discards them on pop.
	OldestPending(ctx context.Context) (*models.OfflineCommand, error)

	// UpdateStatus records the outcome of a command execution attempt.
	UpdateStatus(ctx context.Context, commandID string, status, result string, executedAt time.Time) error

	// PendingCount returns the number of pending commands, used for metrics.
	PendingCount(ctx context.Context) (int64, error)

	// PurgeExecutedBefore deletes terminal-status commands older than the
	// cutoff to bound queue storage.
	PurgeExecutedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

package service

import (
	"context"
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// SignatureVerifier checks a command's signature before execution.
type SignatureVerifier interface {
	VerifyCommand(cmd *models.OfflineCommand) error
}

// AppUpdater delegates UPDATE_APP commands to the platform update channel.
type AppUpdater interface {
	RequestUpdate(ctx context.Context, version string) error
}

// UnlockAckFunc runs after a backend-authorized UNLOCK_DEVICE command has
// cleared the device's locks. The signed command is the server explicitly
// acknowledging whatever evidence caused the lock, so the callback releases
// the local evidence latches and re-baselines identity. Without it the
// unchanged evidence would re-lock the device on the next sweep.
type UnlockAckFunc func(ctx context.Context) error

// CommandQueue is the durable command pipeline. Commands survive process
// restarts in the store, execute in FIFO order, and are idempotent on the
// command id: a command delivered twice runs once.
type CommandQueue struct {
	deviceID  string
	commands  repository.CommandRepository
	incidents repository.IncidentRepository
	verifier  SignatureVerifier
	engine    *LockEngine
	enforcer  Enforcer
	overlay   OverlayRenderer
	updater   AppUpdater
	unlockAck UnlockAckFunc
	audit     *logger.AuditLogger
	logger    logger.Logger
	metrics   Metrics
	now       func() time.Time
}

// NewCommandQueue constructs the queue service. The updater may be nil when
// the platform has no update channel; UPDATE_APP commands then fail.
func NewCommandQueue(
	deviceID string,
	commands repository.CommandRepository,
	incidents repository.IncidentRepository,
	verifier SignatureVerifier,
	engine *LockEngine,
	enforcer Enforcer,
	overlay OverlayRenderer,
	updater AppUpdater,
	audit *logger.AuditLogger,
	log logger.Logger,
	metrics Metrics,
) *CommandQueue {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &CommandQueue{
		deviceID:  deviceID,
		commands:  commands,
		incidents: incidents,
		verifier:  verifier,
		engine:    engine,
		enforcer:  enforcer,
		overlay:   overlay,
		updater:   updater,
		audit:     audit,
		logger:    log.WithComponent("command-queue"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetUnlockAckFunc attaches the unlock acknowledgment callback. Attached
// separately because the heartbeat service that owns the mismatch latch is
// constructed after the queue.
func (q *CommandQueue) SetUnlockAckFunc(fn UnlockAckFunc) {
	q.unlockAck = fn
}

// Enqueue appends a command to the durable queue. Duplicates by command id
// are absorbed silently; already-expired commands are rejected without
// being stored.
func (q *CommandQueue) Enqueue(ctx context.Context, cmd *models.OfflineCommand) error {
	if cmd.CommandID == "" {
		return errors.ErrInvalidRequest("command id is required")
	}
	now := q.now().UTC()
	if cmd.IsExpired(now) {
		q.logger.Warn(ctx, "Rejecting expired command",
			logger.String("command_id", cmd.CommandID),
			logger.String("command_type", string(cmd.Type)),
		)
		return errors.ErrCommandExpired(cmd.CommandID)
	}

	exists, err := q.commands.Exists(ctx, cmd.CommandID)
	if err != nil {
		return errors.ErrStoreUnavailable("check command").WithCause(err)
	}
	if exists {
		q.logger.Debug(ctx, "Duplicate command ignored",
			logger.String("command_id", cmd.CommandID),
		)
		return nil
	}

	cmd.Status = constants.CommandStatusPending
	cmd.EnqueuedAt = now
	if err := q.commands.Insert(ctx, cmd); err != nil {
		return errors.ErrStoreUnavailable("insert command").WithCause(err)
	}

	q.updateDepth(ctx)
	q.logger.Info(ctx, "Command enqueued",
		logger.String("command_id", cmd.CommandID),
		logger.String("command_type", string(cmd.Type)),
	)
	return nil
}

// DrainOnce pops and executes the oldest pending command. Returns false
// when the queue is empty. Expired commands are discarded with an audit
// entry and count as progress so the poll loop keeps draining.
func (q *CommandQueue) DrainOnce(ctx context.Context) (bool, error) {
	cmd, err := q.commands.OldestPending(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	now := q.now().UTC()
	if cmd.IsExpired(now) {
		q.audit.LogAuditEvent(ctx, constants.AuditEventCommandRejected, constants.SeverityLow,
			logger.String("command_id", cmd.CommandID),
			logger.String("reason", "expired"),
		)
		q.markOutcome(ctx, cmd, constants.CommandStatusExpired, "expired before execution")
		return true, nil
	}

	if err := q.verifier.VerifyCommand(cmd); err != nil {
		q.audit.LogAuditEvent(ctx, constants.AuditEventCommandRejected, constants.SeverityHigh,
			logger.String("command_id", cmd.CommandID),
			logger.String("reason", "signature verification failed"),
		)
		q.markOutcome(ctx, cmd, constants.CommandStatusFailed, "invalid signature")
		return true, nil
	}

	if err := q.execute(ctx, cmd); err != nil {
		q.logger.Error(ctx, "Command execution failed", err,
			logger.String("command_id", cmd.CommandID),
			logger.String("command_type", string(cmd.Type)),
		)
		q.markOutcome(ctx, cmd, constants.CommandStatusFailed, err.Error())
		return true, nil
	}

	q.audit.LogCommandOutcome(ctx, cmd.CommandID, cmd.Type, "executed")
	q.markOutcome(ctx, cmd, constants.CommandStatusExecuted, "ok")
	return true, nil
}

// Drain executes pending commands until the queue is empty or the context
// is cancelled.
func (q *CommandQueue) Drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		progressed, err := q.DrainOnce(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// PendingCount reports queue depth for the local API.
func (q *CommandQueue) PendingCount(ctx context.Context) (int64, error) {
	return q.commands.PendingCount(ctx)
}

// Purge drops terminal commands older than the cutoff.
func (q *CommandQueue) Purge(ctx context.Context, cutoff time.Time) {
	removed, err := q.commands.PurgeExecutedBefore(ctx, cutoff)
	if err != nil {
		q.logger.Error(ctx, "Command purge failed", err)
		return
	}
	if removed > 0 {
		q.logger.Debug(ctx, "Purged terminal commands", logger.Int64("removed", removed))
	}
}

func (q *CommandQueue) execute(ctx context.Context, cmd *models.OfflineCommand) error {
	params := cmd.Params()

	switch cmd.Type {
	case constants.CommandLockDevice:
		lock := models.NewDeviceLock(q.deviceID, constants.LockTypeHard, constants.LockReasonAdminCommand, params["message"])
		lock.LockID = models.DeriveLockID(cmd.CommandID)
		return q.engine.ApplyLock(ctx, lock)

	case constants.CommandPermanentLock:
		lock := models.NewDeviceLock(q.deviceID, constants.LockTypePermanent, constants.LockReasonPaymentDefault, params["message"])
		lock.LockID = models.DeriveLockID(cmd.CommandID)
		lock.BackendUnlockOnly = true
		return q.engine.ApplyLock(ctx, lock)

	case constants.CommandUnlockDevice:
		// Signed server command: authorized to clear tamper-evidence locks.
		locks, err := q.engine.ActiveLocks(ctx)
		if err != nil {
			return err
		}
		for _, lock := range locks {
			if err := q.engine.RemoveLock(ctx, lock.LockID, true); err != nil {
				return err
			}
		}
		if q.unlockAck != nil {
			// A failed acknowledgment leaves the latches set; the device may
			// re-lock on the next sweep but never silently loses protection.
			if err := q.unlockAck(ctx); err != nil {
				q.logger.Error(ctx, "Unlock acknowledgment failed", err,
					logger.String("command_id", cmd.CommandID),
				)
			}
		}
		return nil

	case constants.CommandWarn:
		q.overlay.ShowOverlay(OverlayData{
			LockID:      cmd.CommandID,
			Title:       params["title"],
			Message:     params["message"],
			Dismissible: true,
		})
		return nil

	case constants.CommandWipeData:
		incident := models.NewAuditIncident(q.deviceID, constants.AuditEventDataWipe, constants.SeverityCritical,
			"remote data wipe initiated")
		if err := q.incidents.Append(ctx, incident); err != nil {
			q.logger.Error(ctx, "Failed to record wipe incident", err)
		}
		return q.enforcer.WipeData(ctx)

	case constants.CommandRebootDevice:
		return q.enforcer.RebootDevice(ctx)

	case constants.CommandUpdateApp:
		if q.updater == nil {
			return errors.ErrInvalidRequest("no update channel available")
		}
		return q.updater.RequestUpdate(ctx, params["version"])

	default:
		return errors.ErrInvalidRequest("unknown command type: " + string(cmd.Type))
	}
}

func (q *CommandQueue) markOutcome(ctx context.Context, cmd *models.OfflineCommand, status constants.CommandStatus, result string) {
	if err := q.commands.UpdateStatus(ctx, cmd.CommandID, string(status), result, q.now().UTC()); err != nil {
		q.logger.Error(ctx, "Failed to record command outcome", err,
			logger.String("command_id", cmd.CommandID),
		)
	}
	q.metrics.RecordCommand(cmd.Type, string(status))
	q.updateDepth(ctx)
}

func (q *CommandQueue) updateDepth(ctx context.Context) {
	depth, err := q.commands.PendingCount(ctx)
	if err != nil {
		return
	}
	q.metrics.SetQueueDepth(depth)
}

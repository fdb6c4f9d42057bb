// Package service contains the application orchestration layer: the
// heartbeat reconciliation loop, the command processor and the local
// security monitor. Domain services stay transport-agnostic; this layer
// wires them to the backend and to the poll loops.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexivo/sentinel/internal/application/dto"
	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/repository"
	domainsvc "github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/internal/infrastructure/spool"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

const incidentReportBatch = 50

// HeartbeatService runs the reconciliation cycle: collect evidence, report
// it, apply the server's authoritative response, and adapt the cadence to
// the device's risk posture. Failed sends are spooled and replayed in order
// before the next live payload.
type HeartbeatService struct {
	deviceID string

	tamper    *domainsvc.TamperDetector
	changes   *domainsvc.ChangeDetector
	engine    *domainsvc.LockEngine
	queue     *domainsvc.CommandQueue
	protect   *domainsvc.ProtectionService
	transport domainsvc.Transport
	spool     *spool.Spool
	incidents repository.IncidentRepository

	baseInterval    time.Duration
	minInterval     time.Duration
	reminderWindow  time.Duration

	audit   *logger.AuditLogger
	logger  logger.Logger
	metrics domainsvc.Metrics

	mu               sync.Mutex
	currentInterval  time.Duration
	consecutiveFails int
	deactivated      bool
	mismatchLatch    bool

	now func() time.Time
}

// NewHeartbeatService wires the reconciliation loop.
func NewHeartbeatService(
	deviceID string,
	tamper *domainsvc.TamperDetector,
	changes *domainsvc.ChangeDetector,
	engine *domainsvc.LockEngine,
	queue *domainsvc.CommandQueue,
	protect *domainsvc.ProtectionService,
	transport domainsvc.Transport,
	sp *spool.Spool,
	incidents repository.IncidentRepository,
	baseInterval, minInterval, reminderWindow time.Duration,
	audit *logger.AuditLogger,
	log logger.Logger,
	metrics domainsvc.Metrics,
) *HeartbeatService {
	if baseInterval <= 0 {
		baseInterval = constants.DefaultHeartbeatInterval
	}
	if minInterval <= 0 {
		minInterval = constants.MinHeartbeatInterval
	}
	if reminderWindow <= 0 {
		reminderWindow = constants.DefaultPaymentReminderWindow
	}
	if metrics == nil {
		metrics = domainsvc.NoopMetrics{}
	}
	return &HeartbeatService{
		deviceID:        deviceID,
		tamper:          tamper,
		changes:         changes,
		engine:          engine,
		queue:           queue,
		protect:         protect,
		transport:       transport,
		spool:           sp,
		incidents:       incidents,
		baseInterval:    baseInterval,
		minInterval:     minInterval,
		reminderWindow:  reminderWindow,
		audit:           audit,
		logger:          log.WithComponent("heartbeat"),
		metrics:         metrics,
		currentInterval: baseInterval,
		now:             time.Now,
	}
}

// MismatchLatched reports whether the backend has flagged a server-side
// identity mismatch. Consumed by the tamper detector's
// BACKEND_DATA_MISMATCH probe.
func (h *HeartbeatService) MismatchLatched(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mismatchLatch, nil
}

// AcknowledgeMismatch releases the mismatch latch. Called when the backend
// explicitly clears the device through a signed UNLOCK_DEVICE command; the
// baseline is re-seeded by the same acknowledgment path, so the cleared
// evidence does not re-latch on the next cycle.
func (h *HeartbeatService) AcknowledgeMismatch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mismatchLatch = false
}

// Deactivated reports whether the backend has requested agent teardown.
func (h *HeartbeatService) Deactivated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deactivated
}

// Interval returns the current adaptive heartbeat interval.
func (h *HeartbeatService) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentInterval
}

// Run drives reconciliation cycles until the context ends.
func (h *HeartbeatService) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		cycleCtx := context.WithValue(ctx, constants.ContextKeyDeviceID, h.deviceID)
		cycleCtx = context.WithValue(cycleCtx, constants.ContextKeyCycleID, uuid.NewString())

		h.RunCycle(cycleCtx)

		if h.Deactivated() {
			h.logger.Info(ctx, "Agent deactivated by backend, stopping heartbeat loop")
			return nil
		}
		timer.Reset(h.Interval())
	}
}

// RunCycle executes one reconciliation cycle end to end. Local evidence is
// acted on before any network traffic so tamper response never depends on
// connectivity.
func (h *HeartbeatService) RunCycle(ctx context.Context) {
	started := h.now()

	// Evidence first.
	tamperStatus := h.tamper.GetTamperStatus(ctx)
	comparison, err := h.changes.CheckForChanges(ctx)
	if err != nil {
		h.logger.Error(ctx, "Baseline comparison failed", err)
		comparison = nil
	}

	// Local verdicts do not wait for the server.
	if err := h.engine.HandleTamperStatus(ctx, tamperStatus); err != nil {
		h.logger.Error(ctx, "Failed to act on tamper status", err)
	}
	if comparison != nil {
		if err := h.engine.HandleComparison(ctx, comparison); err != nil {
			h.logger.Error(ctx, "Failed to act on baseline comparison", err)
		}
	}
	h.feedThreatScore(ctx, tamperStatus, comparison)

	payload := h.buildPayload(ctx, tamperStatus, comparison)

	// Replay spooled payloads before the live one to preserve order.
	if replayed := h.replaySpool(ctx); replayed > 0 {
		h.metrics.RecordSpoolReplay(replayed)
	}

	response, err := h.transport.SendHeartbeat(ctx, h.deviceID, payload)
	if err != nil {
		h.onSendFailure(ctx, payload, err)
		return
	}

	h.onSendSuccess(ctx)
	h.applyResponse(ctx, response)
	h.reportIncidents(ctx)
	h.reportMismatch(ctx, comparison)

	h.logger.Debug(ctx, "Reconciliation cycle complete",
		logger.Duration("elapsed", h.now().Sub(started)),
		logger.String("severity", tamperStatus.Severity.String()),
	)
}

func (h *HeartbeatService) buildPayload(ctx context.Context, tamperStatus *models.TamperStatus, comparison *models.ComparisonResult) *dto.HeartbeatPayload {
	profile, err := h.changes.CurrentProfile(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to collect identity snapshot", err)
	}

	state, err := h.engine.EffectiveState(ctx)
	if err != nil {
		h.logger.Error(ctx, "Failed to derive effective state", err)
		state = constants.LockStateUnlocked
	}

	payload := &dto.HeartbeatPayload{
		DeviceID: h.deviceID,
		Profile:  profile,
		Tamper: &dto.TamperReport{
			IsTampered: tamperStatus.IsTampered,
			Flags:      tamperStatus.FlagNames(),
			Severity:   tamperStatus.Severity.String(),
		},
		LockState: string(state),
		Timestamp: h.now().UTC(),
	}
	if comparison != nil && comparison.HasChanges {
		payload.Changes = comparison.Changes
	}
	return payload
}

// applyResponse folds the server's authoritative answer into local state.
func (h *HeartbeatService) applyResponse(ctx context.Context, response *dto.HeartbeatResponse) {
	if err := h.engine.ApplyServerState(ctx, response.Content.IsLocked, response.Content.Reason); err != nil {
		h.logger.Error(ctx, "Failed to apply server lock state", err)
	}

	for _, body := range response.Commands {
		cmd := &models.OfflineCommand{
			CommandID: body.ID,
			Type:      constants.CommandType(body.Type),
			DeviceID:  body.DeviceID,
			Signature: body.Signature,
			ExpiresAt: body.ExpiresAt,
		}
		if err := cmd.SetParams(body.Parameters); err != nil {
			h.logger.Error(ctx, "Failed to encode command parameters", err,
				logger.String("command_id", body.ID),
			)
			continue
		}
		if err := h.queue.Enqueue(ctx, cmd); err != nil {
			h.logger.Error(ctx, "Failed to enqueue server command", err,
				logger.String("command_id", body.ID),
			)
		}
	}

	if response.NextPayment != nil {
		if response.NextPayment.UnlockPassword != "" {
			h.engine.SetUnlockPassword(response.NextPayment.UnlockPassword)
		}
		h.maybeRemindPayment(ctx, response.NextPayment)
	}

	if response.Deactivation != nil && response.Deactivation.Status == "requested" {
		h.handleDeactivation(ctx, response.Deactivation)
	}
}

// maybeRemindPayment raises a payment-reminder soft lock when the next
// installment due date falls within the reminder window. The trigger key is
// the due date, so each installment reminds exactly once.
func (h *HeartbeatService) maybeRemindPayment(ctx context.Context, next *dto.NextPaymentBody) {
	if next.DateTime.IsZero() {
		return
	}
	until := next.DateTime.Sub(h.now())
	if until <= 0 || until > h.reminderWindow {
		return
	}

	triggerKey := "payment:" + next.DateTime.UTC().Format(time.RFC3339)
	_, err := h.engine.TriggerSoftLock(ctx,
		constants.SoftLockTypePaymentReminder,
		constants.LockReasonPaymentOverdue,
		triggerKey,
		"Payment due soon",
		fmt.Sprintf("Your next installment is due on %s.", next.DateTime.Format("Jan 2, 2006")),
	)
	if err != nil {
		h.logger.Error(ctx, "Failed to raise payment reminder", err)
	}
}

func (h *HeartbeatService) handleDeactivation(ctx context.Context, deactivation *dto.Deactivation) {
	h.audit.LogAuditEvent(ctx, constants.AuditEventDeactivationNotice, constants.SeverityMedium,
		logger.String("command", deactivation.Command),
		logger.String("reason", deactivation.Reason),
	)

	// Teardown clears every lock; the financing relationship is complete.
	locks, err := h.engine.ActiveLocks(ctx)
	if err == nil {
		for _, lock := range locks {
			if err := h.engine.RemoveLock(ctx, lock.LockID, true); err != nil {
				h.logger.Error(ctx, "Failed to clear lock during deactivation", err,
					logger.String("lock_id", lock.LockID),
				)
			}
		}
	}

	h.mu.Lock()
	h.deactivated = true
	h.mu.Unlock()
	h.logger.Info(ctx, "Deactivation acknowledged",
		logger.String("reason", deactivation.Reason),
	)
}

func (h *HeartbeatService) onSendFailure(ctx context.Context, payload *dto.HeartbeatPayload, err error) {
	h.metrics.RecordHeartbeat("failure")
	h.audit.LogAuditEvent(ctx, constants.AuditEventHeartbeatFailed, constants.SeverityLow,
		logger.String("reason", err.Error()),
	)

	if spoolErr := h.spool.Append(ctx, payload); spoolErr != nil {
		h.logger.Error(ctx, "Failed to spool heartbeat payload", spoolErr)
	}

	h.mu.Lock()
	h.consecutiveFails++
	// Tighten the cadence while unreachable so recovery is noticed quickly.
	h.currentInterval = h.minInterval
	h.mu.Unlock()

	h.logger.Warn(ctx, "Heartbeat failed, payload spooled",
		logger.String("reason", err.Error()),
	)
}

func (h *HeartbeatService) onSendSuccess(ctx context.Context) {
	h.metrics.RecordHeartbeat("success")

	level, _, err := h.protect.Level(ctx)
	if err != nil {
		level = constants.ProtectionStandard
	}

	h.mu.Lock()
	h.consecutiveFails = 0
	// Elevated protection keeps the short cadence even when reachable.
	if level == constants.ProtectionStandard {
		h.currentInterval = h.baseInterval
	} else {
		h.currentInterval = h.minInterval
	}
	h.mu.Unlock()
}

// replaySpool drains spooled payloads in FIFO order. A failure mid-drain
// leaves the remainder spooled.
func (h *HeartbeatService) replaySpool(ctx context.Context) int {
	replayed, err := h.spool.Drain(ctx, func(ctx context.Context, entry spool.Entry) error {
		var payload dto.HeartbeatPayload
		if err := json.Unmarshal(entry.Payload, &payload); err != nil {
			// Corrupt entry; dropping it beats wedging the spool forever.
			h.logger.Error(ctx, "Dropping corrupt spool entry", err,
				logger.Int64("sequence", int64(entry.Sequence)),
			)
			return nil
		}
		_, err := h.transport.SendHeartbeat(ctx, h.deviceID, &payload)
		return err
	})
	if err != nil && !errors.IsTransient(err) {
		h.logger.Error(ctx, "Spool replay stopped", err)
	}
	if replayed > 0 {
		h.logger.Info(ctx, "Replayed spooled heartbeats", logger.Int("count", replayed))
	}
	return replayed
}

// reportIncidents delivers the unreported forensic trail in batches.
func (h *HeartbeatService) reportIncidents(ctx context.Context) {
	pending, err := h.incidents.Unreported(ctx, incidentReportBatch)
	if err != nil {
		h.logger.Error(ctx, "Failed to load unreported incidents", err)
		return
	}

	delivered := make([]string, 0, len(pending))
	for _, incident := range pending {
		if err := h.transport.ReportIncident(ctx, h.deviceID, incident); err != nil {
			break
		}
		delivered = append(delivered, incident.IncidentID)
	}
	if len(delivered) == 0 {
		return
	}
	if err := h.incidents.MarkReported(ctx, delivered); err != nil {
		h.logger.Error(ctx, "Failed to mark incidents reported", err)
	}
}

// reportMismatch tells the backend about a baseline mismatch and latches
// the BACKEND_DATA_MISMATCH flag until the server clears the device.
func (h *HeartbeatService) reportMismatch(ctx context.Context, comparison *models.ComparisonResult) {
	if comparison == nil || !comparison.HasChanges {
		return
	}

	if comparison.Severity >= constants.SeverityCritical {
		h.mu.Lock()
		h.mismatchLatch = true
		h.mu.Unlock()
	}

	if err := h.transport.ReportMismatch(ctx, h.deviceID, comparison); err != nil {
		h.logger.Warn(ctx, "Failed to report baseline mismatch",
			logger.String("reason", err.Error()),
		)
	}
}

func (h *HeartbeatService) feedThreatScore(ctx context.Context, tamperStatus *models.TamperStatus, comparison *models.ComparisonResult) {
	clean := true
	if tamperStatus.IsTampered {
		clean = false
		if _, err := h.protect.RecordEvidence(ctx, tamperStatus.Severity); err != nil {
			h.logger.Error(ctx, "Failed to record tamper evidence", err)
		}
	}
	if comparison != nil && comparison.HasChanges {
		clean = false
		if _, err := h.protect.RecordEvidence(ctx, comparison.Severity); err != nil {
			h.logger.Error(ctx, "Failed to record change evidence", err)
		}
	}
	if clean {
		if _, err := h.protect.RecordCleanSweep(ctx); err != nil {
			h.logger.Error(ctx, "Failed to decay threat score", err)
		}
	}
}

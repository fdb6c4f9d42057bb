// Package handlers implements the local control API served on loopback for
// the overlay UI and the operator CLI.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nexivo/sentinel/internal/application/dto"
	appsvc "github.com/nexivo/sentinel/internal/application/service"
	domainsvc "github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// StatusHandler serves agent state to local consumers.
type StatusHandler struct {
	deviceID  string
	engine    *domainsvc.LockEngine
	queue     *domainsvc.CommandQueue
	protect   *domainsvc.ProtectionService
	heartbeat *appsvc.HeartbeatService
	logger    logger.Logger
}

// NewStatusHandler creates the status handler.
func NewStatusHandler(
	deviceID string,
	engine *domainsvc.LockEngine,
	queue *domainsvc.CommandQueue,
	protect *domainsvc.ProtectionService,
	heartbeat *appsvc.HeartbeatService,
	log logger.Logger,
) *StatusHandler {
	return &StatusHandler{
		deviceID:  deviceID,
		engine:    engine,
		queue:     queue,
		protect:   protect,
		heartbeat: heartbeat,
		logger:    log,
	}
}

// GetStatus returns the aggregate agent status.
func (h *StatusHandler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	state, err := h.engine.EffectiveState(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	locks, err := h.engine.ActiveLocks(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	level, score, err := h.protect.Level(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	pending, err := h.queue.PendingCount(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.AgentStatusResponse{
		DeviceID:        h.deviceID,
		LockState:       string(state),
		ProtectionLevel: string(level),
		ThreatScore:     score,
		ActiveLocks:     len(locks),
		PendingCommands: pending,
	})
}

// ListLocks returns the active lock records.
func (h *StatusHandler) ListLocks(c *gin.Context) {
	locks, err := h.engine.ActiveLocks(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locks": locks})
}

// HandleLockAction relays a user action from the overlay: acknowledge or
// dismiss a soft lock, or attempt a PIN unlock against a hard lock.
func (h *StatusHandler) HandleLockAction(c *gin.Context) {
	lockID := c.Param("id")

	var req dto.SoftLockActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   string(constants.ErrCodeInvalidRequest),
			Message: err.Error(),
		})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Action {
	case string(constants.SoftLockActionAcknowledge), string(constants.SoftLockActionDismiss):
		err = h.engine.HandleSoftLockAction(ctx, lockID, constants.SoftLockAction(req.Action))
	case "pin_unlock":
		err = h.engine.AttemptPinUnlock(ctx, lockID, req.Pin)
	default:
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   string(constants.ErrCodeInvalidRequest),
			Message: "unknown action: " + req.Action,
		})
		return
	}

	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *StatusHandler) fail(c *gin.Context, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		h.logger.Error(c.Request.Context(), "Local API request failed", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error: string(constants.ErrCodeInternal),
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(appErr):
		status = http.StatusNotFound
	case appErr.Code() == constants.ErrCodeUnauthorized,
		appErr.Code() == constants.ErrCodePermanentLock:
		status = http.StatusForbidden
	case appErr.Code() == constants.ErrCodeInvalidRequest:
		status = http.StatusBadRequest
	}

	c.JSON(status, dto.ErrorResponse{
		Error:   string(appErr.Code()),
		Message: appErr.Error(),
	})
}

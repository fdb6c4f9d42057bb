// Package service contains the agent's domain services: tamper detection,
// baseline diffing, the lock state machine, soft-lock escalation and the
// durable command queue. External collaborators (transport, OS enforcement,
// overlay UI, identity collection) are consumed through the interfaces in
// this file.
package service

import (
	"context"

	"github.com/nexivo/sentinel/internal/application/dto"
	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/pkg/constants"
)

// Transport is the backend API client. Implementations own retry/backoff
// plumbing and wire-format details; the engine only consumes the parsed
// result.
type Transport interface {
	// SendHeartbeat posts one heartbeat payload and returns the parsed
	// authoritative response.
	SendHeartbeat(ctx context.Context, deviceID string, payload *dto.HeartbeatPayload) (*dto.HeartbeatResponse, error)

	// RegisterDevice enrolls the device and returns the assigned device id.
	RegisterDevice(ctx context.Context, payload *dto.RegistrationPayload) (string, error)

	// ReportIncident delivers one forensic incident.
	ReportIncident(ctx context.Context, deviceID string, incident *models.AuditIncident) error

	// ReportMismatch delivers a baseline comparison result.
	ReportMismatch(ctx context.Context, deviceID string, result *models.ComparisonResult) error
}

// Enforcer is the OS enforcement binding (device-policy layer). Operations
// may fail and must be idempotent; the lock engine keeps retrying through
// the monitor loop until the OS state matches the lock records.
type Enforcer interface {
	// LockNow applies the OS-level lock for the given lock type.
	LockNow(ctx context.Context, lockType constants.LockType) error

	// Unlock releases the OS-level lock.
	Unlock(ctx context.Context) error

	// DisableDeveloperOptions toggles developer options availability.
	DisableDeveloperOptions(ctx context.Context, disabled bool) error

	// PreventFactoryReset blocks user-initiated factory reset.
	PreventFactoryReset(ctx context.Context) error

	// DisableUSB toggles USB data access.
	DisableUSB(ctx context.Context, disabled bool) error

	// IsDeviceOwner reports whether the agent still holds device-owner
	// privilege. Losing it is itself a critical tamper signal.
	IsDeviceOwner(ctx context.Context) (bool, error)

	// IsDeviceAdmin reports whether the agent holds at least admin privilege.
	IsDeviceAdmin(ctx context.Context) (bool, error)

	// RebootDevice restarts the device.
	RebootDevice(ctx context.Context) error

	// WipeData performs a destructive factory wipe.
	WipeData(ctx context.Context) error
}

// OverlayData describes a lock screen for the overlay renderer.
type OverlayData struct {
	LockID      string             `json:"lock_id"`
	LockType    constants.LockType `json:"lock_type"`
	Title       string             `json:"title"`
	Message     string             `json:"message"`
	Dismissible bool               `json:"dismissible"`
	PinRequired bool               `json:"pin_required"`
}

// OverlayRenderer displays and dismisses lock overlays. Calls are
// fire-and-forget; the only feedback path is the explicit user-action
// callback on the lock engine.
type OverlayRenderer interface {
	ShowOverlay(data OverlayData)
	DismissOverlay(lockID string)
}

// IdentitySource gathers device identity snapshots and answers the live
// probes the tamper detector runs. Probe implementations are expected to be
// cheap; errors mean "could not determine", which the detector treats as
// not detected.
type IdentitySource interface {
	// Collect captures a fresh identity snapshot.
	Collect(ctx context.Context) (*models.DeviceProfile, error)

	// Probe evaluates one live boolean check.
	Probe(ctx context.Context, flag constants.TamperFlag) (bool, error)
}

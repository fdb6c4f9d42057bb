// Package dto defines the wire-facing data transfer objects exchanged with
// the backend and the local control API.
package dto

import (
	"time"

	"github.com/nexivo/sentinel/internal/domain/models"
)

// HeartbeatPayload is the outbound body of one reconciliation cycle. Failed
// sends are spooled verbatim and replayed in order once connectivity
// returns.
type HeartbeatPayload struct {
	DeviceID  string                `json:"device_id"`
	Profile   *models.DeviceProfile `json:"profile"`
	Tamper    *TamperReport         `json:"tamper"`
	Changes   []models.ChangeDetail `json:"changes,omitempty"`
	LockState string                `json:"lock_state"`
	Timestamp time.Time             `json:"timestamp"`
}

// TamperReport is the wire form of an aggregate tamper status.
type TamperReport struct {
	IsTampered bool     `json:"is_tampered"`
	Flags      []string `json:"flags"`
	Severity   string   `json:"severity"`
}

// HeartbeatResponse is the parsed authoritative server response.
type HeartbeatResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	Content      LockStatusBody   `json:"content"`
	Commands     []CommandBody    `json:"commands,omitempty"`
	NextPayment  *NextPaymentBody `json:"next_payment,omitempty"`
	Deactivation *Deactivation    `json:"deactivation,omitempty"`
	ServerTime   string           `json:"server_time"`
}

// LockStatusBody is the server's view of whether the device should be locked.
type LockStatusBody struct {
	IsLocked bool   `json:"is_locked"`
	Reason   string `json:"reason,omitempty"`
}

// CommandBody is one signed command embedded in a heartbeat response.
type CommandBody struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	DeviceID   string            `json:"device_id"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Signature  string            `json:"signature"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
}

// NextPaymentBody carries the upcoming installment and the local unlock
// material for hard locks.
type NextPaymentBody struct {
	DateTime       time.Time `json:"date_time"`
	UnlockPassword string    `json:"unlock_password,omitempty"`
}

// Deactivation signals agent teardown after loan completion.
type Deactivation struct {
	Status      string `json:"status"` // "requested" or "none"
	Command     string `json:"command,omitempty"`
	Reason      string `json:"reason,omitempty"`
	AgentNotice string `json:"agent_notice,omitempty"`
}

// RegistrationPayload enrolls the device with its first identity snapshot.
type RegistrationPayload struct {
	Profile   *models.DeviceProfile `json:"profile"`
	Timestamp time.Time             `json:"timestamp"`
}

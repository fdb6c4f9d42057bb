package dto

import "time"

// AgentStatusResponse is served by the local control API for the overlay UI
// and the operator CLI.
type AgentStatusResponse struct {
	DeviceID        string     `json:"device_id"`
	LockState       string     `json:"lock_state"`
	ProtectionLevel string     `json:"protection_level"`
	ThreatScore     int        `json:"threat_score"`
	ActiveLocks     int        `json:"active_locks"`
	PendingCommands int64      `json:"pending_commands"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
	LastHeartbeatOK bool       `json:"last_heartbeat_ok"`
}

// SoftLockActionRequest is the user-action callback relayed by the overlay.
type SoftLockActionRequest struct {
	Action string `json:"action" binding:"required"`
	Pin    string `json:"pin,omitempty"`
}

// ErrorResponse is the local API error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

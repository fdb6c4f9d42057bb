package models

import (
	"encoding/json"
	"time"

	"github.com/nexivo/sentinel/pkg/constants"
)

// OfflineCommand is a signed command awaiting execution. Commands originate
// from the server (embedded in heartbeat responses) or from local escalation
// logic. CommandID doubles as the idempotency key.
type OfflineCommand struct {
	CommandID  string                  `gorm:"primaryKey" json:"command_id"`
	Type       constants.CommandType   `json:"type"`
	DeviceID   string                  `gorm:"index" json:"device_id"`
	Parameters string                  `json:"parameters"` // JSON-encoded map
	Signature  string                  `json:"signature"`
	Status     constants.CommandStatus `gorm:"index" json:"status"`
	Result     string                  `json:"result,omitempty"`
	EnqueuedAt time.Time               `gorm:"index" json:"enqueued_at"`
	ExpiresAt  *time.Time              `json:"expires_at,omitempty"` // nil = never
	ExecutedAt *time.Time              `json:"executed_at,omitempty"`
}

// TableName maps the model to its sqlite table.
func (OfflineCommand) TableName() string {
	return "offline_commands"
}

// IsExpired reports whether the command is past its expiry.
func (c *OfflineCommand) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.IsZero() && c.ExpiresAt.Before(now)
}

// Params decodes the JSON parameter blob. A missing or malformed blob
// decodes to an empty map so command handlers can rely on lookups.
func (c *OfflineCommand) Params() map[string]string {
	params := make(map[string]string)
	if c.Parameters == "" {
		return params
	}
	if err := json.Unmarshal([]byte(c.Parameters), &params); err != nil {
		return map[string]string{}
	}
	return params
}

// SetParams encodes the parameter map into the JSON blob.
func (c *OfflineCommand) SetParams(params map[string]string) error {
	data, err := json.Marshal(params)
	if err != nil {
		return err
	}
	c.Parameters = string(data)
	return nil
}

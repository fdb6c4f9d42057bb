package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nexivo/sentinel/pkg/constants"
)

// AuditIncident is one durable entry in the forensic trail. Incidents are
// written for every individual positive detection, independent of how the
// aggregate severity comes out, and replayed to the backend when reachable.
type AuditIncident struct {
	IncidentID string                   `gorm:"primaryKey" json:"incident_id"`
	DeviceID   string                   `gorm:"index" json:"device_id"`
	EventType  constants.AuditEventType `gorm:"index" json:"event_type"`
	Severity   constants.Severity       `json:"severity"`
	Message    string                   `json:"message"`
	Metadata   json.RawMessage          `json:"metadata,omitempty"`
	Reported   bool                     `gorm:"index" json:"reported"`
	Timestamp  time.Time                `gorm:"index" json:"timestamp"`
}

// TableName maps the model to its sqlite table.
func (AuditIncident) TableName() string {
	return "audit_incidents"
}

// NewAuditIncident creates an incident stamped with now.
func NewAuditIncident(deviceID string, eventType constants.AuditEventType, severity constants.Severity, message string) *AuditIncident {
	return &AuditIncident{
		IncidentID: uuid.NewString(),
		DeviceID:   deviceID,
		EventType:  eventType,
		Severity:   severity,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
}

// WithMetadata attaches JSON metadata to the incident.
func (a *AuditIncident) WithMetadata(data interface{}) *AuditIncident {
	jsonData, err := json.Marshal(data)
	if err == nil {
		a.Metadata = jsonData
	}
	return a
}

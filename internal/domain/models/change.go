package models

import (
	"time"

	"github.com/nexivo/sentinel/pkg/constants"
)

// ChangeDetail records one monitored field that differed from baseline.
// The change history is append-only and bounded; the oldest entries are
// evicted first.
type ChangeDetail struct {
	ID            uint                `gorm:"primaryKey;autoIncrement" json:"-"`
	Field         string              `gorm:"index" json:"field"`
	BaselineValue string              `json:"baseline_value"`
	CurrentValue  string              `json:"current_value"`
	Severity      constants.Severity  `json:"severity"`
	ChangeType    constants.ChangeType `json:"change_type"`
	DetectedAt    time.Time           `gorm:"index" json:"detected_at"`
}

// TableName maps the model to its sqlite table.
func (ChangeDetail) TableName() string {
	return "change_history"
}

// ComparisonResult is the outcome of one baseline diff.
type ComparisonResult struct {
	HasChanges bool               `json:"has_changes"`
	Changes    []ChangeDetail     `json:"changes"`
	Severity   constants.Severity `json:"severity"`

	// BaselineSeeded is true when no baseline existed and this call created
	// one; such a call never reports changes.
	BaselineSeeded bool `json:"baseline_seeded"`
}

// CriticalFields returns the names of fields that changed at CRITICAL
// severity, used to build the auto-lock reason message.
func (r *ComparisonResult) CriticalFields() []string {
	var fields []string
	for _, c := range r.Changes {
		if c.Severity >= constants.SeverityCritical {
			fields = append(fields, c.Field)
		}
	}
	return fields
}

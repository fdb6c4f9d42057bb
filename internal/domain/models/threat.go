package models

import (
	"time"

	"github.com/nexivo/sentinel/pkg/constants"
)

// ThreatState is the persisted accumulating threat score with its derived
// protection level. The level transition is a pure function of the clamped
// score; side effects are applied on transition only.
type ThreatState struct {
	ID               uint                      `gorm:"primaryKey" json:"-"`
	Score            int                       `json:"score"`
	Level            constants.ProtectionLevel `json:"level"`
	LastTransitionAt time.Time                 `json:"last_transition_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// TableName maps the model to its sqlite table.
func (ThreatState) TableName() string {
	return "threat_state"
}

// Apply adds delta to the score, clamps to [0, ThreatScoreMax], and returns
// true when the derived protection level changed.
func (t *ThreatState) Apply(delta int, now time.Time) bool {
	score := t.Score + delta
	if score < 0 {
		score = 0
	}
	if score > constants.ThreatScoreMax {
		score = constants.ThreatScoreMax
	}
	t.Score = score
	t.UpdatedAt = now

	level := constants.LevelForScore(score)
	if level != t.Level {
		t.Level = level
		t.LastTransitionAt = now
		return true
	}
	return false
}

package models

import (
	"time"

	"github.com/nexivo/sentinel/pkg/constants"
)

// TamperStatus is the aggregate result of one probe sweep. It is recomputed
// fresh on every check and never partially updated. Severity is the maximum
// over all contributing flags.
type TamperStatus struct {
	IsTampered bool                              `json:"is_tampered"`
	Flags      map[constants.TamperFlag]struct{} `json:"-"`
	Severity   constants.Severity                `json:"severity"`
	Timestamp  time.Time                         `json:"timestamp"`
}

// NewTamperStatus creates an empty (clean) status stamped with now.
func NewTamperStatus(now time.Time) *TamperStatus {
	return &TamperStatus{
		Flags:     make(map[constants.TamperFlag]struct{}),
		Timestamp: now,
	}
}

// AddFlag records a triggered flag and raises the aggregate severity
// monotonically. Adding a flag never decreases severity.
func (s *TamperStatus) AddFlag(flag constants.TamperFlag, severity constants.Severity) {
	s.Flags[flag] = struct{}{}
	s.IsTampered = true
	s.Severity = constants.MaxSeverity(s.Severity, severity)
}

// HasFlag reports whether the given flag was triggered in this sweep.
func (s *TamperStatus) HasFlag(flag constants.TamperFlag) bool {
	_, ok := s.Flags[flag]
	return ok
}

// FlagNames returns the triggered flags as strings for reporting.
func (s *TamperStatus) FlagNames() []string {
	names := make([]string, 0, len(s.Flags))
	for f := range s.Flags {
		names = append(names, string(f))
	}
	return names
}

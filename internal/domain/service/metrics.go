package service

import "github.com/nexivo/sentinel/pkg/constants"

// Metrics is the observability sink the domain services report into. The
// prometheus-backed implementation lives in
// internal/infrastructure/monitoring; tests use NoopMetrics.
type Metrics interface {
	RecordTamperFlag(flag constants.TamperFlag)
	RecordLockTransition(state constants.LockState, reason constants.LockReason)
	RecordHeartbeat(result string)
	RecordCommand(commandType constants.CommandType, result string)
	SetQueueDepth(depth int64)
	RecordSpoolReplay(count int)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) RecordTamperFlag(constants.TamperFlag)                        {}
func (NoopMetrics) RecordLockTransition(constants.LockState, constants.LockReason) {}
func (NoopMetrics) RecordHeartbeat(string)                                       {}
func (NoopMetrics) RecordCommand(constants.CommandType, string)                  {}
func (NoopMetrics) SetQueueDepth(int64)                                          {}
func (NoopMetrics) RecordSpoolReplay(int)                                        {}

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
)

// Metrics is the prometheus-backed implementation of the domain metrics
// sink, exposed through the local control API's /metrics endpoint.
type Metrics struct {
	TamperFlags     *prometheus.CounterVec
	LockTransitions *prometheus.CounterVec
	Heartbeats      *prometheus.CounterVec
	Commands        *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	SpoolReplays    prometheus.Counter
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates and registers the agent metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		TamperFlags: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_tamper_flags_total",
				Help: "Total tamper flags raised, by flag name.",
			},
			[]string{"flag"},
		),
		LockTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_lock_transitions_total",
				Help: "Total lock state transitions, by resulting state and reason.",
			},
			[]string{"state", "reason"},
		),
		Heartbeats: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_heartbeats_total",
				Help: "Total heartbeat attempts, by result.",
			},
			[]string{"result"},
		),
		Commands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_commands_total",
				Help: "Total command executions, by type and result.",
			},
			[]string{"type", "result"},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_command_queue_depth",
				Help: "Current number of pending commands in the durable queue.",
			},
		),
		SpoolReplays: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_spool_replays_total",
				Help: "Total heartbeat payloads replayed from the offline spool.",
			},
		),
	}
}

// RecordTamperFlag counts one raised tamper flag.
func (m *Metrics) RecordTamperFlag(flag constants.TamperFlag) {
	m.TamperFlags.WithLabelValues(string(flag)).Inc()
}

// RecordLockTransition counts a lock state transition.
func (m *Metrics) RecordLockTransition(state constants.LockState, reason constants.LockReason) {
	m.LockTransitions.WithLabelValues(string(state), string(reason)).Inc()
}

// RecordHeartbeat counts one heartbeat attempt.
func (m *Metrics) RecordHeartbeat(result string) {
	m.Heartbeats.WithLabelValues(result).Inc()
}

// RecordCommand counts one command execution outcome.
func (m *Metrics) RecordCommand(commandType constants.CommandType, result string) {
	m.Commands.WithLabelValues(string(commandType), result).Inc()
}

// SetQueueDepth records the current durable queue depth.
func (m *Metrics) SetQueueDepth(depth int64) {
	m.QueueDepth.Set(float64(depth))
}

// RecordSpoolReplay counts payloads replayed from the offline spool.
func (m *Metrics) RecordSpoolReplay(count int) {
	m.SpoolReplays.Add(float64(count))
}

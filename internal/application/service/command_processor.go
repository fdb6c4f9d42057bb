package service

import (
	"context"
	"time"

	domainsvc "github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/constants"
	"github.com/nexivo/sentinel/pkg/logger"
)

// terminalCommandRetention bounds how long executed/failed commands stay in
// the store for inspection before purge.
const terminalCommandRetention = 7 * 24 * time.Hour

// CommandProcessor drains the durable command queue on a poll interval.
// Commands arrive via heartbeat responses; the queue itself is the unit of
// durability, so the processor just keeps pulling the head.
type CommandProcessor struct {
	queue    *domainsvc.CommandQueue
	interval time.Duration
	logger   logger.Logger
}

// NewCommandProcessor wires the poll loop.
func NewCommandProcessor(queue *domainsvc.CommandQueue, interval time.Duration, log logger.Logger) *CommandProcessor {
	if interval <= 0 {
		interval = constants.DefaultCommandPollInterval
	}
	return &CommandProcessor{
		queue:    queue,
		interval: interval,
		logger:   log.WithComponent("command-processor"),
	}
}

// Run drains the queue until the context ends.
func (p *CommandProcessor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Purge roughly hourly, independent of the drain cadence.
	lastPurge := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := p.queue.Drain(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error(ctx, "Queue drain failed", err)
		}

		if time.Since(lastPurge) >= time.Hour {
			p.queue.Purge(ctx, time.Now().Add(-terminalCommandRetention))
			lastPurge = time.Now()
		}
	}
}

package realtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Janar2510/AgentFlow/internal/metrics"
)

// StatsBroadcaster is the slice of the manager the status publisher needs.
type StatsBroadcaster interface {
	Stats() (Stats, error)
	Broadcast(channel string, payload Payload, exclude uuid.UUID) (Report, error)
}

// StatusPublisher periodically broadcasts a system status snapshot to the
// system channel. A failing cycle is logged and followed by a longer backoff
// pause; the loop itself never terminates until the context is cancelled.
type StatusPublisher struct {
	manager  StatsBroadcaster
	clock    clockwork.Clock
	interval time.Duration
	backoff  time.Duration
}

func NewStatusPublisher(manager StatsBroadcaster, clock clockwork.Clock, interval, backoff time.Duration) *StatusPublisher {
	return &StatusPublisher{
		manager:  manager,
		clock:    clock,
		interval: interval,
		backoff:  backoff,
	}
}

// Run blocks until ctx is cancelled. Each cycle waits the interval first, so
// the initial status goes out one interval after startup.
func (p *StatusPublisher) Run(ctx context.Context) {
	slog.Info("Status publisher started", "interval", p.interval)

	for {
		if !p.sleep(ctx, p.interval) {
			slog.Info("Status publisher stopped")
			return
		}

		if err := p.publish(); err != nil {
			metrics.StatusCyclesTotal.WithLabelValues("error").Inc()
			slog.Error("Failed to publish system status", "error", err)
			if !p.sleep(ctx, p.backoff) {
				slog.Info("Status publisher stopped")
				return
			}
			continue
		}
		metrics.StatusCyclesTotal.WithLabelValues("ok").Inc()
	}
}

func (p *StatusPublisher) publish() error {
	stats, err := p.manager.Stats()
	if err != nil {
		return err
	}

	payload := Payload{
		"type": typeSystemStatus,
		"data": map[string]any{
			"active_connections": stats.ConnectionCount,
			"active_channels":    stats.ChannelCount,
			"server_time":        formatTimestamp(p.clock.Now()),
		},
	}

	report, err := p.manager.Broadcast(SystemChannel, payload, uuid.Nil)
	if err != nil {
		return err
	}

	slog.Debug("System status published", "recipients", report.Attempted, "failed", len(report.Failed))
	return nil
}

// sleep waits for d on the injected clock, returning false when ctx ends.
func (p *StatusPublisher) sleep(ctx context.Context, d time.Duration) bool {
	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return true
	case <-ctx.Done():
		return false
	}
}

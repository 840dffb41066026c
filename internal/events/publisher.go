// Package events implements domain.EventPublisher on top of the realtime
// manager, with optional cross-instance fan-out through the relay.
package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Janar2510/AgentFlow/internal/realtime"
	"github.com/Janar2510/AgentFlow/internal/relay"
)

// Publisher delivers workflow events to local subscribers and, when a relay
// is configured, to subscribers on peer instances.
type Publisher struct {
	manager *realtime.Manager
	relay   *relay.Relay // nil in single-instance deployments
}

func New(manager *realtime.Manager, r *relay.Relay) *Publisher {
	return &Publisher{manager: manager, relay: r}
}

func (p *Publisher) PublishWorkflowEvent(ctx context.Context, workflowID uuid.UUID, payload map[string]any) error {
	channel := realtime.WorkflowChannel(workflowID)

	if p.relay != nil {
		if err := p.relay.Publish(ctx, channel, payload); err != nil {
			return fmt.Errorf("publish workflow event: %w", err)
		}
		return nil
	}

	if _, err := p.manager.Broadcast(channel, payload, uuid.Nil); err != nil {
		return fmt.Errorf("publish workflow event: %w", err)
	}
	return nil
}

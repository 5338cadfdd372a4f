package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Publisher marshals typed payloads and publishes them on the agents
// topic. Each public method accepts a specific payload struct — see
// payloads.go. The publisher owns the envelope: it stamps the "type"
// discriminator and a timestamp on every payload before marshaling, so
// callers only fill the domain fields.
//
// A nil Publisher, or one constructed with a nil Bus, is a valid no-op:
// every Publish method returns nil without doing anything. Components
// take a *Publisher and never have to guard their event calls.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a Publisher over the given bus (nil allowed).
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishAgentStatus broadcasts an agent lifecycle transition.
func (p *Publisher) PublishAgentStatus(payload AgentStatusPayload) error {
	payload.Type = EventTypeAgentStatus
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishAgentThinking broadcasts a thinking feed update.
func (p *Publisher) PublishAgentThinking(payload AgentThinkingPayload) error {
	payload.Type = EventTypeAgentThinking
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishAgentStream broadcasts a batch of raw assistant text deltas.
func (p *Publisher) PublishAgentStream(payload AgentStreamPayload) error {
	payload.Type = EventTypeAgentStream
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishAgentError broadcasts a terminal agent failure.
func (p *Publisher) PublishAgentError(payload AgentErrorPayload) error {
	payload.Type = EventTypeAgentError
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishFilesChanged broadcasts workspace paths written by agent tools.
func (p *Publisher) PublishFilesChanged(payload FilesChangedPayload) error {
	payload.Type = EventTypeFilesChanged
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishTokenUsage broadcasts one LLM call's usage record.
func (p *Publisher) PublishTokenUsage(payload TokenUsagePayload) error {
	payload.Type = EventTypeTokenUsage
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishChatMessage broadcasts an assistant chat message.
func (p *Publisher) PublishChatMessage(payload ChatMessagePayload) error {
	payload.Type = EventTypeChatMessage
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// PublishPipelineHalted broadcasts a fatal pipeline stop.
func (p *Publisher) PublishPipelineHalted(payload PipelineHaltedPayload) error {
	payload.Type = EventTypePipelineHalted
	return p.publish(payload.Type, &payload.Timestamp, &payload)
}

// publish stamps the timestamp, marshals and hands off to the bus.
func (p *Publisher) publish(eventType string, timestamp *string, payload any) error {
	if p == nil || p.bus == nil {
		return nil
	}
	if *timestamp == "" {
		*timestamp = time.Now().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	p.bus.Publish(AgentsTopic, data)
	return nil
}

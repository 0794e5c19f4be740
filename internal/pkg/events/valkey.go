package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

const DefaultValkeyChannel = "minefield:events"

// ValkeyPublisher publishes every event as JSON on a valkey channel so other
// consumers can follow the match stream.
type ValkeyPublisher struct {
	client  valkey.Client
	channel string
}

type valkeyEnvelope struct {
	Event

	Recipients []string `json:"recipients,omitempty"`
}

func NewValkeyPublisher(addr, channel string) (*ValkeyPublisher, error) {
	//nolint:exhaustruct
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	if channel == "" {
		channel = DefaultValkeyChannel
	}

	return &ValkeyPublisher{
		client:  client,
		channel: channel,
	}, nil
}

func (p *ValkeyPublisher) Publish(ctx context.Context, event Event) error {
	message, err := json.Marshal(valkeyEnvelope{Event: event, Recipients: event.Recipients})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	cmd := p.client.B().Publish().Channel(p.channel).Message(string(message)).Build()

	err = p.client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Kind, err)
	}

	return nil
}

func (p *ValkeyPublisher) Close() {
	p.client.Close()
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// DefaultEventChannel is the pub/sub channel session events are published on.
const DefaultEventChannel = "recording:events"

// EventPublisher fans session events out over redis pub/sub so audit and
// notification consumers can run in other processes.
type EventPublisher struct {
	client  *redis.Client
	logger  commons.Logger
	channel string
}

func NewEventPublisher(client *redis.Client, logger commons.Logger, channel string) *EventPublisher {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &EventPublisher{client: client, logger: logger, channel: channel}
}

// Payload is the exact message body published for ev.
func Payload(ev internal_type.Event) ([]byte, error) {
	return json.Marshal(internal_type.Envelope(ev))
}

func (p *EventPublisher) Publish(ctx context.Context, ev internal_type.Event) error {
	if p.client == nil {
		return fmt.Errorf("redis connection not available for event publisher")
	}
	data, err := Payload(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type(), err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Type(), err)
	}
	p.logger.Debugf("published %s event for session %s to %d receivers", ev.Type(), ev.SessionID(), receivers)
	return nil
}

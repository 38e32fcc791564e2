// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transport_discord

import (
	"context"
	"fmt"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// LogChannels resolves the text channel a group wants notifications in.
type LogChannels interface {
	LogChannel(ctx context.Context, groupID string) (string, error)
}

// Notifier posts session starts, stops and fatal errors to the group's log
// channel. Groups without one are skipped.
type Notifier struct {
	logger    commons.Logger
	channels  LogChannels
	templates *Templates
	send      func(channelID, content string) error
}

func (t *Transport) Notifier(channels LogChannels, templates *Templates) *Notifier {
	return newNotifier(t.logger, channels, templates, func(channelID, content string) error {
		_, err := t.session.ChannelMessageSend(channelID, content)
		return err
	})
}

func newNotifier(logger commons.Logger, channels LogChannels, templates *Templates, send func(channelID, content string) error) *Notifier {
	return &Notifier{logger: logger, channels: channels, templates: templates, send: send}
}

func (n *Notifier) Publish(ctx context.Context, ev internal_type.Event) error {
	groupID, content, err := n.templates.Render(ev)
	if err != nil {
		return fmt.Errorf("failed to render notification: %w", err)
	}
	if content == "" {
		return nil
	}

	channelID, err := n.channels.LogChannel(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to resolve log channel: %w", err)
	}
	if channelID == "" {
		return nil
	}
	if err := n.send(channelID, content); err != nil {
		return fmt.Errorf("failed to post to log channel %s: %w", channelID, err)
	}
	return nil
}

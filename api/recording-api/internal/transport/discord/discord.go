// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transport_discord receives voice from Discord guild channels.
package transport_discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

const readyPollInterval = 250 * time.Millisecond

// Transport joins Discord voice channels with a bot account and reports
// voice membership changes of every guild the bot can see.
type Transport struct {
	logger     commons.Logger
	session    *discordgo.Session
	membership *membership
	changes    chan internal_type.MembershipChange
	removers   []func()
}

func New(logger commons.Logger, token string) (*Transport, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	s.LogLevel = discordgo.LogError

	t := &Transport{
		logger:     logger.With("transport", "discord"),
		session:    s,
		membership: newMembership(),
		changes:    make(chan internal_type.MembershipChange, 256),
	}
	t.removers = append(t.removers,
		s.AddHandler(t.onGuildCreate),
		s.AddHandler(t.onGuildDelete),
		s.AddHandler(t.onVoiceStateUpdate),
	)
	return t, nil
}

// Open connects the gateway.
func (t *Transport) Open() error {
	if err := t.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	t.logger.Infow("discord gateway connected")
	return nil
}

func (t *Transport) Close() error {
	for _, remove := range t.removers {
		remove()
	}
	return t.session.Close()
}

// Changes streams voice membership changes. Moves that keep the channel
// (mute, deafen) are not reported.
func (t *Transport) Changes() <-chan internal_type.MembershipChange { return t.changes }

func (t *Transport) ChannelMembers(guildID, channelID string) []internal_type.Member {
	return t.membership.ChannelMembers(guildID, channelID)
}

func (t *Transport) MemberChannel(guildID, userID string) string {
	return t.membership.MemberChannel(guildID, userID)
}

func (t *Transport) Capabilities() internal_type.TransportCapabilities {
	return internal_type.TransportCapabilities{SampleRate: internal_audio.SampleRate, Channels: internal_audio.Channels}
}

func (t *Transport) onGuildCreate(_ *discordgo.Session, e *discordgo.GuildCreate) {
	if e.Guild == nil {
		return
	}
	for _, vs := range e.Guild.VoiceStates {
		t.membership.apply(e.Guild.ID, vs.UserID, t.isBot(e.Guild.ID, vs.UserID, vs.Member), vs.ChannelID)
	}
}

func (t *Transport) onGuildDelete(_ *discordgo.Session, e *discordgo.GuildDelete) {
	if e.Guild != nil {
		t.membership.forget(e.Guild.ID)
	}
}

func (t *Transport) onVoiceStateUpdate(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
	if e.VoiceState == nil {
		return
	}
	change := t.membership.apply(e.GuildID, e.UserID, t.isBot(e.GuildID, e.UserID, e.Member), e.ChannelID)
	if change.FromChannel == change.ToChannel {
		return
	}
	select {
	case t.changes <- change:
	default:
		t.logger.Warnw("membership change dropped", "guild", change.GroupID, "member", change.MemberID)
	}
}

func (t *Transport) isBot(guildID, userID string, m *discordgo.Member) bool {
	if m != nil && m.User != nil {
		return m.User.Bot
	}
	if t.session.State.User != nil && t.session.State.User.ID == userID {
		return true
	}
	if member, err := t.session.State.Member(guildID, userID); err == nil && member.User != nil {
		return member.User.Bot
	}
	return false
}

// Join connects to a voice channel unmuted and undeafened so audio can be
// received. discordgo blocks until the voice handshake finishes, so the
// call runs aside and ctx bounds the wait.
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (internal_type.VoiceConnection, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, false)
		done <- result{vc, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, fmt.Errorf("failed to join voice channel: %w", r.err)
		}
		return newConnection(t, r.vc, guildID, channelID), nil
	}
}

// Connection wraps one discordgo voice connection.
type Connection struct {
	logger    commons.Logger
	transport *Transport
	vc        *discordgo.VoiceConnection
	guildID   string
	channelID string
	receiver  *receiver
	states    chan internal_type.ConnectionState

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	destroy sync.Once
}

func newConnection(t *Transport, vc *discordgo.VoiceConnection, guildID, channelID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		logger:    t.logger.With("guild", guildID, "channel", channelID),
		transport: t,
		vc:        vc,
		guildID:   guildID,
		channelID: channelID,
		states:    make(chan internal_type.ConnectionState, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.receiver = newReceiver(c.logger, newOpusDecoder, DefaultSpeakingIdle, nil)
	vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		c.receiver.bind(uint32(vs.SSRC), vs.UserID)
	})
	c.states <- internal_type.ConnectionConnecting

	c.wg.Add(3)
	go c.receiveLoop()
	go c.sweepLoop()
	go c.readyLoop()
	return c
}

func (c *Connection) States() <-chan internal_type.ConnectionState { return c.states }

func (c *Connection) SpeakingEvents() <-chan internal_type.SpeakingEvent {
	return c.receiver.speaking
}

func (c *Connection) Subscribe(speakerID string) (internal_type.FrameStream, error) {
	return c.receiver.subscribe(speakerID)
}

func (c *Connection) Members() []internal_type.Member {
	return c.transport.ChannelMembers(c.guildID, c.channelID)
}

func (c *Connection) Destroy() error {
	var err error
	c.destroy.Do(func() {
		c.cancel()
		c.receiver.close()
		err = c.vc.Disconnect()
		c.wg.Wait()
		c.state(internal_type.ConnectionDestroyed)
	})
	return err
}

func (c *Connection) state(st internal_type.ConnectionState) {
	select {
	case c.states <- st:
	default:
		c.logger.Warnw("connection state dropped", "state", st)
	}
}

func (c *Connection) receiveLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case p, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if p != nil {
				c.receiver.handle(Packet{SSRC: p.SSRC, Opus: p.Opus})
			}
		}
	}
}

func (c *Connection) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.receiver.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.receiver.sweep()
		}
	}
}

// readyLoop turns the connection's Ready flag into state notifications.
// discordgo reconnects voice on its own; a flip back to ready is a
// recovery.
func (c *Connection) readyLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	last := false
	for {
		if ready := c.ready(); ready != last {
			last = ready
			if ready {
				c.state(internal_type.ConnectionReady)
			} else {
				c.logger.Warnw("voice connection lost")
				c.state(internal_type.ConnectionDisconnected)
			}
		}
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Connection) ready() bool {
	c.vc.RLock()
	defer c.vc.RUnlock()
	return c.vc.Ready
}

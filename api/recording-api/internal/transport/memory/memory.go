// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transport_memory is an in-process voice transport. It backs local
// runs without a voice provider and drives the engine in tests.
package transport_memory

import (
	"context"
	"fmt"
	"sync"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

type Transport struct {
	mu sync.Mutex

	// HoldReady keeps new connections in the connecting state until
	// EmitState(ready) is called.
	HoldReady bool
	// JoinErr, when set, fails every Join.
	JoinErr error

	connections []*Connection
	presence    map[string]map[string]internal_type.Member // group -> member -> member
	location    map[string]map[string]string               // group -> member -> channel
	changes     chan internal_type.MembershipChange
}

func New() *Transport {
	return &Transport{
		presence: make(map[string]map[string]internal_type.Member),
		location: make(map[string]map[string]string),
		changes:  make(chan internal_type.MembershipChange, 256),
	}
}

func (t *Transport) Capabilities() internal_type.TransportCapabilities {
	return internal_type.TransportCapabilities{SampleRate: internal_audio.SampleRate, Channels: internal_audio.Channels}
}

func (t *Transport) Join(ctx context.Context, groupID, channelID string) (internal_type.VoiceConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.JoinErr != nil {
		return nil, t.JoinErr
	}
	c := &Connection{
		transport: t,
		GroupID:   groupID,
		ChannelID: channelID,
		states:    make(chan internal_type.ConnectionState, 16),
		speaking:  make(chan internal_type.SpeakingEvent, 256),
		streams:   make(map[string]*Stream),
		live:      make(map[string]int),
		maxLive:   make(map[string]int),
	}
	c.states <- internal_type.ConnectionConnecting
	if !t.HoldReady {
		c.states <- internal_type.ConnectionReady
	}
	t.connections = append(t.connections, c)
	return c, nil
}

// Connections lists every connection ever joined, oldest first.
func (t *Transport) Connections() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Connection(nil), t.connections...)
}

// Last is the most recent connection, nil if none.
func (t *Transport) Last() *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.connections) == 0 {
		return nil
	}
	return t.connections[len(t.connections)-1]
}

// Move places a member in toChannel (empty leaves voice) and publishes the
// resulting membership change.
func (t *Transport) Move(groupID, memberID string, bot bool, toChannel string) internal_type.MembershipChange {
	t.mu.Lock()
	if t.location[groupID] == nil {
		t.location[groupID] = make(map[string]string)
		t.presence[groupID] = make(map[string]internal_type.Member)
	}
	from := t.location[groupID][memberID]
	if toChannel == "" {
		delete(t.location[groupID], memberID)
		delete(t.presence[groupID], memberID)
	} else {
		t.location[groupID][memberID] = toChannel
		t.presence[groupID][memberID] = internal_type.Member{ID: memberID, Bot: bot}
	}
	t.mu.Unlock()

	change := internal_type.MembershipChange{GroupID: groupID, MemberID: memberID, Bot: bot, FromChannel: from, ToChannel: toChannel}
	select {
	case t.changes <- change:
	default:
	}
	return change
}

// Changes streams every Move.
func (t *Transport) Changes() <-chan internal_type.MembershipChange { return t.changes }

func (t *Transport) ChannelMembers(groupID, channelID string) []internal_type.Member {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []internal_type.Member
	for id, ch := range t.location[groupID] {
		if ch == channelID {
			out = append(out, t.presence[groupID][id])
		}
	}
	return out
}

func (t *Transport) MemberChannel(groupID, memberID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location[groupID][memberID]
}

// Connection is one joined channel. Tests drive it through EmitState, Speak
// and Frame.
type Connection struct {
	transport *Transport
	GroupID   string
	ChannelID string

	states   chan internal_type.ConnectionState
	speaking chan internal_type.SpeakingEvent

	mu           sync.Mutex
	members      []internal_type.Member
	streams      map[string]*Stream
	live         map[string]int
	maxLive      map[string]int
	subscribes   int
	destroyed    bool
	destroyCount int
	SubscribeErr error
}

func (c *Connection) States() <-chan internal_type.ConnectionState       { return c.states }
func (c *Connection) SpeakingEvents() <-chan internal_type.SpeakingEvent { return c.speaking }

func (c *Connection) Members() []internal_type.Member {
	c.mu.Lock()
	explicit := append([]internal_type.Member(nil), c.members...)
	c.mu.Unlock()
	if len(explicit) > 0 {
		return explicit
	}
	return c.transport.ChannelMembers(c.GroupID, c.ChannelID)
}

// SetMembers overrides the member list reported to the session.
func (c *Connection) SetMembers(members ...internal_type.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members = members
}

func (c *Connection) EmitState(st internal_type.ConnectionState) {
	c.states <- st
}

func (c *Connection) Speak(speakerID string, speaking bool) {
	c.speaking <- internal_type.SpeakingEvent{SpeakerID: speakerID, Speaking: speaking}
}

func (c *Connection) Subscribe(speakerID string) (internal_type.FrameStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil, fmt.Errorf("connection destroyed")
	}
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	s := &Stream{conn: c, speakerID: speakerID, frames: make(chan []byte, 256)}
	c.streams[speakerID] = s
	c.subscribes++
	c.live[speakerID]++
	if c.live[speakerID] > c.maxLive[speakerID] {
		c.maxLive[speakerID] = c.live[speakerID]
	}
	return s, nil
}

// Frame delivers pcm on the speaker's current stream. Reports false when no
// stream is bound.
func (c *Connection) Frame(speakerID string, pcm []byte) bool {
	c.mu.Lock()
	s := c.streams[speakerID]
	c.mu.Unlock()
	if s == nil {
		return false
	}
	return s.push(pcm)
}

// Fail ends the speaker's current stream with err.
func (c *Connection) Fail(speakerID string, err error) {
	c.mu.Lock()
	s := c.streams[speakerID]
	c.mu.Unlock()
	if s != nil && s.end(err) {
		c.released(s)
	}
}

// LiveStreams is the number of open streams for a speaker.
func (c *Connection) LiveStreams(speakerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[speakerID]
}

// MaxLiveStreams is the highest number of simultaneously open streams ever
// observed for a speaker.
func (c *Connection) MaxLiveStreams(speakerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLive[speakerID]
}

func (c *Connection) Subscribes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes
}

func (c *Connection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyCount++
	if c.destroyed {
		return nil
	}
	c.destroyed = true
	for id, s := range c.streams {
		if s.end(nil) {
			c.live[id]--
		}
		delete(c.streams, id)
	}
	return nil
}

func (c *Connection) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Connection) DestroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyCount
}

func (c *Connection) released(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[s.speakerID]--
	if c.streams[s.speakerID] == s {
		delete(c.streams, s.speakerID)
	}
}

type Stream struct {
	conn      *Connection
	speakerID string
	frames    chan []byte

	mu    sync.Mutex
	ended bool
	err   error
}

func (s *Stream) Frames() <-chan []byte { return s.frames }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	if s.end(nil) {
		s.conn.released(s)
	}
	return nil
}

func (s *Stream) push(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.frames <- pcm:
		return true
	default:
		return false
	}
}

// end closes the frame channel once. Reports whether this call ended it.
func (s *Stream) end(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	s.err = err
	close(s.frames)
	return true
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "context"

// ConnectionState is a lifecycle notification of a voice connection.
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionReady        ConnectionState = "ready"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionResuming     ConnectionState = "resuming"
	ConnectionDestroyed    ConnectionState = "destroyed"
)

// Recovering reports whether the state means the transport is coming back
// after a disconnect.
func (c ConnectionState) Recovering() bool {
	return c == ConnectionReady || c == ConnectionResuming || c == ConnectionConnecting
}

// SpeakingEvent is a speaking-start or speaking-stop notification.
type SpeakingEvent struct {
	SpeakerID string
	Speaking  bool
}

// Member is a participant currently present in a voice channel.
type Member struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot"`
}

// FrameStream delivers decoded PCM frames (s16le, interleaved) for one speaker.
// Frames is closed when the stream ends or Close is called; Err then reports
// why, nil on a clean close.
type FrameStream interface {
	Frames() <-chan []byte
	Err() error
	Close() error
}

// VoiceConnection is one joined voice channel.
type VoiceConnection interface {
	States() <-chan ConnectionState
	SpeakingEvents() <-chan SpeakingEvent
	Subscribe(speakerID string) (FrameStream, error)
	Members() []Member
	Destroy() error
}

// VoiceTransport joins voice channels. Join returns as soon as the
// connection object exists; readiness is observed through States.
type VoiceTransport interface {
	Join(ctx context.Context, groupID, channelID string) (VoiceConnection, error)
	Capabilities() TransportCapabilities
}

// MembershipChange is one member moving between channels of a group. An
// empty FromChannel means the member joined voice, an empty ToChannel means
// they left it.
type MembershipChange struct {
	GroupID     string
	MemberID    string
	Bot         bool
	FromChannel string
	ToChannel   string
}

// ChannelView answers who is currently in which channel of a group.
type ChannelView interface {
	ChannelMembers(groupID, channelID string) []Member
	MemberChannel(groupID, memberID string) string
}

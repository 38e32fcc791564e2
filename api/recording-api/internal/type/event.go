// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "time"

// EventType names an event on the wire.
type EventType string

const (
	EventStart         EventType = "start"
	EventStop          EventType = "stop"
	EventSpeakerJoined EventType = "speakerJoined"
	EventSpeakerLeft   EventType = "speakerLeft"
	EventError         EventType = "error"
)

// Event is emitted by a session on its outbound channel. The concrete types
// below are the only implementations.
type Event interface {
	Type() EventType
	SessionID() string
	Time() time.Time
	// Terminal events are always the last one a session emits.
	Terminal() bool
}

type StartEvent struct {
	Session SessionMetadata
	At      time.Time
}

func (e StartEvent) Type() EventType   { return EventStart }
func (e StartEvent) SessionID() string { return e.Session.ID }
func (e StartEvent) Time() time.Time   { return e.At }
func (e StartEvent) Terminal() bool    { return false }

// StopEvent is emitted once, after the artifacts are finalized.
type StopEvent struct {
	Session   SessionMetadata
	Artifacts []string
	At        time.Time
}

func (e StopEvent) Type() EventType   { return EventStop }
func (e StopEvent) SessionID() string { return e.Session.ID }
func (e StopEvent) Time() time.Time   { return e.At }
func (e StopEvent) Terminal() bool    { return true }

type SpeakerJoinedEvent struct {
	ID        string
	SpeakerID string
	At        time.Time
}

func (e SpeakerJoinedEvent) Type() EventType   { return EventSpeakerJoined }
func (e SpeakerJoinedEvent) SessionID() string { return e.ID }
func (e SpeakerJoinedEvent) Time() time.Time   { return e.At }
func (e SpeakerJoinedEvent) Terminal() bool    { return false }

type SpeakerLeftEvent struct {
	ID        string
	SpeakerID string
	At        time.Time
}

func (e SpeakerLeftEvent) Type() EventType   { return EventSpeakerLeft }
func (e SpeakerLeftEvent) SessionID() string { return e.ID }
func (e SpeakerLeftEvent) Time() time.Time   { return e.At }
func (e SpeakerLeftEvent) Terminal() bool    { return false }

// Failure stages carried by ErrorEvent.
const (
	StageConnect   = "connect"
	StageTransport = "transport"
	StageDecode    = "decode"
	StageSink      = "sink"
	StageConvert   = "convert"
)

// ErrorEvent reports a failure. Fatal ones end the session and carry the
// final metadata; decode failures are scoped to a speaker and are not fatal.
type ErrorEvent struct {
	Session   SessionMetadata
	Stage     string
	SpeakerID string
	Err       error
	Fatal     bool
	At        time.Time
}

func (e ErrorEvent) Type() EventType   { return EventError }
func (e ErrorEvent) SessionID() string { return e.Session.ID }
func (e ErrorEvent) Time() time.Time   { return e.At }
func (e ErrorEvent) Terminal() bool    { return e.Fatal }

// EventEnvelope is the serialized form of an Event.
type EventEnvelope struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"sessionId"`
	Time      time.Time        `json:"time"`
	Session   *SessionMetadata `json:"session,omitempty"`
	SpeakerID string           `json:"speakerId,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	Error     string           `json:"error,omitempty"`
	Fatal     bool             `json:"fatal,omitempty"`
	Artifacts []string         `json:"artifacts,omitempty"`
}

// Envelope flattens any event into its serialized form.
func Envelope(ev Event) EventEnvelope {
	env := EventEnvelope{Type: ev.Type(), SessionID: ev.SessionID(), Time: ev.Time()}
	switch e := ev.(type) {
	case StartEvent:
		env.Session = &e.Session
	case StopEvent:
		env.Session = &e.Session
		env.Artifacts = e.Artifacts
	case SpeakerJoinedEvent:
		env.SpeakerID = e.SpeakerID
	case SpeakerLeftEvent:
		env.SpeakerID = e.SpeakerID
	case ErrorEvent:
		env.Session = &e.Session
		env.SpeakerID = e.SpeakerID
		env.Stage = e.Stage
		env.Fatal = e.Fatal
		if e.Err != nil {
			env.Error = e.Err.Error()
		}
	}
	return env
}

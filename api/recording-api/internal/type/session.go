// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import "time"

type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionConnecting SessionState = "connecting"
	SessionActive     SessionState = "active"
	SessionStopping   SessionState = "stopping"
	SessionConverted  SessionState = "converted"
	SessionFailed     SessionState = "failed"
)

// Terminal reports whether no further transition can happen.
func (s SessionState) Terminal() bool {
	return s == SessionConverted || s == SessionFailed
}

// SessionMetadata is an immutable snapshot of a session.
type SessionMetadata struct {
	ID           string           `json:"id"`
	GroupID      string           `json:"groupId"`
	ChannelID    string           `json:"channelId"`
	InitiatorID  string           `json:"initiatorId"`
	State        SessionState     `json:"state"`
	StartTime    time.Time        `json:"startTime"`
	EndTime      *time.Time       `json:"endTime,omitempty"`
	Options      RecordingOptions `json:"options"`
	Participants []string         `json:"participants"`
	Artifacts    []string         `json:"artifacts,omitempty"`
	Stats        AudioStats       `json:"stats"`
}

// Duration is the recorded wall-clock span, zero until the session ends.
func (m SessionMetadata) Duration() time.Duration {
	if m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

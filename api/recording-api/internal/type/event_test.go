package internal_type

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvelope(t *testing.T) {
	now := time.Now()
	meta := SessionMetadata{ID: "s1", GroupID: "g1"}

	stop := Envelope(StopEvent{Session: meta, Artifacts: []string{"/tmp/s1.wav"}, At: now})
	assert.Equal(t, EventStop, stop.Type)
	assert.Equal(t, "s1", stop.SessionID)
	assert.Equal(t, []string{"/tmp/s1.wav"}, stop.Artifacts)

	failed := Envelope(ErrorEvent{Session: meta, Stage: StageConvert, Err: errors.New("exit 1"), Fatal: true, At: now})
	assert.Equal(t, EventError, failed.Type)
	assert.Equal(t, "exit 1", failed.Error)
	assert.True(t, failed.Fatal)

	joined := Envelope(SpeakerJoinedEvent{ID: "s1", SpeakerID: "u1", At: now})
	assert.Equal(t, "u1", joined.SpeakerID)
	assert.Nil(t, joined.Session)
}

func TestEventTerminal(t *testing.T) {
	assert.True(t, StopEvent{}.Terminal())
	assert.True(t, ErrorEvent{Fatal: true}.Terminal())
	assert.False(t, ErrorEvent{Stage: StageDecode}.Terminal())
	assert.False(t, StartEvent{}.Terminal())
}

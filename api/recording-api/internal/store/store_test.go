package internal_store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
	"github.com/rapidaai/recorder/pkg/utils"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "recorder.db"), 1, 1)
	require.NoError(t, err)
	s := New(commons.NewNopLogger(), db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", 0, 0)
	assert.Error(t, err)
}

func TestStore_GroupOverrides(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ov, err := s.GroupOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, ov)

	require.NoError(t, s.SaveGroupOverrides(ctx, "g1", internal_type.OptionsOverride{
		Format:  utils.Ptr("MP3"),
		Bitrate: utils.Ptr(192),
	}))
	require.NoError(t, s.SaveGroupOverrides(ctx, "g1", internal_type.OptionsOverride{
		SeparateSpeakers: utils.Ptr(true),
		MaxDuration:      utils.Ptr(90 * time.Minute),
	}))

	ov, err = s.GroupOverrides(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Equal(t, "mp3", *ov.Format)
	assert.Equal(t, 192000, *ov.Bitrate)
	assert.True(t, *ov.SeparateSpeakers)
	assert.Equal(t, 90*time.Minute, *ov.MaxDuration)
	assert.Nil(t, ov.SampleRate)

	err = s.SaveGroupOverrides(ctx, "g1", internal_type.OptionsOverride{Format: utils.Ptr("flac")})
	assert.ErrorIs(t, err, internal_type.ErrInvalidOptions)

	// rows written before a format was retired are read without it
	require.NoError(t, s.db.Create(&GroupSettings{GroupID: "g2", Format: utils.Ptr("flac"), Bitrate: utils.Ptr(96000)}).Error)
	ov, err = s.GroupOverrides(ctx, "g2")
	require.NoError(t, err)
	require.NotNil(t, ov)
	assert.Nil(t, ov.Format)
	assert.Equal(t, 96000, *ov.Bitrate)
}

func TestStore_LogChannel(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ch, err := s.LogChannel(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, ch)

	require.NoError(t, s.SaveGroupOverrides(ctx, "g1", internal_type.OptionsOverride{Bitrate: utils.Ptr(96000)}))
	require.NoError(t, s.SetLogChannel(ctx, "g1", "text-1"))
	require.NoError(t, s.SetLogChannel(ctx, "g1", "text-2"))

	ch, err = s.LogChannel(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "text-2", ch)

	ov, err := s.GroupOverrides(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, 96000, *ov.Bitrate)
}

func TestStore_AutoJoin(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	cfg, err := s.AutoJoinConfig(ctx, "g1")
	require.NoError(t, err)
	assert.False(t, cfg.Enabled())

	added, err := s.AddTrigger(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddTrigger(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = s.AddTrigger(ctx, "g1", "u2")
	require.NoError(t, err)

	require.NoError(t, s.SetAutoJoinChannel(ctx, "g1", "v1"))
	require.NoError(t, s.SetAutoJoinChannel(ctx, "g1", "v2"))

	cfg, err = s.AutoJoinConfig(ctx, "g1")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "v2", cfg.ChannelID)
	assert.ElementsMatch(t, []string{"u1", "u2"}, cfg.TriggerUsers)

	removed, err := s.RemoveTrigger(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.RemoveTrigger(ctx, "g1", "u2")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, s.DisableAutoJoin(ctx, "g1"))
	cfg, err = s.AutoJoinConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, cfg.ChannelID)
	assert.Empty(t, cfg.TriggerUsers)
}

func TestStore_Recordings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	artifact := filepath.Join(t.TempDir(), "s1.wav")
	require.NoError(t, os.WriteFile(artifact, make([]byte, 128), 0o644))

	start := time.Now().Add(-time.Minute).UTC()
	end := start.Add(30 * time.Second)
	meta := internal_type.SessionMetadata{
		ID:           "s1",
		GroupID:      "g1",
		ChannelID:    "v1",
		InitiatorID:  "u1",
		StartTime:    start,
		EndTime:      &end,
		Options:      internal_type.RecordingOptions{Format: internal_type.FormatWAV},
		Participants: []string{"u1", "u2"},
		Artifacts:    []string{artifact},
		Stats:        internal_type.AudioStats{PeakAmplitude: 1200, SilentSegments: 3},
	}
	require.NoError(t, s.SaveRecording(ctx, RecordingFromMetadata(meta, "", nil)))

	failedMeta := meta
	failedMeta.ID = "s2"
	failedMeta.StartTime = start.Add(time.Second)
	failedMeta.Artifacts = nil
	require.NoError(t, s.SaveRecording(ctx, RecordingFromMetadata(failedMeta, internal_type.StageConvert, errors.New("exit 1"))))

	r, err := s.GetRecording(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, RecordingStatusConverted, r.Status)
	assert.Equal(t, []string{"u1", "u2"}, r.Participants)
	assert.Equal(t, int64(30000), r.DurationMs)
	assert.Equal(t, int64(128), r.SizeBytes)
	assert.Equal(t, 1200, r.PeakAmplitude)

	list, err := s.ListRecordings(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)
	assert.Equal(t, RecordingStatusFailed, list[0].Status)
	assert.Equal(t, internal_type.StageConvert, list[0].FailedStage)

	_, err = s.GetRecording(ctx, "missing")
	assert.ErrorIs(t, err, internal_type.ErrSessionNotFound)
}

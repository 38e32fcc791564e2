package recording_app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/recorder/api/recording-api/config"
	internal_manager "github.com/rapidaai/recorder/api/recording-api/internal/manager"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

func testConfig(t *testing.T) *config.AppConfig {
	dir := t.TempDir()
	return &config.AppConfig{
		Name:    "recording-api",
		Version: "test",
		Host:    "127.0.0.1",
		Port:    0,
		LogConfig: config.LogConfig{
			Level: "debug",
		},
		RecordingConfig: config.RecordingConfig{
			Format:           "wav",
			SampleRate:       48000,
			Channels:         2,
			Bitrate:          128,
			SilenceThreshold: -50,
			StorageRoot:      filepath.Join(dir, "recordings"),
		},
		TimeoutConfig: config.TimeoutConfig{
			Connect:    time.Second,
			Reconnect:  100 * time.Millisecond,
			Conversion: 5 * time.Second,
		},
		TranscoderConfig: config.TranscoderConfig{Mode: "native"},
		DatabaseConfig: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(dir, "recorder.db"),
		},
	}
}

func TestApp_RunFinalizesSessionsOnShutdown(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), commons.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	s, err := a.manager.Start(context.Background(), internal_manager.StartRequest{GroupID: "g1", ChannelID: "v1", InitiatorID: "u1"})
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return")
	}
	assert.Equal(t, internal_type.SessionConverted, s.State())
	assert.Empty(t, a.manager.ListActive())
}

func TestApp_RejectsInvalidDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.RecordingConfig.SampleRate = 44100
	_, err := New(context.Background(), cfg, commons.NewNopLogger())
	assert.ErrorIs(t, err, internal_type.ErrInvalidOptions)
}

func TestApp_RejectsUnknownTranscoder(t *testing.T) {
	cfg := testConfig(t)
	cfg.TranscoderConfig.Mode = "sox"
	_, err := New(context.Background(), cfg, commons.NewNopLogger())
	assert.Error(t, err)
}

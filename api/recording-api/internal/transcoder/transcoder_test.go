package internal_transcoder

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_encoder "github.com/rapidaai/recorder/api/recording-api/internal/audio/encoder"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a posix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writePCM(t *testing.T, dir string, bytes int) string {
	t.Helper()
	path := filepath.Join(dir, "in.pcm")
	pcm := make([]byte, bytes)
	for i := range pcm {
		pcm[i] = byte(i % 7)
	}
	require.NoError(t, os.WriteFile(path, pcm, 0o644))
	return path
}

func request(dir, input string, format internal_type.AudioFormat) internal_type.ConvertRequest {
	return internal_type.ConvertRequest{
		InputPath:  input,
		OutputPath: filepath.Join(dir, "out."+string(format)),
		SampleRate: 48000,
		Channels:   2,
		Bitrate:    128000,
		Format:     format,
	}
}

func TestFFmpegArgs(t *testing.T) {
	base := []string{"-f", "s16le", "-ar", "48000", "-ac", "2", "-i", "in.pcm"}
	tests := []struct {
		format internal_type.AudioFormat
		tail   []string
	}{
		{internal_type.FormatMP3, []string{"-c:a", "libmp3lame", "-b:a", "128k", "-y", "out"}},
		{internal_type.FormatWAV, []string{"-f", "wav", "-y", "out"}},
		{internal_type.FormatOgg, []string{"-c:a", "libopus", "-b:a", "128k", "-y", "out"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			args := FFmpegArgs(internal_type.ConvertRequest{
				InputPath: "in.pcm", OutputPath: "out", SampleRate: 48000, Channels: 2, Bitrate: 128000, Format: tt.format,
			})
			assert.Equal(t, append(append([]string{}, base...), tt.tail...), args)
		})
	}
}

func TestFFmpegConverter_ExitCodeContract(t *testing.T) {
	dir := t.TempDir()
	input := writePCM(t, dir, 3840)

	ok := NewFFmpegConverter(commons.NewNopLogger(), fakeFFmpeg(t, `echo encoded > "$last"; exit 0`))
	req := request(dir, input, internal_type.FormatMP3)
	require.NoError(t, ok.Convert(context.Background(), req))
	assert.FileExists(t, req.OutputPath)

	failing := NewFFmpegConverter(commons.NewNopLogger(), fakeFFmpeg(t, `echo boom >&2; exit 3`))
	err := failing.Convert(context.Background(), request(dir, input, internal_type.FormatMP3))
	assert.ErrorIs(t, err, internal_type.ErrConversionFailure)
	assert.Contains(t, err.Error(), "exit code 3")

	silent := NewFFmpegConverter(commons.NewNopLogger(), fakeFFmpeg(t, `exit 0`))
	req = request(t.TempDir(), input, internal_type.FormatMP3)
	assert.ErrorIs(t, silent.Convert(context.Background(), req), internal_type.ErrConversionFailure)
}

func TestFFmpegConverter_Timeout(t *testing.T) {
	dir := t.TempDir()
	input := writePCM(t, dir, 3840)
	slow := NewFFmpegConverter(commons.NewNopLogger(), fakeFFmpeg(t, `exec sleep 5`))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	started := time.Now()
	err := slow.Convert(ctx, request(dir, input, internal_type.FormatMP3))
	assert.ErrorIs(t, err, internal_type.ErrConversionFailure)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestNativeConverter_Wav(t *testing.T) {
	dir := t.TempDir()
	input := writePCM(t, dir, 3840*10+4)
	req := request(dir, input, internal_type.FormatWAV)

	require.NoError(t, NewNativeConverter(commons.NewNopLogger()).Convert(context.Background(), req))

	data, err := os.ReadFile(req.OutputPath)
	require.NoError(t, err)
	info, err := internal_encoder.ParseWavHeader(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(3840*10+4), info.DataSize)

	raw, err := os.ReadFile(input)
	require.NoError(t, err)
	assert.Equal(t, raw, data[internal_encoder.WavHeaderSize:])
}

func TestNativeConverter_RejectsMP3(t *testing.T) {
	dir := t.TempDir()
	input := writePCM(t, dir, 3840)
	err := NewNativeConverter(commons.NewNopLogger()).Convert(context.Background(), request(dir, input, internal_type.FormatMP3))
	assert.ErrorIs(t, err, internal_type.ErrConversionFailure)
}

func TestNativeConverter_MissingInput(t *testing.T) {
	dir := t.TempDir()
	err := NewNativeConverter(commons.NewNopLogger()).Convert(context.Background(), request(dir, filepath.Join(dir, "nope.pcm"), internal_type.FormatWAV))
	assert.ErrorIs(t, err, internal_type.ErrConversionFailure)
}

func TestAutoConverter_Routes(t *testing.T) {
	dir := t.TempDir()
	input := writePCM(t, dir, 3840)
	conv := NewAutoConverter(commons.NewNopLogger(), fakeFFmpeg(t, `echo mp3 > "$last"`))

	mp3 := request(dir, input, internal_type.FormatMP3)
	require.NoError(t, conv.Convert(context.Background(), mp3))
	content, err := os.ReadFile(mp3.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "mp3\n", string(content))

	wav := request(dir, input, internal_type.FormatWAV)
	require.NoError(t, conv.Convert(context.Background(), wav))
	data, err := os.ReadFile(wav.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data[:4])
}

func TestNew(t *testing.T) {
	for _, mode := range []string{ModeAuto, ModeNative, ModeFFmpeg, ""} {
		c, err := New(commons.NewNopLogger(), mode, "")
		require.NoError(t, err)
		assert.NotNil(t, c)
	}
	_, err := New(commons.NewNopLogger(), "sox", "")
	assert.Error(t, err)
}

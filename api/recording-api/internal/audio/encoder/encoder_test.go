package internal_encoder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

var testConfig = Config{
	SampleRate:       internal_audio.SampleRate,
	Channels:         internal_audio.Channels,
	Bitrate:          128000,
	SilenceThreshold: -50,
}

func tone(samples int, amplitude int16) []byte {
	out := make([]int16, samples)
	for i := range out {
		if (i/48)%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return internal_audio.Bytes(out)
}

func TestWavEncoder_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 960, 48000, 48001} {
		path := filepath.Join(t.TempDir(), "out.wav")
		enc, err := Create(commons.NewNopLogger(), path, internal_type.FormatWAV, testConfig)
		require.NoError(t, err)

		// n stereo samples written in uneven chunks
		pcm := tone(n*internal_audio.Channels, 1200)
		for len(pcm) > 0 {
			chunk := 1000
			if chunk > len(pcm) {
				chunk = len(pcm)
			}
			_, err := enc.Write(pcm[:chunk])
			require.NoError(t, err)
			pcm = pcm[chunk:]
		}
		require.NoError(t, enc.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		info, err := ParseWavHeader(data)
		require.NoError(t, err)

		expected := uint32(n * 2 * internal_audio.Channels)
		assert.Equal(t, expected, info.DataSize, "samples=%d", n)
		assert.Equal(t, uint32(36)+expected, info.RIFFSize)
		assert.Equal(t, len(data), WavHeaderSize+int(expected))
		assert.Equal(t, uint16(1), info.AudioFormat)
		assert.Equal(t, uint16(2), info.Channels)
		assert.Equal(t, uint32(48000), info.SampleRate)
		assert.Equal(t, uint32(48000*2*2), info.ByteRate)
		assert.Equal(t, uint16(4), info.BlockAlign)
		assert.Equal(t, uint16(16), info.BitsPerSample)
	}
}

func TestWavHeader_Layout(t *testing.T) {
	h := WavHeader(48000, 2, 8)
	require.Len(t, h, WavHeaderSize)
	assert.Equal(t, []byte("RIFF"), h[0:4])
	assert.Equal(t, []byte{44, 0, 0, 0}, h[4:8])
	assert.Equal(t, []byte("WAVEfmt "), h[8:16])
	assert.Equal(t, []byte{16, 0, 0, 0, 1, 0, 2, 0}, h[16:24])
	assert.Equal(t, []byte{0x80, 0xbb, 0, 0}, h[24:28])
	assert.Equal(t, []byte{0x00, 0xee, 0x02, 0}, h[28:32])
	assert.Equal(t, []byte{4, 0, 16, 0}, h[32:36])
	assert.Equal(t, []byte("data"), h[36:40])
	assert.Equal(t, []byte{8, 0, 0, 0}, h[40:44])
}

func TestRawEncoder_Passthrough(t *testing.T) {
	var buf bytes.Buffer
	enc, err := New(commons.NewNopLogger(), internal_type.FormatRaw, &buf, testConfig)
	require.NoError(t, err)

	pcm := tone(1920, 300)
	n, err := enc.Write(pcm)
	require.NoError(t, err)
	assert.Equal(t, len(pcm), n)
	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	assert.Equal(t, pcm, buf.Bytes())
	assert.Equal(t, int64(len(pcm)), enc.Stats().Bytes)

	_, err = enc.Write(pcm)
	assert.ErrorIs(t, err, internal_type.ErrSinkIO)
}

func TestEncoder_StatsDoNotAlterSamples(t *testing.T) {
	var buf bytes.Buffer
	enc := NewRawEncoder(commons.NewNopLogger(), &buf, testConfig)

	frame := internal_audio.FrameBytes(testConfig.SampleRate, testConfig.Channels)
	quiet := tone(frame/2*3, 10)
	original := append([]byte(nil), quiet...)
	_, err := enc.Write(quiet)
	require.NoError(t, err)

	assert.Equal(t, original, buf.Bytes())
	st := enc.Stats()
	assert.Equal(t, 1, st.SilentSegments)
	assert.Equal(t, 10, st.PeakAmplitude)
	assert.InDelta(t, 10.0, st.AverageAmplitude, 1e-9)
}

func TestOggEncoder_WritesContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ogg")
	enc, err := Create(commons.NewNopLogger(), path, internal_type.FormatOgg, testConfig)
	require.NoError(t, err)
	assert.Equal(t, internal_type.FormatOgg, enc.Format())

	frame := internal_audio.FrameBytes(testConfig.SampleRate, testConfig.Channels)
	// two and a half frames, the last one padded on close
	_, err = enc.Write(tone(frame*5/4, 4000))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), data[:4])
	assert.True(t, bytes.Contains(data, []byte("OpusHead")))
	assert.Equal(t, int64(frame*5/2), enc.Stats().Bytes)

	last := bytes.LastIndex(data, []byte("OggS"))
	require.Greater(t, last, 0)
	assert.Equal(t, byte(0x04), data[last+5]&0x04, "last page is end-of-stream")
	assert.Zero(t, data[5]&0x04)
}

func TestNew_Variants(t *testing.T) {
	_, err := New(commons.NewNopLogger(), internal_type.FormatWAV, &bytes.Buffer{}, testConfig)
	assert.Error(t, err, "wav requires a seekable writer")

	_, err = New(commons.NewNopLogger(), internal_type.FormatMP3, &bytes.Buffer{}, testConfig)
	assert.ErrorIs(t, err, internal_type.ErrInvalidOptions)
}

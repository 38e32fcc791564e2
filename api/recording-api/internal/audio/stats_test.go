package internal_audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func frameOf(value int16) []int16 {
	samples := make([]int16, FrameBytes(SampleRate, Channels)/BytesPerSample)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = value
		} else {
			samples[i] = -value
		}
	}
	return samples
}

func TestAnalyzer_SilentSegments(t *testing.T) {
	a := NewAnalyzer(SampleRate, Channels, -50)

	// -50 dBFS is roughly amplitude 103
	quiet := frameOf(20)
	loud := frameOf(8000)

	a.Observe(loud)
	a.Observe(quiet)
	a.Observe(quiet)
	a.Observe(loud)
	a.Observe(quiet)

	st := a.Snapshot()
	assert.Equal(t, 2, st.SilentSegments)
	assert.Equal(t, 8000, st.PeakAmplitude)
}

func TestAnalyzer_MeasurementOnly(t *testing.T) {
	a := NewAnalyzer(SampleRate, Channels, -50)
	quiet := frameOf(20)
	before := append([]int16(nil), quiet...)

	a.Observe(quiet)
	a.Observe(quiet)

	assert.Equal(t, before, quiet)
	st := a.Snapshot()
	assert.Equal(t, 1, st.SilentSegments)
	assert.Equal(t, 20, st.PeakAmplitude)
	assert.InDelta(t, 20.0, st.AverageAmplitude, 1e-9)
	assert.Equal(t, int64(2*len(quiet)), st.TotalSamples)
	assert.Equal(t, int64(4*len(quiet)), st.Bytes)
}

func TestAnalyzer_PartialWindowNotCounted(t *testing.T) {
	a := NewAnalyzer(SampleRate, Channels, -50)
	a.Observe(make([]int16, 10))
	assert.Equal(t, 0, a.Snapshot().SilentSegments)
	assert.Equal(t, 0.0, a.Snapshot().AverageAmplitude)
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"sync"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

// Analyzer accumulates amplitude statistics over a sample stream. Samples are
// grouped into frame windows; a silent segment starts whenever a window whose
// peak is below the threshold follows a window that was not.
type Analyzer struct {
	mu sync.Mutex

	threshold  float64
	window     int
	sampleRate int
	channels   int

	peak      int
	sumAbs    int64
	samples   int64
	segments  int
	inSilence bool

	windowPeak int
	windowFill int
}

// NewAnalyzer creates an analyzer for the given layout. thresholdDB is in dBFS.
func NewAnalyzer(sampleRate, channels int, thresholdDB float64) *Analyzer {
	return &Analyzer{
		threshold:  thresholdDB,
		window:     FrameBytes(sampleRate, channels) / BytesPerSample,
		sampleRate: sampleRate,
		channels:   channels,
	}
}

// Observe records samples. It never modifies them.
func (a *Analyzer) Observe(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = int(Clip(int32(-v)))
		}
		if v > a.peak {
			a.peak = v
		}
		if v > a.windowPeak {
			a.windowPeak = v
		}
		a.sumAbs += int64(v)
		a.samples++
		a.windowFill++
		if a.windowFill == a.window {
			a.closeWindow()
		}
	}
}

func (a *Analyzer) closeWindow() {
	silent := DBFS(a.windowPeak) < a.threshold
	if silent && !a.inSilence {
		a.segments++
	}
	a.inSilence = silent
	a.windowPeak = 0
	a.windowFill = 0
}

// Snapshot returns the statistics so far.
func (a *Analyzer) Snapshot() internal_type.AudioStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := internal_type.AudioStats{
		PeakAmplitude:  a.peak,
		SilentSegments: a.segments,
		TotalSamples:   a.samples,
		Bytes:          a.samples * BytesPerSample,
		Duration:       DurationOf(a.samples*BytesPerSample, a.sampleRate, a.channels),
	}
	if a.samples > 0 {
		st.AverageAmplitude = float64(a.sumAbs) / float64(a.samples)
	}
	return st
}

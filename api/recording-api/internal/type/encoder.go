// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"context"
	"time"
)

// AudioStats are amplitude measurements over everything written to a sink.
// They never influence the stored samples.
type AudioStats struct {
	PeakAmplitude    int           `json:"peakAmplitude"`
	AverageAmplitude float64       `json:"averageAmplitude"`
	SilentSegments   int           `json:"silentSegments"`
	TotalSamples     int64         `json:"totalSamples"`
	Bytes            int64         `json:"bytes"`
	Duration         time.Duration `json:"duration"`
}

// AudioEncoder accumulates s16le PCM into a container. Close finalizes the
// container and releases the underlying writer.
type AudioEncoder interface {
	Write(pcm []byte) (int, error)
	Close() error
	Stats() AudioStats
	Format() AudioFormat
}

// ConvertRequest describes one intermediate-to-artifact conversion.
type ConvertRequest struct {
	InputPath  string
	OutputPath string
	SampleRate int
	Channels   int
	Bitrate    int
	Format     AudioFormat
}

// Converter turns a raw intermediate file into a final artifact.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest) error
}

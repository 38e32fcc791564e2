// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// SampleRate and Channels are the layout every voice transport decodes to.
	SampleRate = 48000
	Channels   = 2

	BytesPerSample = 2

	// FrameDuration is one decode frame. FrameSamples is per channel.
	FrameDuration = 20 * time.Millisecond
	FrameSamples  = 960
)

// FrameBytes is the byte length of one decoded frame for the given layout.
func FrameBytes(sampleRate, channels int) int {
	return sampleRate * int(FrameDuration/time.Millisecond) / 1000 * channels * BytesPerSample
}

// BytesPerSecond of s16le PCM in the given layout.
func BytesPerSecond(sampleRate, channels int) int {
	return sampleRate * channels * BytesPerSample
}

// DurationOf is the playback duration of n PCM bytes.
func DurationOf(n int64, sampleRate, channels int) time.Duration {
	bps := int64(BytesPerSecond(sampleRate, channels))
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Silence returns a zeroed frame of the given length.
func Silence(frameBytes int) []byte {
	return make([]byte, frameBytes)
}

// Clip saturates v to the signed 16-bit range.
func Clip(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// Samples decodes little-endian s16 PCM. A trailing odd byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PutSamples encodes samples as little-endian s16 PCM into dst, which must
// hold len(samples)*2 bytes.
func PutSamples(dst []byte, samples []int16) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
}

// Bytes encodes samples as a new little-endian s16 buffer.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	PutSamples(out, samples)
	return out
}

// DBFS converts a peak amplitude to decibels relative to full scale.
func DBFS(peak int) float64 {
	if peak <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(peak)/float64(math.MaxInt16))
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/rapidaai/recorder/pkg/utils"
)

// AudioFormat is the container of the final artifact.
type AudioFormat string

const (
	FormatRaw AudioFormat = "pcm" // intermediate only, never a final artifact
	FormatWAV AudioFormat = "wav"
	FormatOgg AudioFormat = "ogg"
	FormatMP3 AudioFormat = "mp3"
)

// SupportedFormats are the formats a session may be asked to produce.
var SupportedFormats = []AudioFormat{FormatWAV, FormatOgg, FormatMP3}

// ParseAudioFormat normalizes a user supplied format string.
func ParseAudioFormat(s string) (AudioFormat, error) {
	f := AudioFormat(strings.ToLower(strings.TrimSpace(s)))
	for _, supported := range SupportedFormats {
		if f == supported {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidOptions, s)
}

// Bitrate bounds accepted by the encoders, in bits per second.
const (
	MinBitrate = 64000
	MaxBitrate = 384000
)

// RecordingOptions is the immutable configuration snapshot of one session.
type RecordingOptions struct {
	SampleRate int         `json:"sampleRate" mapstructure:"sample_rate"`
	Channels   int         `json:"channels" mapstructure:"channels"`
	Bitrate    int         `json:"bitrate" mapstructure:"bitrate"`
	Format     AudioFormat `json:"format" mapstructure:"format"`

	// SilenceThreshold is in dBFS; windows peaking below it count as silent.
	SilenceThreshold float64 `json:"silenceThreshold" mapstructure:"silence_threshold"`
	StorageRoot      string  `json:"storageRoot" mapstructure:"storage_root"`

	// SeparateSpeakers additionally writes one track per speaker.
	SeparateSpeakers bool `json:"separateSpeakers" mapstructure:"separate_speakers"`

	// MaxDuration forces a stop once elapsed. Zero disables the limit.
	MaxDuration time.Duration `json:"maxDuration" mapstructure:"max_duration"`
}

// OptionsOverride carries optional per-group or per-call overrides. Nil fields
// keep the value underneath.
type OptionsOverride struct {
	SampleRate       *int           `json:"sampleRate,omitempty" mapstructure:"sample_rate"`
	Channels         *int           `json:"channels,omitempty" mapstructure:"channels"`
	Bitrate          *int           `json:"bitrate,omitempty" mapstructure:"bitrate"`
	Format           *string        `json:"format,omitempty" mapstructure:"format"`
	SilenceThreshold *float64       `json:"silenceThreshold,omitempty" mapstructure:"silence_threshold"`
	StorageRoot      *string        `json:"storageRoot,omitempty" mapstructure:"storage_root"`
	SeparateSpeakers *bool          `json:"separateSpeakers,omitempty" mapstructure:"separate_speakers"`
	MaxDuration      *time.Duration `json:"maxDuration,omitempty" mapstructure:"max_duration"`
}

// DecodeOverrides reads overrides from loosely typed input such as a decoded
// JSON body or command flags. Keys use the snake_case option names.
func DecodeOverrides(raw map[string]interface{}) (*OptionsOverride, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ov OptionsOverride
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &ov,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if ov.Format != nil {
		if _, err := ParseAudioFormat(*ov.Format); err != nil {
			return nil, err
		}
	}
	return &ov, nil
}

// NormalizeBitrate treats values below 1000 as kbps.
func NormalizeBitrate(bitrate int) int {
	if bitrate > 0 && bitrate < 1000 {
		return bitrate * 1000
	}
	return bitrate
}

// Merge returns a copy of o with every non-nil override applied. Formats are
// normalized but not checked; Validate rejects an unsupported one.
func (o RecordingOptions) Merge(ov *OptionsOverride) RecordingOptions {
	if ov == nil {
		return o
	}
	if ov.SampleRate != nil {
		o.SampleRate = *ov.SampleRate
	}
	if ov.Channels != nil {
		o.Channels = *ov.Channels
	}
	if ov.Bitrate != nil {
		o.Bitrate = NormalizeBitrate(*ov.Bitrate)
	}
	if ov.Format != nil {
		o.Format = AudioFormat(strings.ToLower(strings.TrimSpace(*ov.Format)))
	}
	if ov.SilenceThreshold != nil {
		o.SilenceThreshold = *ov.SilenceThreshold
	}
	if ov.StorageRoot != nil && !utils.IsEmpty(*ov.StorageRoot) {
		o.StorageRoot = *ov.StorageRoot
	}
	if ov.SeparateSpeakers != nil {
		o.SeparateSpeakers = *ov.SeparateSpeakers
	}
	if ov.MaxDuration != nil {
		o.MaxDuration = *ov.MaxDuration
	}
	return o
}

// TransportCapabilities describes the fixed PCM layout a transport decodes to.
type TransportCapabilities struct {
	SampleRate int
	Channels   int
}

// Validate checks the options against what the transport and encoders can
// serve. All failures wrap ErrInvalidOptions.
func (o RecordingOptions) Validate(caps TransportCapabilities) error {
	if o.SampleRate != caps.SampleRate {
		return fmt.Errorf("%w: sample rate must be %dHz, got %d", ErrInvalidOptions, caps.SampleRate, o.SampleRate)
	}
	if o.Channels != caps.Channels {
		return fmt.Errorf("%w: channels must be %d, got %d", ErrInvalidOptions, caps.Channels, o.Channels)
	}
	if o.Bitrate < MinBitrate || o.Bitrate > MaxBitrate {
		return fmt.Errorf("%w: bitrate must be between %dbps and %dbps, got %d", ErrInvalidOptions, MinBitrate, MaxBitrate, o.Bitrate)
	}
	if _, err := ParseAudioFormat(string(o.Format)); err != nil {
		return err
	}
	if utils.IsEmpty(o.StorageRoot) {
		return fmt.Errorf("%w: storage root is required", ErrInvalidOptions)
	}
	if o.MaxDuration < 0 {
		return fmt.Errorf("%w: max duration must not be negative", ErrInvalidOptions)
	}
	return nil
}

// AsOverride renders o as a full override so a later session can reuse the
// exact same snapshot.
func (o RecordingOptions) AsOverride() *OptionsOverride {
	return &OptionsOverride{
		SampleRate:       utils.Ptr(o.SampleRate),
		Channels:         utils.Ptr(o.Channels),
		Bitrate:          utils.Ptr(o.Bitrate),
		Format:           utils.Ptr(string(o.Format)),
		SilenceThreshold: utils.Ptr(o.SilenceThreshold),
		StorageRoot:      utils.Ptr(o.StorageRoot),
		SeparateSpeakers: utils.Ptr(o.SeparateSpeakers),
		MaxDuration:      utils.Ptr(o.MaxDuration),
	}
}

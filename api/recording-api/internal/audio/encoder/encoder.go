// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_encoder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// Config is the PCM layout and quality settings shared by every encoder.
type Config struct {
	SampleRate       int
	Channels         int
	Bitrate          int
	SilenceThreshold float64
}

// ConfigFrom picks the encoder settings out of a session options snapshot.
func ConfigFrom(o internal_type.RecordingOptions) Config {
	return Config{
		SampleRate:       o.SampleRate,
		Channels:         o.Channels,
		Bitrate:          o.Bitrate,
		SilenceThreshold: o.SilenceThreshold,
	}
}

// New selects the encoder variant for format. The wav variant needs w to be
// an io.WriteSeeker so the header can be patched on Close.
func New(logger commons.Logger, format internal_type.AudioFormat, w io.Writer, cfg Config) (internal_type.AudioEncoder, error) {
	switch format {
	case internal_type.FormatRaw:
		return NewRawEncoder(logger, w, cfg), nil
	case internal_type.FormatWAV:
		ws, ok := w.(io.WriteSeeker)
		if !ok {
			return nil, fmt.Errorf("wav encoder needs a seekable writer, got %T", w)
		}
		return NewWavEncoder(logger, ws, cfg)
	case internal_type.FormatOgg:
		return NewOggEncoder(logger, w, cfg)
	default:
		return nil, fmt.Errorf("%w: no in-process encoder for %q", internal_type.ErrInvalidOptions, format)
	}
}

// Create opens path for writing and attaches an encoder of the given format.
// Closing the encoder closes the file.
func Create(logger commons.Logger, path string, format internal_type.AudioFormat, cfg Config) (internal_type.AudioEncoder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create directory: %v", internal_type.ErrSinkIO, err)
	}
	if format == internal_type.FormatOgg {
		return CreateOggEncoder(logger, path, cfg)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", internal_type.ErrSinkIO, path, err)
	}
	enc, err := New(logger, format, f, cfg)
	if err != nil {
		return nil, multierr.Append(err, f.Close())
	}
	return enc, nil
}

// base carries what every variant shares: the destination, the write lock,
// statistics and idempotent close.
type base struct {
	logger   commons.Logger
	mu       sync.Mutex
	w        io.Writer
	cfg      Config
	analyzer *internal_audio.Analyzer
	closed   bool
}

func newBase(logger commons.Logger, w io.Writer, cfg Config) base {
	return base{
		logger:   logger,
		w:        w,
		cfg:      cfg,
		analyzer: internal_audio.NewAnalyzer(cfg.SampleRate, cfg.Channels, cfg.SilenceThreshold),
	}
}

func (b *base) Stats() internal_type.AudioStats {
	return b.analyzer.Snapshot()
}

// observe measures pcm without modifying it.
func (b *base) observe(pcm []byte) {
	b.analyzer.Observe(internal_audio.Samples(pcm))
}

func (b *base) closeWriter() error {
	if c, ok := b.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var errClosed = fmt.Errorf("%w: encoder closed", internal_type.ErrSinkIO)

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_encoder

import (
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"go.uber.org/multierr"
	"gopkg.in/hraban/opus.v2"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// max size of one encoded opus packet
const maxOpusPacket = 4000

// streamOnly hides Close so oggwriter never closes the destination itself.
type streamOnly struct{ io.Writer }

// oggEncoder groups PCM into fixed opus frames and writes them as ogg pages.
// A partial final frame is zero padded on Close.
type oggEncoder struct {
	base
	opus      *opus.Encoder
	ogg       *oggwriter.OggWriter
	frameLen  int // bytes per opus frame
	pending   []byte
	packet    []byte
	seq       uint16
	timestamp uint32
}

// NewOggEncoder writes an ogg stream to w. A plain stream cannot be rewound,
// so its last page carries no end-of-stream flag; use CreateOggEncoder for
// files.
func NewOggEncoder(logger commons.Logger, w io.Writer, cfg Config) (internal_type.AudioEncoder, error) {
	return newOggEncoder(logger, w, cfg, func() (*oggwriter.OggWriter, error) {
		return oggwriter.NewWith(streamOnly{w}, uint32(cfg.SampleRate), uint16(cfg.Channels))
	})
}

// CreateOggEncoder writes an ogg file at path. The writer owns the file, so
// Close can seek back and mark the last page end-of-stream.
func CreateOggEncoder(logger commons.Logger, path string, cfg Config) (internal_type.AudioEncoder, error) {
	return newOggEncoder(logger, nil, cfg, func() (*oggwriter.OggWriter, error) {
		ogg, err := oggwriter.New(path, uint32(cfg.SampleRate), uint16(cfg.Channels))
		if err == nil && ogg == nil {
			err = fmt.Errorf("open %s", path)
		}
		return ogg, err
	})
}

func newOggEncoder(logger commons.Logger, w io.Writer, cfg Config, open func() (*oggwriter.OggWriter, error)) (internal_type.AudioEncoder, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate %d: %w", cfg.Bitrate, err)
		}
	}
	ogg, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: write ogg header: %v", internal_type.ErrSinkIO, err)
	}
	return &oggEncoder{
		base:     newBase(logger, w, cfg),
		opus:     enc,
		ogg:      ogg,
		frameLen: internal_audio.FrameBytes(cfg.SampleRate, cfg.Channels),
		packet:   make([]byte, maxOpusPacket),
	}, nil
}

func (o *oggEncoder) Format() internal_type.AudioFormat { return internal_type.FormatOgg }

func (o *oggEncoder) Write(pcm []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, errClosed
	}
	o.observe(pcm)
	o.pending = append(o.pending, pcm...)
	for len(o.pending) >= o.frameLen {
		if err := o.encodeFrame(o.pending[:o.frameLen]); err != nil {
			return len(pcm), err
		}
		o.pending = o.pending[o.frameLen:]
	}
	return len(pcm), nil
}

func (o *oggEncoder) encodeFrame(frame []byte) error {
	n, err := o.opus.Encode(internal_audio.Samples(frame), o.packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}
	payload := make([]byte, n)
	copy(payload, o.packet[:n])
	err = o.ogg.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: o.seq,
			Timestamp:      o.timestamp,
		},
		Payload: payload,
	})
	o.seq++
	o.timestamp += uint32(internal_audio.FrameSamples)
	if err != nil {
		return fmt.Errorf("%w: write ogg page: %v", internal_type.ErrSinkIO, err)
	}
	return nil
}

// Close pads and flushes the last partial frame, then closes the container.
func (o *oggEncoder) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	var err error
	if len(o.pending) > 0 {
		frame := make([]byte, o.frameLen)
		copy(frame, o.pending)
		err = o.encodeFrame(frame)
		o.pending = nil
	}
	err = multierr.Append(err, o.ogg.Close())
	err = multierr.Append(err, o.closeWriter())
	return err
}

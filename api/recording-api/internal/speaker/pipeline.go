// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_speaker

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// Callbacks report pipeline failures back to the owning session. They run on
// the pipeline goroutine and must not block on the session lock.
type Callbacks struct {
	OnDecodeError func(speakerID string, err error)
	OnSinkError   func(speakerID string, err error)
}

// Pipeline forwards one speaker's decoded frames, in arrival order, to its
// tracks while the speaker is live. One pipeline owns one decode stream.
type Pipeline struct {
	logger    commons.Logger
	speakerID string
	stream    internal_type.FrameStream
	tracks    []*Track
	callbacks Callbacks

	live  atomic.Bool
	bytes atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewPipeline binds stream to tracks and starts forwarding immediately.
func NewPipeline(logger commons.Logger, speakerID string, stream internal_type.FrameStream, callbacks Callbacks, tracks ...*Track) *Pipeline {
	p := &Pipeline{
		logger:    logger,
		speakerID: speakerID,
		stream:    stream,
		tracks:    tracks,
		callbacks: callbacks,
		done:      make(chan struct{}),
	}
	p.live.Store(true)
	go p.run()
	return p
}

func (p *Pipeline) run() {
	defer close(p.done)
	defer p.live.Store(false)

	for frame := range p.stream.Frames() {
		for _, t := range p.tracks {
			if err := t.WriteFrame(p.speakerID, frame); err != nil {
				p.logger.Errorw("speaker frame write failed", "speaker", p.speakerID, "track", t.Name(), "error", err)
				if p.callbacks.OnSinkError != nil {
					p.callbacks.OnSinkError(p.speakerID, err)
				}
				return
			}
		}
		p.bytes.Add(int64(len(frame)))
	}

	if err := p.stream.Err(); err != nil {
		if !errors.Is(err, internal_type.ErrDecode) {
			err = fmt.Errorf("%w: %v", internal_type.ErrDecode, err)
		}
		p.logger.Warnw("speaker decode stream failed", "speaker", p.speakerID, "error", err)
		if p.callbacks.OnDecodeError != nil {
			p.callbacks.OnDecodeError(p.speakerID, err)
		}
	}
}

func (p *Pipeline) SpeakerID() string { return p.speakerID }

// Live reports whether the decode stream is still delivering frames.
func (p *Pipeline) Live() bool { return p.live.Load() }

// BytesWritten counts speech bytes forwarded per track.
func (p *Pipeline) BytesWritten() int64 { return p.bytes.Load() }

// Close releases the decode stream and waits for the forwarding goroutine,
// so no frame from this pipeline lands after Close returns.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.live.Store(false)
		err = p.stream.Close()
	})
	<-p.done
	return err
}

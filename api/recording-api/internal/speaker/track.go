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
	"time"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

var errTrackClosed = errors.New("track closed")

// Timeline maps wall-clock time onto frame slots counted from a session start.
type Timeline struct {
	start time.Time
	clock func() time.Time
	frame time.Duration
}

func NewTimeline(start time.Time, clock func() time.Time, frame time.Duration) Timeline {
	if clock == nil {
		clock = time.Now
	}
	return Timeline{start: start, clock: clock, frame: frame}
}

// Slot is the index of the frame the clock is currently in.
func (tl Timeline) Slot() int64 { return tl.SlotAt(tl.clock()) }

// SlotAt counts the whole frames between the start and at.
func (tl Timeline) SlotAt(at time.Time) int64 {
	d := at.Sub(tl.start)
	if d <= 0 || tl.frame <= 0 {
		return 0
	}
	return int64(d / tl.frame)
}

// Track is one output timeline. Speakers mix into per-slot accumulators and
// Advance flushes each slot to the sink exactly once, as silence when nobody
// spoke in it. Overlapping speech therefore shares wall-clock time.
type Track struct {
	mu         sync.Mutex
	name       string
	path       string
	sink       internal_type.AudioEncoder
	frameBytes int
	timeline   Timeline
	silence    []byte
	closed     bool

	// next is the first slot not yet flushed
	next    int64
	pending map[int64][]int32
	cursors map[string]int64
}

func NewTrack(name, path string, sink internal_type.AudioEncoder, frameBytes int, timeline Timeline) *Track {
	return &Track{
		name:       name,
		path:       path,
		sink:       sink,
		frameBytes: frameBytes,
		timeline:   timeline,
		silence:    internal_audio.Silence(frameBytes),
		pending:    make(map[int64][]int32),
		cursors:    make(map[string]int64),
	}
}

func (t *Track) Name() string { return t.name }
func (t *Track) Path() string { return t.path }

// Written is the flushed timeline position in bytes.
func (t *Track) Written() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next * int64(t.frameBytes)
}

// WriteFrame mixes one speaker's audio into the slot the clock is in. A
// speaker's consecutive frames take consecutive slots, and a frame never
// lands in a slot that was already flushed.
func (t *Track) WriteFrame(speakerID string, pcm []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("track %s: %w: %w", t.name, internal_type.ErrSinkIO, errTrackClosed)
	}
	slot := t.timeline.Slot()
	if c, ok := t.cursors[speakerID]; ok && c > slot {
		slot = c
	}
	if slot < t.next {
		slot = t.next
	}
	for off := 0; off < len(pcm); off += t.frameBytes {
		end := off + t.frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		acc, ok := t.pending[slot]
		if !ok {
			acc = make([]int32, t.frameBytes/internal_audio.BytesPerSample)
			t.pending[slot] = acc
		}
		for i, s := range internal_audio.Samples(pcm[off:end]) {
			acc[i] += int32(s)
		}
		slot++
	}
	t.cursors[speakerID] = slot
	return nil
}

// Advance flushes every slot before slot.
func (t *Track) Advance(slot int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceLocked(slot)
}

// Drain flushes every slot up to slot and any mixed audio queued past it.
func (t *Track) Drain(slot int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.pending {
		if s+1 > slot {
			slot = s + 1
		}
	}
	return t.advanceLocked(slot)
}

func (t *Track) advanceLocked(slot int64) error {
	for t.next < slot {
		frame := t.silence
		if acc, ok := t.pending[t.next]; ok {
			mixed := make([]int16, len(acc))
			for i, v := range acc {
				mixed[i] = internal_audio.Clip(v)
			}
			frame = internal_audio.Bytes(mixed)
			delete(t.pending, t.next)
		}
		if _, err := t.sink.Write(frame); err != nil {
			return fmt.Errorf("track %s: %w", t.name, err)
		}
		t.next++
	}
	return nil
}

func (t *Track) Stats() internal_type.AudioStats {
	return t.sink.Stats()
}

func (t *Track) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if err := t.sink.Close(); err != nil {
		return fmt.Errorf("close track %s: %w", t.name, err)
	}
	return nil
}

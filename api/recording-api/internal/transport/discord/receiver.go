// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transport_discord

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"gopkg.in/hraban/opus.v2"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// maxFrameSamples is the longest opus frame (120ms) in samples per channel.
const maxFrameSamples = 5760

// DefaultSpeakingIdle is how long a speaker may stay silent before a
// speaking-stop is reported.
const DefaultSpeakingIdle = 100 * time.Millisecond

// preRollPackets is how much of a burst is held for a speaker with no stream
// yet, replayed once the stream is subscribed.
const preRollPackets = 25

// opus frame the provider sends when a speaker goes quiet
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

var errReceiverClosed = errors.New("receiver closed")

// Packet is one received opus payload.
type Packet struct {
	SSRC uint32
	Opus []byte
}

// Decoder turns one opus payload into s16le interleaved PCM.
type Decoder interface {
	Decode(data []byte) ([]byte, error)
}

type opusDecoder struct {
	dec      *opus.Decoder
	channels int
	pcm      []int16
}

func newOpusDecoder() (Decoder, error) {
	dec, err := opus.NewDecoder(internal_audio.SampleRate, internal_audio.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, channels: internal_audio.Channels, pcm: make([]int16, maxFrameSamples*internal_audio.Channels)}, nil
}

func (d *opusDecoder) Decode(data []byte) ([]byte, error) {
	n, err := d.dec.Decode(data, d.pcm)
	if err != nil {
		return nil, err
	}
	return internal_audio.Bytes(d.pcm[:n*d.channels]), nil
}

// receiver demultiplexes opus packets by SSRC into per-speaker streams and
// derives speaking events from packet activity.
type receiver struct {
	logger     commons.Logger
	newDecoder func() (Decoder, error)
	idle       time.Duration
	now        func() time.Time
	speaking   chan internal_type.SpeakingEvent

	mu       sync.Mutex
	ssrcs    map[uint32]string
	lastSeen map[string]time.Time
	streams  map[string]*stream
	preRoll  map[string][][]byte
	closed   bool
}

func newReceiver(logger commons.Logger, newDecoder func() (Decoder, error), idle time.Duration, now func() time.Time) *receiver {
	if idle <= 0 {
		idle = DefaultSpeakingIdle
	}
	if now == nil {
		now = time.Now
	}
	return &receiver{
		logger:     logger,
		newDecoder: newDecoder,
		idle:       idle,
		now:        now,
		speaking:   make(chan internal_type.SpeakingEvent, 256),
		ssrcs:      make(map[uint32]string),
		lastSeen:   make(map[string]time.Time),
		streams:    make(map[string]*stream),
		preRoll:    make(map[string][][]byte),
	}
}

func (r *receiver) bind(ssrc uint32, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ssrcs[ssrc] = userID
}

func (r *receiver) handle(p Packet) {
	if bytes.Equal(p.Opus, silenceFrame) {
		return
	}
	r.mu.Lock()
	userID, ok := r.ssrcs[p.SSRC]
	if !ok || r.closed {
		r.mu.Unlock()
		return
	}
	_, active := r.lastSeen[userID]
	r.lastSeen[userID] = r.now()
	s := r.streams[userID]
	if s == nil {
		held := append(r.preRoll[userID], append([]byte(nil), p.Opus...))
		if len(held) > preRollPackets {
			held = held[len(held)-preRollPackets:]
		}
		r.preRoll[userID] = held
	}
	r.mu.Unlock()

	if !active {
		r.notify(userID, true)
	}
	if s == nil {
		return
	}
	pcm, err := s.decoder.Decode(p.Opus)
	if err != nil {
		r.release(s, fmt.Errorf("opus decode for %s: %w", userID, err))
		return
	}
	if !s.push(pcm) {
		r.logger.Warnw("dropping frame for slow consumer", "speaker", userID)
	}
}

// sweep reports speaking-stop for speakers idle longer than the threshold.
func (r *receiver) sweep() {
	now := r.now()
	var stopped []string
	r.mu.Lock()
	for id, seen := range r.lastSeen {
		if now.Sub(seen) >= r.idle {
			delete(r.lastSeen, id)
			delete(r.preRoll, id)
			stopped = append(stopped, id)
		}
	}
	r.mu.Unlock()
	for _, id := range stopped {
		r.notify(id, false)
	}
}

func (r *receiver) notify(userID string, speaking bool) {
	select {
	case r.speaking <- internal_type.SpeakingEvent{SpeakerID: userID, Speaking: speaking}:
	default:
		r.logger.Warnw("speaking event dropped", "speaker", userID, "speaking", speaking)
	}
}

// subscribe binds a new stream to the speaker, ending any previous one.
func (r *receiver) subscribe(userID string) (*stream, error) {
	dec, err := r.newDecoder()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errReceiverClosed
	}
	if old := r.streams[userID]; old != nil {
		old.end(nil)
	}
	s := &stream{owner: r, speakerID: userID, decoder: dec, frames: make(chan []byte, 256)}
	r.streams[userID] = s
	for _, pkt := range r.preRoll[userID] {
		pcm, err := dec.Decode(pkt)
		if err != nil {
			r.logger.Warnw("skipping undecodable pre-roll packet", "speaker", userID, "error", err)
			continue
		}
		s.push(pcm)
	}
	delete(r.preRoll, userID)
	return s, nil
}

func (r *receiver) release(s *stream, err error) {
	s.end(err)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streams[s.speakerID] == s {
		delete(r.streams, s.speakerID)
	}
}

func (r *receiver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	clear(r.preRoll)
	for id, s := range r.streams {
		s.end(nil)
		delete(r.streams, id)
	}
}

type stream struct {
	owner     *receiver
	speakerID string
	decoder   Decoder
	frames    chan []byte

	mu    sync.Mutex
	ended bool
	err   error
}

func (s *stream) Frames() <-chan []byte { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	s.owner.release(s, nil)
	return nil
}

func (s *stream) push(pcm []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	select {
	case s.frames <- pcm:
		return true
	default:
		return false
	}
}

func (s *stream) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.frames)
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_encoder "github.com/rapidaai/recorder/api/recording-api/internal/audio/encoder"
	internal_speaker "github.com/rapidaai/recorder/api/recording-api/internal/speaker"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// Config carries the timeouts and tuning shared by every session.
type Config struct {
	ConnectTimeout    time.Duration
	ReconnectWindow   time.Duration
	ConversionTimeout time.Duration
	EventBuffer       int

	// TickInterval paces timeline flushes. Defaults to one decode frame.
	TickInterval time.Duration
	Clock        func() time.Time

	// OpenSink opens the capture sink of a track. Defaults to a raw file.
	OpenSink func(path string, opts internal_type.RecordingOptions) (internal_type.AudioEncoder, error)
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 20 * time.Second
	}
	if c.ReconnectWindow <= 0 {
		c.ReconnectWindow = 5 * time.Second
	}
	if c.ConversionTimeout <= 0 {
		c.ConversionTimeout = 5 * time.Minute
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.TickInterval <= 0 {
		c.TickInterval = internal_audio.FrameDuration
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// mixDelay keeps the newest slots open so overlapping speakers whose frames
// arrive a little late still mix into the right slot.
const mixDelay = 2

func (s *Session) openSink(path string) (internal_type.AudioEncoder, error) {
	if s.cfg.OpenSink != nil {
		return s.cfg.OpenSink(path, s.options)
	}
	return internal_encoder.Create(s.logger, path, internal_type.FormatRaw, internal_encoder.ConfigFrom(s.options))
}

// Params identify what a session records.
type Params struct {
	GroupID     string
	ChannelID   string
	InitiatorID string
	Options     internal_type.RecordingOptions
}

// Session is one recording attempt, from join to finalized artifact. All
// state transitions happen under mu.
type Session struct {
	logger    commons.Logger
	transport internal_type.VoiceTransport
	converter internal_type.Converter
	cfg       Config

	id          string
	groupID     string
	channelID   string
	initiatorID string
	options     internal_type.RecordingOptions
	frameBytes  int

	mu            sync.Mutex
	state         internal_type.SessionState
	startTime     time.Time
	endTime       *time.Time
	timeline      internal_speaker.Timeline
	participants  []string
	seen          map[string]struct{}
	artifacts     []string
	conn          internal_type.VoiceConnection
	main          *internal_speaker.Track
	speakerTracks map[string]*internal_speaker.Track
	pipelines     map[string]*internal_speaker.Pipeline
	connectCancel context.CancelFunc
	runCancel     context.CancelFunc
	wg            sync.WaitGroup

	emitMu       sync.Mutex
	events       chan internal_type.Event
	eventsClosed bool
	done         chan struct{}
}

func New(logger commons.Logger, transport internal_type.VoiceTransport, converter internal_type.Converter, cfg Config, p Params) *Session {
	id := uuid.NewString()
	cfg = cfg.withDefaults()
	return &Session{
		logger:        logger.With("session", id, "group", p.GroupID),
		transport:     transport,
		converter:     converter,
		cfg:           cfg,
		id:            id,
		groupID:       p.GroupID,
		channelID:     p.ChannelID,
		initiatorID:   p.InitiatorID,
		options:       p.Options,
		frameBytes:    internal_audio.FrameBytes(p.Options.SampleRate, p.Options.Channels),
		state:         internal_type.SessionIdle,
		seen:          make(map[string]struct{}),
		speakerTracks: make(map[string]*internal_speaker.Track),
		pipelines:     make(map[string]*internal_speaker.Pipeline),
		events:        make(chan internal_type.Event, cfg.EventBuffer),
		done:          make(chan struct{}),
	}
}

func (s *Session) ID() string        { return s.id }
func (s *Session) GroupID() string   { return s.groupID }
func (s *Session) ChannelID() string { return s.channelID }

func (s *Session) Options() internal_type.RecordingOptions { return s.options }

// Events is closed right after the terminal event.
func (s *Session) Events() <-chan internal_type.Event { return s.events }

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() internal_type.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Metadata() internal_type.SessionMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadataLocked()
}

func (s *Session) metadataLocked() internal_type.SessionMetadata {
	meta := internal_type.SessionMetadata{
		ID:           s.id,
		GroupID:      s.groupID,
		ChannelID:    s.channelID,
		InitiatorID:  s.initiatorID,
		State:        s.state,
		StartTime:    s.startTime,
		Options:      s.options,
		Participants: append([]string(nil), s.participants...),
		Artifacts:    append([]string(nil), s.artifacts...),
	}
	if s.endTime != nil {
		end := *s.endTime
		meta.EndTime = &end
	}
	if s.main != nil {
		meta.Stats = s.main.Stats()
	}
	return meta
}

// Stats of the session track so far.
func (s *Session) Stats() internal_type.AudioStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.main == nil {
		return internal_type.AudioStats{}
	}
	return s.main.Stats()
}

// IntermediatePath is the raw capture file of the session track.
func (s *Session) IntermediatePath() string {
	return filepath.Join(s.options.StorageRoot, s.id+".pcm")
}

func (s *Session) artifactPath(suffix string) string {
	return filepath.Join(s.options.StorageRoot, s.id+suffix+"."+string(s.options.Format))
}

// Start joins the voice channel and begins capture. Invalid options are
// rejected before anything is touched. Any later failure leaves the session
// Failed with the transport released.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != internal_type.SessionIdle {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.id)
	}
	if err := s.options.Validate(s.transport.Capabilities()); err != nil {
		s.state = internal_type.SessionFailed
		s.mu.Unlock()
		s.closeEvents()
		close(s.done)
		return err
	}
	s.state = internal_type.SessionConnecting
	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	s.connectCancel = cancel
	s.mu.Unlock()

	s.logger.Infow("joining voice channel", "channel", s.channelID, "initiator", s.initiatorID)
	conn, err := s.connect(connectCtx)
	cancel()

	s.mu.Lock()
	if s.state != internal_type.SessionConnecting {
		// stop won the race
		if conn != nil {
			if derr := conn.Destroy(); derr != nil {
				s.logger.Warnw("failed to release voice connection", "error", derr)
			}
		}
		return s.failLocked(internal_type.StageConnect, internal_type.ErrSessionCancelled)
	}
	if err != nil {
		return s.failLocked(internal_type.StageConnect, err)
	}

	s.conn = conn
	s.startTime = s.cfg.Clock()
	s.timeline = internal_speaker.NewTimeline(s.startTime, s.cfg.Clock, internal_audio.FrameDuration)
	sink, err := s.openSink(s.IntermediatePath())
	if err != nil {
		if derr := conn.Destroy(); derr != nil {
			s.logger.Warnw("failed to release voice connection", "error", derr)
		}
		return s.failLocked(internal_type.StageSink, err)
	}
	s.main = internal_speaker.NewTrack("session", s.IntermediatePath(), sink, s.frameBytes, s.timeline)

	for _, m := range conn.Members() {
		if !m.Bot {
			s.addParticipantLocked(m.ID, false)
		}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s.runCancel = runCancel
	s.state = internal_type.SessionActive
	s.wg.Add(3)
	go s.speakingLoop(runCtx, conn)
	go s.monitorConnection(runCtx, conn)
	go s.clockLoop(runCtx)
	if s.options.MaxDuration > 0 {
		s.wg.Add(1)
		go s.maxDurationTimer(runCtx)
	}

	s.emit(internal_type.StartEvent{Session: s.metadataLocked(), At: s.startTime})
	s.mu.Unlock()
	s.logger.Infow("recording session started", "channel", s.channelID, "participants", len(s.participants))
	return nil
}

// connect joins and waits for the ready state.
func (s *Session) connect(ctx context.Context) (internal_type.VoiceConnection, error) {
	conn, err := s.transport.Join(ctx, s.groupID, s.channelID)
	if err != nil {
		return nil, connectError(ctx, err)
	}
	for {
		select {
		case st, ok := <-conn.States():
			if !ok || st == internal_type.ConnectionDestroyed {
				s.releaseQuietly(conn)
				return nil, fmt.Errorf("%w: connection closed before ready", internal_type.ErrConnectionError)
			}
			if st == internal_type.ConnectionReady {
				return conn, nil
			}
		case <-ctx.Done():
			s.releaseQuietly(conn)
			return nil, connectError(ctx, ctx.Err())
		}
	}
}

func connectError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", internal_type.ErrConnectionTimeout, err)
	}
	if errors.Is(err, internal_type.ErrConnectionError) || errors.Is(err, internal_type.ErrConnectionTimeout) {
		return err
	}
	return fmt.Errorf("%w: %v", internal_type.ErrConnectionError, err)
}

func (s *Session) releaseQuietly(conn internal_type.VoiceConnection) {
	if err := conn.Destroy(); err != nil {
		s.logger.Warnw("failed to release voice connection", "error", err)
	}
}

// failLocked ends a session that never became active. Called with mu held;
// releases it.
func (s *Session) failLocked(stage string, err error) error {
	s.state = internal_type.SessionFailed
	end := s.cfg.Clock()
	s.endTime = &end
	meta := s.metadataLocked()
	s.mu.Unlock()

	s.logger.Errorw("recording session failed", "stage", stage, "error", err)
	s.emit(internal_type.ErrorEvent{Session: meta, Stage: stage, Err: err, Fatal: true, At: end})
	s.closeEvents()
	close(s.done)
	return err
}

// AddParticipant records a member seen in the recorded channel. Reports
// whether the member was new.
func (s *Session) AddParticipant(memberID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != internal_type.SessionActive {
		return false
	}
	return s.addParticipantLocked(memberID, true)
}

func (s *Session) addParticipantLocked(memberID string, announce bool) bool {
	if _, ok := s.seen[memberID]; ok {
		return false
	}
	s.seen[memberID] = struct{}{}
	s.participants = append(s.participants, memberID)
	if announce {
		s.emit(internal_type.SpeakerJoinedEvent{ID: s.id, SpeakerID: memberID, At: s.cfg.Clock()})
	}
	return true
}

// MemberLeft tears down the member's decode stream and reports the departure.
// The member stays in the participant list.
func (s *Session) MemberLeft(memberID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != internal_type.SessionActive {
		return
	}
	if _, ok := s.seen[memberID]; !ok {
		return
	}
	s.closePipelineLocked(memberID)
	s.emit(internal_type.SpeakerLeftEvent{ID: s.id, SpeakerID: memberID, At: s.cfg.Clock()})
}

// OnSpeakerStart binds a decode stream for the speaker. A speaker whose
// stream is still live is left alone; a stale one is replaced.
func (s *Session) OnSpeakerStart(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != internal_type.SessionActive {
		return
	}
	if p, ok := s.pipelines[speakerID]; ok {
		if p.Live() {
			return
		}
		s.closePipelineLocked(speakerID)
	}
	s.addParticipantLocked(speakerID, true)

	tracks := []*internal_speaker.Track{s.main}
	if s.options.SeparateSpeakers {
		track, err := s.speakerTrackLocked(speakerID)
		if err != nil {
			s.logger.Errorw("failed to open speaker track", "speaker", speakerID, "error", err)
			go s.fail(internal_type.StageSink, err)
			return
		}
		tracks = append(tracks, track)
	}

	stream, err := s.conn.Subscribe(speakerID)
	if err != nil {
		err = fmt.Errorf("%w: subscribe %s: %v", internal_type.ErrDecode, speakerID, err)
		s.logger.Warnw("failed to subscribe to speaker", "speaker", speakerID, "error", err)
		s.emit(internal_type.ErrorEvent{Session: s.metadataLocked(), Stage: internal_type.StageDecode, SpeakerID: speakerID, Err: err, At: s.cfg.Clock()})
		return
	}
	s.pipelines[speakerID] = internal_speaker.NewPipeline(s.logger, speakerID, stream, internal_speaker.Callbacks{
		OnDecodeError: s.onDecodeError,
		OnSinkError: func(_ string, err error) {
			go s.fail(internal_type.StageSink, err)
		},
	}, tracks...)
	s.logger.Debugf("speaker %s started", speakerID)
}

// OnSpeakerStop releases the decode stream. Tracks stay open until the
// session stops.
func (s *Session) OnSpeakerStop(speakerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != internal_type.SessionActive {
		return
	}
	s.closePipelineLocked(speakerID)
	s.logger.Debugf("speaker %s stopped", speakerID)
}

func (s *Session) closePipelineLocked(speakerID string) {
	p, ok := s.pipelines[speakerID]
	if !ok {
		return
	}
	delete(s.pipelines, speakerID)
	if err := p.Close(); err != nil {
		s.logger.Warnw("failed to close speaker stream", "speaker", speakerID, "error", err)
	}
}

func (s *Session) onDecodeError(speakerID string, err error) {
	s.emit(internal_type.ErrorEvent{
		Session:   internal_type.SessionMetadata{ID: s.id, GroupID: s.groupID, ChannelID: s.channelID},
		Stage:     internal_type.StageDecode,
		SpeakerID: speakerID,
		Err:       err,
		At:        s.cfg.Clock(),
	})
}

// speakerTrackLocked opens the per-speaker track on first use. It shares the
// session timeline, so the slots before its first frame flush as silence.
func (s *Session) speakerTrackLocked(speakerID string) (*internal_speaker.Track, error) {
	if t, ok := s.speakerTracks[speakerID]; ok {
		return t, nil
	}
	path := filepath.Join(s.options.StorageRoot, s.id+"-"+speakerID+".pcm")
	sink, err := s.openSink(path)
	if err != nil {
		return nil, err
	}
	t := internal_speaker.NewTrack(speakerID, path, sink, s.frameBytes, s.timeline)
	s.speakerTracks[speakerID] = t
	return t, nil
}

// Participants in first-seen order.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.participants...)
}

// LiveSpeakers is the number of speakers with a bound decode stream.
func (s *Session) LiveSpeakers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.pipelines {
		if p.Live() {
			n++
		}
	}
	return n
}

// emit delivers an event unless the terminal one already went out.
func (s *Session) emit(ev internal_type.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.eventsClosed {
		return
	}
	s.events <- ev
	if ev.Terminal() {
		s.eventsClosed = true
		close(s.events)
	}
}

func (s *Session) closeEvents() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	internal_session "github.com/rapidaai/recorder/api/recording-api/internal/session"
	internal_store "github.com/rapidaai/recorder/api/recording-api/internal/store"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// SettingsStore supplies per-group option overrides.
type SettingsStore interface {
	GroupOverrides(ctx context.Context, groupID string) (*internal_type.OptionsOverride, error)
}

// Archive persists finished sessions.
type Archive interface {
	SaveRecording(ctx context.Context, r *internal_store.Recording) error
}

// EventSink receives every event of every session.
type EventSink interface {
	Publish(ctx context.Context, ev internal_type.Event) error
}

// GroupLock extends the one-session-per-group rule beyond this process.
type GroupLock interface {
	Acquire(ctx context.Context, groupID, sessionID string) (bool, error)
	Refresh(ctx context.Context, groupID, sessionID string) error
	Release(ctx context.Context, groupID, sessionID string) error
	TTL() time.Duration
}

type Config struct {
	Defaults internal_type.RecordingOptions
	Session  internal_session.Config

	// SinkTimeout bounds one publish or archive call.
	SinkTimeout time.Duration
}

type Option func(*Manager)

func WithSettings(s SettingsStore) Option { return func(m *Manager) { m.settings = s } }
func WithArchive(a Archive) Option        { return func(m *Manager) { m.archive = a } }
func WithEventSink(s EventSink) Option    { return func(m *Manager) { m.sinks = append(m.sinks, s) } }
func WithGroupLock(l GroupLock) Option    { return func(m *Manager) { m.lock = l } }

// StartRequest asks for a recording of one channel.
type StartRequest struct {
	GroupID     string
	ChannelID   string
	InitiatorID string
	Overrides   *internal_type.OptionsOverride
}

type entry struct {
	session   *internal_session.Session
	forwarded chan struct{}
}

// Manager is the registry of active sessions, at most one per group, and
// the single place events leave the engine.
type Manager struct {
	logger    commons.Logger
	transport internal_type.VoiceTransport
	converter internal_type.Converter
	cfg       Config

	settings SettingsStore
	archive  Archive
	sinks    []EventSink
	workers  []*sinkWorker
	lock     GroupLock

	mu       sync.RWMutex
	sessions map[string]*entry
	groups   map[string]string

	broker *broker
	wg     sync.WaitGroup
}

func New(logger commons.Logger, transport internal_type.VoiceTransport, converter internal_type.Converter, cfg Config, opts ...Option) *Manager {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}
	m := &Manager{
		logger:    logger,
		transport: transport,
		converter: converter,
		cfg:       cfg,
		sessions:  make(map[string]*entry),
		groups:    make(map[string]string),
		broker:    newBroker(logger),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, sink := range m.sinks {
		m.workers = append(m.workers, newSinkWorker(logger, sink, cfg.SinkTimeout))
	}
	return m
}

// ResolveOptions merges defaults, stored group overrides and call overrides,
// in that order.
func (m *Manager) ResolveOptions(ctx context.Context, groupID string, call *internal_type.OptionsOverride) (internal_type.RecordingOptions, error) {
	opts := m.cfg.Defaults
	if m.settings != nil {
		group, err := m.settings.GroupOverrides(ctx, groupID)
		if err != nil {
			return opts, fmt.Errorf("failed to load group settings: %w", err)
		}
		opts = opts.Merge(group)
	}
	return opts.Merge(call), nil
}

// Start creates and starts a session. It returns once the session is active
// or has failed.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*internal_session.Session, error) {
	opts, err := m.ResolveOptions(ctx, req.GroupID, req.Overrides)
	if err != nil {
		return nil, err
	}
	if err := opts.Validate(m.transport.Capabilities()); err != nil {
		return nil, err
	}

	s := internal_session.New(m.logger, m.transport, m.converter, m.cfg.Session, internal_session.Params{
		GroupID:     req.GroupID,
		ChannelID:   req.ChannelID,
		InitiatorID: req.InitiatorID,
		Options:     opts,
	})
	e := &entry{session: s, forwarded: make(chan struct{})}

	m.mu.Lock()
	if _, busy := m.groups[req.GroupID]; busy {
		m.mu.Unlock()
		return nil, internal_type.ErrGroupBusy
	}
	m.groups[req.GroupID] = s.ID()
	m.sessions[s.ID()] = e
	m.mu.Unlock()

	if m.lock != nil {
		ok, err := m.lock.Acquire(ctx, req.GroupID, s.ID())
		if err != nil || !ok {
			m.unregister(s)
			if err != nil {
				return nil, err
			}
			return nil, internal_type.ErrGroupBusy
		}
	}

	m.wg.Add(1)
	go m.forward(e)

	if err := s.Start(ctx); err != nil {
		<-e.forwarded
		return nil, err
	}
	return s, nil
}

// forward relays one session's events to subscribers and sinks and drops the
// session from the registry after its terminal event.
func (m *Manager) forward(e *entry) {
	defer m.wg.Done()
	defer close(e.forwarded)
	s := e.session
	defer m.unregister(s)

	var refresh <-chan time.Time
	if m.lock != nil {
		ticker := time.NewTicker(m.lock.TTL() / 3)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			m.dispatch(ev)
			if ev.Terminal() {
				m.archiveTerminal(ev)
			}
		case <-refresh:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SinkTimeout)
			if err := m.lock.Refresh(ctx, s.GroupID(), s.ID()); err != nil {
				m.logger.Errorw("failed to refresh group lease", "session", s.ID(), "error", err)
			}
			cancel()
		}
	}
}

func (m *Manager) dispatch(ev internal_type.Event) {
	m.broker.broadcast(ev)
	for _, w := range m.workers {
		w.offer(ev)
	}
}

func (m *Manager) archiveTerminal(ev internal_type.Event) {
	if m.archive == nil {
		return
	}
	var rec *internal_store.Recording
	switch e := ev.(type) {
	case internal_type.StopEvent:
		rec = internal_store.RecordingFromMetadata(e.Session, "", nil)
	case internal_type.ErrorEvent:
		if e.Session.StartTime.IsZero() {
			// never captured anything
			return
		}
		rec = internal_store.RecordingFromMetadata(e.Session, e.Stage, e.Err)
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SinkTimeout)
	defer cancel()
	if err := m.archive.SaveRecording(ctx, rec); err != nil {
		m.logger.Errorw("failed to archive recording", "session", rec.ID, "error", err)
	}
}

func (m *Manager) unregister(s *internal_session.Session) {
	m.mu.Lock()
	_, present := m.sessions[s.ID()]
	delete(m.sessions, s.ID())
	if m.groups[s.GroupID()] == s.ID() {
		delete(m.groups, s.GroupID())
	}
	m.mu.Unlock()

	if present && m.lock != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SinkTimeout)
		defer cancel()
		if err := m.lock.Release(ctx, s.GroupID(), s.ID()); err != nil {
			m.logger.Warnw("failed to release group lease", "group", s.GroupID(), "error", err)
		}
	}
}

// Stop ends a session and returns once it left the registry.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.RLock()
	e, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return internal_type.ErrSessionNotFound
	}
	err := e.session.Stop(ctx)
	select {
	case <-e.forwarded:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (m *Manager) Get(sessionID string) (*internal_session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return nil, internal_type.ErrSessionNotFound
	}
	return e.session, nil
}

// ActiveForGroup returns the group's registered session, if any.
func (m *Manager) ActiveForGroup(groupID string) (*internal_session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.groups[groupID]
	if !ok {
		return nil, false
	}
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// ListActive returns metadata of every registered session, oldest first.
func (m *Manager) ListActive() []internal_type.SessionMetadata {
	m.mu.RLock()
	sessions := make([]*internal_session.Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	out := make([]internal_type.SessionMetadata, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// AddParticipant records a member in a session's participant list.
func (m *Manager) AddParticipant(sessionID, memberID string) (bool, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return false, err
	}
	return s.AddParticipant(memberID), nil
}

// MemberLeft tells a session that a member left its channel.
func (m *Manager) MemberLeft(sessionID, memberID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.MemberLeft(memberID)
	return nil
}

// Subscribe returns a stream of every session event. Slow subscribers lose
// events rather than stall sessions. cancel closes the stream.
func (m *Manager) Subscribe(buffer int) (<-chan internal_type.Event, func()) {
	return m.broker.subscribe(buffer)
}

// StopAll stops every session concurrently and waits for their forwarders.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.Stop(gctx, id); err != nil && !errors.Is(err, internal_type.ErrSessionNotFound) {
				return fmt.Errorf("stop session %s: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	m.wg.Wait()
	m.broker.close()
	for _, w := range m.workers {
		w.close(ctx)
	}
	return err
}

// Capabilities reports what the voice transport can deliver.
func (m *Manager) Capabilities() internal_type.TransportCapabilities {
	return m.transport.Capabilities()
}

// Subscribers is the number of live event subscribers.
func (m *Manager) Subscribers() int {
	return m.broker.size()
}

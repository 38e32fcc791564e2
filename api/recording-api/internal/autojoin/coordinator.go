// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_autojoin

import (
	"context"
	"fmt"
	"sync"

	internal_manager "github.com/rapidaai/recorder/api/recording-api/internal/manager"
	internal_session "github.com/rapidaai/recorder/api/recording-api/internal/session"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// SessionManager is the part of the manager the coordinator drives.
type SessionManager interface {
	Start(ctx context.Context, req internal_manager.StartRequest) (*internal_session.Session, error)
	Stop(ctx context.Context, sessionID string) error
	ActiveForGroup(groupID string) (*internal_session.Session, bool)
	AddParticipant(sessionID, memberID string) (bool, error)
	MemberLeft(sessionID, memberID string) error
}

// ConfigStore persists auto-join configuration.
type ConfigStore interface {
	AutoJoinConfig(ctx context.Context, groupID string) (internal_type.AutoJoinConfig, error)
	SetAutoJoinChannel(ctx context.Context, groupID, channelID string) error
	AddTrigger(ctx context.Context, groupID, userID string) (bool, error)
	RemoveTrigger(ctx context.Context, groupID, userID string) (bool, error)
	DisableAutoJoin(ctx context.Context, groupID string) error
}

// groupQueue is the backlog of one group's pending changes.
const groupQueue = 256

// Coordinator turns membership changes into session starts, stops and
// follows. Changes of one group are handled one at a time, in order; groups
// never wait on each other.
type Coordinator struct {
	logger  commons.Logger
	manager SessionManager
	store   ConfigStore
	view    internal_type.ChannelView

	mu     sync.Mutex
	groups map[string]*sync.Mutex
}

func NewCoordinator(logger commons.Logger, manager SessionManager, store ConfigStore, view internal_type.ChannelView) *Coordinator {
	return &Coordinator{
		logger:  logger,
		manager: manager,
		store:   store,
		view:    view,
		groups:  make(map[string]*sync.Mutex),
	}
}

// lockGroup serializes work on one group and returns the unlock.
func (c *Coordinator) lockGroup(groupID string) func() {
	c.mu.Lock()
	l, ok := c.groups[groupID]
	if !ok {
		l = &sync.Mutex{}
		c.groups[groupID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Run dispatches changes to one worker per group until ctx is done or the
// channel closes. A closed channel lets every worker finish its backlog.
func (c *Coordinator) Run(ctx context.Context, changes <-chan internal_type.MembershipChange) {
	queues := make(map[string]chan internal_type.MembershipChange)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				for _, q := range queues {
					close(q)
				}
				return
			}
			q, exists := queues[change.GroupID]
			if !exists {
				q = make(chan internal_type.MembershipChange, groupQueue)
				queues[change.GroupID] = q
				wg.Add(1)
				go func() {
					defer wg.Done()
					c.work(ctx, q)
				}()
			}
			select {
			case q <- change:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Coordinator) work(ctx context.Context, q <-chan internal_type.MembershipChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-q:
			if !ok {
				return
			}
			if _, err := c.Handle(ctx, change); err != nil {
				c.logger.Errorw("auto join failed", "group", change.GroupID, "member", change.MemberID, "error", err)
			}
		}
	}
}

// Handle decides on one change and executes the decision.
func (c *Coordinator) Handle(ctx context.Context, change internal_type.MembershipChange) (Decision, error) {
	unlock := c.lockGroup(change.GroupID)
	defer unlock()

	cfg, err := c.store.AutoJoinConfig(ctx, change.GroupID)
	if err != nil {
		return Decision{Action: ActionNone, GroupID: change.GroupID}, fmt.Errorf("failed to load auto join config: %w", err)
	}

	var active *ActiveSession
	session, ok := c.manager.ActiveForGroup(change.GroupID)
	if ok {
		meta := session.Metadata()
		active = &ActiveSession{ID: meta.ID, ChannelID: meta.ChannelID, InitiatorID: meta.InitiatorID}
	}

	d := Decide(change, cfg, active, c.view)
	if d.Action != ActionNone {
		c.logger.Infow("auto join decision", "group", d.GroupID, "action", d.Action, "channel", d.ChannelID, "reason", d.Reason)
	}

	switch d.Action {
	case ActionStart:
		_, err = c.manager.Start(ctx, internal_manager.StartRequest{GroupID: d.GroupID, ChannelID: d.ChannelID, InitiatorID: d.InitiatorID})
	case ActionStop:
		err = c.manager.Stop(ctx, d.SessionID)
	case ActionFollow:
		err = c.follow(ctx, session, d)
	case ActionNone:
		c.trackMembership(change, active)
	}
	return d, err
}

// follow moves a session: stop, then start in the destination channel with
// the same initiator and options snapshot.
func (c *Coordinator) follow(ctx context.Context, session *internal_session.Session, d Decision) error {
	snapshot := session.Options().AsOverride()
	if err := c.manager.Stop(ctx, d.SessionID); err != nil {
		c.logger.Warnw("stopping followed session reported an error", "session", d.SessionID, "error", err)
	}
	_, err := c.manager.Start(ctx, internal_manager.StartRequest{
		GroupID:     d.GroupID,
		ChannelID:   d.ChannelID,
		InitiatorID: d.InitiatorID,
		Overrides:   snapshot,
	})
	return err
}

func (c *Coordinator) trackMembership(change internal_type.MembershipChange, active *ActiveSession) {
	if active == nil || change.Bot {
		return
	}
	if change.ToChannel == active.ChannelID {
		if _, err := c.manager.AddParticipant(active.ID, change.MemberID); err != nil {
			c.logger.Warnw("failed to add participant", "session", active.ID, "member", change.MemberID, "error", err)
		}
		return
	}
	if change.FromChannel == active.ChannelID {
		if err := c.manager.MemberLeft(active.ID, change.MemberID); err != nil {
			c.logger.Warnw("failed to report member leaving", "session", active.ID, "member", change.MemberID, "error", err)
		}
	}
}

func (c *Coordinator) Config(ctx context.Context, groupID string) (internal_type.AutoJoinConfig, error) {
	return c.store.AutoJoinConfig(ctx, groupID)
}

func (c *Coordinator) SetChannel(ctx context.Context, groupID, channelID string) error {
	return c.store.SetAutoJoinChannel(ctx, groupID, channelID)
}

func (c *Coordinator) AddTrigger(ctx context.Context, groupID, userID string) (bool, error) {
	return c.store.AddTrigger(ctx, groupID, userID)
}

func (c *Coordinator) RemoveTrigger(ctx context.Context, groupID, userID string) (bool, error) {
	return c.store.RemoveTrigger(ctx, groupID, userID)
}

// Disable clears the group's configuration and stops its active session.
func (c *Coordinator) Disable(ctx context.Context, groupID string) error {
	unlock := c.lockGroup(groupID)
	defer unlock()
	if err := c.store.DisableAutoJoin(ctx, groupID); err != nil {
		return err
	}
	if s, ok := c.manager.ActiveForGroup(groupID); ok {
		return c.manager.Stop(ctx, s.ID())
	}
	return nil
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_autojoin

import (
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

type Action string

const (
	ActionNone   Action = "none"
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionFollow Action = "follow"
)

// ActiveSession is what the decision needs to know about the group's
// current session.
type ActiveSession struct {
	ID          string
	ChannelID   string
	InitiatorID string
}

// Decision is the single outcome of one membership change.
type Decision struct {
	Action      Action
	GroupID     string
	ChannelID   string // where to start or follow to
	SessionID   string // session to stop or move
	InitiatorID string
	Reason      string
}

// Decide applies the auto-join rules in order and returns the first that
// fires. The view must already reflect the change.
//
//  1. a trigger user entering the target channel with no session starts one
//  2. a recorded channel left without non-bot members stops the session
//  3. leaving the recorded channel with no trigger user left behind follows
//     a trigger user in the destination channel
//  4. if nobody can be followed and the mover was a trigger user, stop
//
// Changes of bot members never trigger anything.
func Decide(change internal_type.MembershipChange, cfg internal_type.AutoJoinConfig, active *ActiveSession, view internal_type.ChannelView) Decision {
	none := Decision{Action: ActionNone, GroupID: change.GroupID}
	if change.Bot || change.FromChannel == change.ToChannel {
		return none
	}

	if active == nil {
		if cfg.Enabled() && cfg.IsTrigger(change.MemberID) && change.ToChannel == cfg.ChannelID {
			return Decision{
				Action:      ActionStart,
				GroupID:     change.GroupID,
				ChannelID:   change.ToChannel,
				InitiatorID: change.MemberID,
				Reason:      "trigger user joined the auto-join channel",
			}
		}
		return none
	}

	recorded := view.ChannelMembers(change.GroupID, active.ChannelID)
	if countHumans(recorded) == 0 {
		return Decision{
			Action:    ActionStop,
			GroupID:   change.GroupID,
			SessionID: active.ID,
			Reason:    "recorded channel is empty",
		}
	}

	if !cfg.Enabled() || change.FromChannel != active.ChannelID {
		return none
	}
	if countTriggers(recorded, cfg) > 0 {
		return none
	}
	if change.ToChannel != "" && countTriggers(view.ChannelMembers(change.GroupID, change.ToChannel), cfg) > 0 {
		return Decision{
			Action:      ActionFollow,
			GroupID:     change.GroupID,
			ChannelID:   change.ToChannel,
			SessionID:   active.ID,
			InitiatorID: active.InitiatorID,
			Reason:      "trigger user moved channels",
		}
	}
	if cfg.IsTrigger(change.MemberID) {
		return Decision{
			Action:    ActionStop,
			GroupID:   change.GroupID,
			SessionID: active.ID,
			Reason:    "no trigger user left in the recorded channel",
		}
	}
	return none
}

func countHumans(members []internal_type.Member) int {
	n := 0
	for _, m := range members {
		if !m.Bot {
			n++
		}
	}
	return n
}

func countTriggers(members []internal_type.Member, cfg internal_type.AutoJoinConfig) int {
	n := 0
	for _, m := range members {
		if !m.Bot && cfg.IsTrigger(m.ID) {
			n++
		}
	}
	return n
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transport_discord

import (
	"sort"
	"sync"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

// membership tracks which member sits in which voice channel, per guild.
type membership struct {
	mu      sync.RWMutex
	channel map[string]map[string]string // guild -> user -> channel
	bots    map[string]map[string]bool
}

func newMembership() *membership {
	return &membership{
		channel: make(map[string]map[string]string),
		bots:    make(map[string]map[string]bool),
	}
}

// apply records a member's new channel, empty when they left voice, and
// returns the change relative to what was known before.
func (m *membership) apply(guildID, userID string, bot bool, channelID string) internal_type.MembershipChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channel[guildID] == nil {
		m.channel[guildID] = make(map[string]string)
		m.bots[guildID] = make(map[string]bool)
	}
	from := m.channel[guildID][userID]
	if channelID == "" {
		delete(m.channel[guildID], userID)
		delete(m.bots[guildID], userID)
	} else {
		m.channel[guildID][userID] = channelID
		m.bots[guildID][userID] = bot
	}
	return internal_type.MembershipChange{GroupID: guildID, MemberID: userID, Bot: bot, FromChannel: from, ToChannel: channelID}
}

func (m *membership) forget(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channel, guildID)
	delete(m.bots, guildID)
}

func (m *membership) ChannelMembers(guildID, channelID string) []internal_type.Member {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []internal_type.Member
	for id, ch := range m.channel[guildID] {
		if ch == channelID {
			out = append(out, internal_type.Member{ID: id, Bot: m.bots[guildID][id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *membership) MemberChannel(guildID, userID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channel[guildID][userID]
}

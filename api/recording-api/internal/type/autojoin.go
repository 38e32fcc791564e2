// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_type

// AutoJoinConfig is the per-group auto-join setup. A config with an empty
// ChannelID is disabled.
type AutoJoinConfig struct {
	GroupID      string   `json:"groupId"`
	ChannelID    string   `json:"channelId"`
	TriggerUsers []string `json:"triggerUsers"`
}

func (c AutoJoinConfig) Enabled() bool {
	return c.ChannelID != "" && len(c.TriggerUsers) > 0
}

func (c AutoJoinConfig) IsTrigger(memberID string) bool {
	for _, id := range c.TriggerUsers {
		if id == memberID {
			return true
		}
	}
	return false
}

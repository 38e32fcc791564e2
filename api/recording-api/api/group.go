// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recording_api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

type groupSettingsResponse struct {
	GroupID   string                         `json:"groupId"`
	Overrides *internal_type.OptionsOverride `json:"overrides"`
	Effective internal_type.RecordingOptions `json:"effective"`
	AutoJoin  internal_type.AutoJoinConfig   `json:"autoJoin"`
}

// GetGroupSettings shows the stored overrides and the options a new
// recording of the group would use.
//
// @Router /v1/groups/:groupId/settings [get]
func (api *RecordingApi) GetGroupSettings(c *gin.Context) {
	ctx := c.Request.Context()
	groupID := c.Param("groupId")
	ov, err := api.store.GroupOverrides(ctx, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	effective, err := api.manager.ResolveOptions(ctx, groupID, nil)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	aj, err := api.autoJoin.Config(ctx, groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, groupSettingsResponse{GroupID: groupID, Overrides: ov, Effective: effective, AutoJoin: aj})
}

// UpdateGroupSettings merges option overrides into the group's settings.
// Overrides that would make the group unrecordable are rejected.
//
// @Router /v1/groups/:groupId/settings [put]
func (api *RecordingApi) UpdateGroupSettings(c *gin.Context) {
	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	ov, err := internal_type.DecodeOverrides(body)
	if err != nil || ov == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options"})
		return
	}
	ctx := c.Request.Context()
	groupID := c.Param("groupId")
	effective, err := api.manager.ResolveOptions(ctx, groupID, ov)
	if err == nil {
		err = effective.Validate(api.manager.Capabilities())
	}
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	if err := api.store.SaveGroupOverrides(ctx, groupID, *ov); err != nil {
		api.logger.Errorw("failed to save group settings", "group", groupID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save group settings"})
		return
	}
	api.GetGroupSettings(c)
}

type autoJoinChannelRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
}

// @Router /v1/groups/:groupId/autojoin [get]
func (api *RecordingApi) GetAutoJoin(c *gin.Context) {
	cfg, err := api.autoJoin.Config(c.Request.Context(), c.Param("groupId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// @Router /v1/groups/:groupId/autojoin [put]
func (api *RecordingApi) SetAutoJoinChannel(c *gin.Context) {
	var req autoJoinChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	if err := api.autoJoin.SetChannel(c.Request.Context(), c.Param("groupId"), req.ChannelID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	api.GetAutoJoin(c)
}

// @Router /v1/groups/:groupId/autojoin [delete]
func (api *RecordingApi) DisableAutoJoin(c *gin.Context) {
	if err := api.autoJoin.Disable(c.Request.Context(), c.Param("groupId")); err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// @Router /v1/groups/:groupId/autojoin/triggers/:userId [put]
func (api *RecordingApi) AddTrigger(c *gin.Context) {
	added, err := api.autoJoin.AddTrigger(c.Request.Context(), c.Param("groupId"), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// @Router /v1/groups/:groupId/autojoin/triggers/:userId [delete]
func (api *RecordingApi) RemoveTrigger(c *gin.Context) {
	removed, err := api.autoJoin.RemoveTrigger(c.Request.Context(), c.Param("groupId"), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

type logChannelRequest struct {
	ChannelID string `json:"channelId"`
}

// SetLogChannel picks the text channel for recording notifications. An
// empty channel turns them off.
//
// @Router /v1/groups/:groupId/log-channel [put]
func (api *RecordingApi) SetLogChannel(c *gin.Context) {
	var req logChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	if err := api.store.SetLogChannel(c.Request.Context(), c.Param("groupId"), req.ChannelID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groupId": c.Param("groupId"), "channelId": req.ChannelID})
}

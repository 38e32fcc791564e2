// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recording_api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/recorder/api/recording-api/config"
	internal_manager "github.com/rapidaai/recorder/api/recording-api/internal/manager"
	internal_session "github.com/rapidaai/recorder/api/recording-api/internal/session"
	internal_store "github.com/rapidaai/recorder/api/recording-api/internal/store"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// RecordingManager is what the api needs from the session manager.
type RecordingManager interface {
	Start(ctx context.Context, req internal_manager.StartRequest) (*internal_session.Session, error)
	Stop(ctx context.Context, sessionID string) error
	Get(sessionID string) (*internal_session.Session, error)
	ListActive() []internal_type.SessionMetadata
	ResolveOptions(ctx context.Context, groupID string, call *internal_type.OptionsOverride) (internal_type.RecordingOptions, error)
	Capabilities() internal_type.TransportCapabilities
	Subscribe(buffer int) (<-chan internal_type.Event, func())
}

// RecordingStore is the archive and per-group settings.
type RecordingStore interface {
	GetRecording(ctx context.Context, id string) (*internal_store.Recording, error)
	ListRecordings(ctx context.Context, groupID string, limit int) ([]*internal_store.Recording, error)
	GroupOverrides(ctx context.Context, groupID string) (*internal_type.OptionsOverride, error)
	SaveGroupOverrides(ctx context.Context, groupID string, ov internal_type.OptionsOverride) error
	SetLogChannel(ctx context.Context, groupID, channelID string) error
	Ping(ctx context.Context) error
}

// AutoJoinService manages auto-join configuration.
type AutoJoinService interface {
	Config(ctx context.Context, groupID string) (internal_type.AutoJoinConfig, error)
	SetChannel(ctx context.Context, groupID, channelID string) error
	AddTrigger(ctx context.Context, groupID, userID string) (bool, error)
	RemoveTrigger(ctx context.Context, groupID, userID string) (bool, error)
	Disable(ctx context.Context, groupID string) error
}

type recordingApi struct {
	cfg      *config.AppConfig
	logger   commons.Logger
	manager  RecordingManager
	store    RecordingStore
	autoJoin AutoJoinService
}

// RecordingApi serves recording control over http.
type RecordingApi struct {
	recordingApi
}

func NewRecordingApi(cfg *config.AppConfig, logger commons.Logger, manager RecordingManager, store RecordingStore, autoJoin AutoJoinService) *RecordingApi {
	return &RecordingApi{
		recordingApi{
			cfg:      cfg,
			logger:   logger,
			manager:  manager,
			store:    store,
			autoJoin: autoJoin,
		},
	}
}

type StartRecordingRequest struct {
	GroupID     string                 `json:"groupId" binding:"required"`
	ChannelID   string                 `json:"channelId" binding:"required"`
	InitiatorID string                 `json:"initiatorId"`
	Options     map[string]interface{} `json:"options"`
}

// StartRecording joins a channel and starts recording it.
//
// @Router /v1/recordings [post]
func (api *RecordingApi) StartRecording(c *gin.Context) {
	var req StartRecordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	overrides, err := internal_type.DecodeOverrides(req.Options)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid options", "message": err.Error()})
		return
	}

	s, err := api.manager.Start(c.Request.Context(), internal_manager.StartRequest{
		GroupID:     req.GroupID,
		ChannelID:   req.ChannelID,
		InitiatorID: req.InitiatorID,
		Overrides:   overrides,
	})
	if err != nil {
		api.logger.Warnw("recording start failed", "group", req.GroupID, "channel", req.ChannelID, "error", err)
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, s.Metadata())
}

// StopRecording stops a session and waits for its conversion.
//
// @Router /v1/recordings/:sessionId/stop [post]
func (api *RecordingApi) StopRecording(c *gin.Context) {
	id := c.Param("sessionId")
	s, err := api.manager.Get(id)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	if err := api.manager.Stop(c.Request.Context(), id); err != nil && !errors.Is(err, internal_type.ErrSessionNotFound) {
		api.logger.Warnw("recording stopped with error", "session", id, "error", err)
		c.JSON(statusOf(err), gin.H{"error": err.Error(), "recording": s.Metadata()})
		return
	}
	c.JSON(http.StatusOK, s.Metadata())
}

// @Router /v1/recordings/active [get]
func (api *RecordingApi) ActiveRecordings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recordings": api.manager.ListActive()})
}

// GetRecording returns a live session, or its archived row once it ended.
//
// @Router /v1/recordings/:sessionId [get]
func (api *RecordingApi) GetRecording(c *gin.Context) {
	id := c.Param("sessionId")
	if s, err := api.manager.Get(id); err == nil {
		c.JSON(http.StatusOK, s.Metadata())
		return
	}
	r, err := api.store.GetRecording(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

// @Router /v1/recordings [get]
func (api *RecordingApi) ListRecordings(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive number"})
		return
	}
	rows, err := api.store.ListRecordings(c.Request.Context(), c.Query("groupId"), limit)
	if err != nil {
		api.logger.Errorw("failed to list recordings", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recordings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": rows})
}

// statusOf maps engine errors to http status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, internal_type.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, internal_type.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, internal_type.ErrGroupBusy), errors.Is(err, internal_type.ErrSessionCancelled):
		return http.StatusConflict
	case errors.Is(err, internal_type.ErrConnectionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, internal_type.ErrConnectionError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

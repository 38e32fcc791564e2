// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recording_routers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	recording_api "github.com/rapidaai/recorder/api/recording-api/api"
	"github.com/rapidaai/recorder/api/recording-api/config"
	"github.com/rapidaai/recorder/pkg/commons"
)

// NewEngine builds the gin engine with recovery, request logging and cors.
func NewEngine(cfg *config.AppConfig, logger commons.Logger) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	corsConfig.MaxAge = 12 * time.Hour
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	engine.Use(cors.New(corsConfig))
	return engine
}

func requestLogger(logger commons.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func HealthCheckRoutes(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, db recording_api.Pinger) {
	logger.Info("Internal HealthCheckRoutes added to engine.")
	apiv1 := engine.Group("")
	hcApi := recording_api.NewHealthCheckApi(cfg, logger, db)
	{
		apiv1.GET("/readiness/", hcApi.Readiness)
		apiv1.GET("/healthz/", hcApi.Healthz)
	}
}

// RecordingApiRoute registers the admin api. With an auth secret configured
// every route requires a bearer token.
func RecordingApiRoute(cfg *config.AppConfig, engine *gin.Engine, logger commons.Logger, api *recording_api.RecordingApi) {
	v1 := engine.Group("v1")
	if cfg.AuthConfig.Secret != "" {
		v1.Use(recording_api.NewAuthenticator(cfg.AuthConfig).Middleware(logger))
	} else {
		logger.Warnw("admin api is running without authentication")
	}

	recordings := v1.Group("recordings")
	{
		recordings.POST("", api.StartRecording)
		recordings.GET("", api.ListRecordings)
		recordings.GET("/active", api.ActiveRecordings)
		recordings.GET("/events", api.Events)
		recordings.GET("/:sessionId", api.GetRecording)
		recordings.POST("/:sessionId/stop", api.StopRecording)
	}

	groups := v1.Group("groups/:groupId")
	{
		groups.GET("/settings", api.GetGroupSettings)
		groups.PUT("/settings", api.UpdateGroupSettings)
		groups.PUT("/log-channel", api.SetLogChannel)
		groups.GET("/autojoin", api.GetAutoJoin)
		groups.PUT("/autojoin", api.SetAutoJoinChannel)
		groups.DELETE("/autojoin", api.DisableAutoJoin)
		groups.PUT("/autojoin/triggers/:userId", api.AddTrigger)
		groups.DELETE("/autojoin/triggers/:userId", api.RemoveTrigger)
	}
}

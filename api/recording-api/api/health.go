// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recording_api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rapidaai/recorder/api/recording-api/config"
	"github.com/rapidaai/recorder/pkg/commons"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthCheckApi struct {
	cfg    *config.AppConfig
	logger commons.Logger
	db     Pinger
}

func NewHealthCheckApi(cfg *config.AppConfig, logger commons.Logger, db Pinger) *HealthCheckApi {
	return &HealthCheckApi{cfg: cfg, logger: logger, db: db}
}

func (h *HealthCheckApi) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"healthy": true, "service": h.cfg.Name, "version": h.cfg.Version})
}

// Readiness fails while the database is unreachable.
func (h *HealthCheckApi) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Warnw("readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package recording_api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rapidaai/recorder/api/recording-api/config"
	"github.com/rapidaai/recorder/pkg/commons"
)

const principalKey = "principal"

var ErrInvalidToken = errors.New("invalid token")

// Authenticator validates HS256 bearer tokens issued for the admin api.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Authenticator{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}
}

// Subject returns the token's subject when it is valid.
func (a *Authenticator) Subject(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid token. The token comes from
// the Authorization header, or the token query parameter for websocket
// clients that cannot set headers.
func (a *Authenticator) Middleware(logger commons.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if h := c.GetHeader("Authorization"); h != "" {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		subject, err := a.Subject(token)
		if err != nil {
			logger.Debugf("rejected request to %s: %v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated request"})
			return
		}
		c.Set(principalKey, subject)
		c.Next()
	}
}

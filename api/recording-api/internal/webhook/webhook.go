// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package internal_webhook posts finished sessions to an http endpoint.
package internal_webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "rapida-recorder"
)

// Sink delivers terminal events as json envelopes. Non terminal events are
// not sent.
type Sink struct {
	logger commons.Logger
	client *resty.Client
	url    string
}

func New(logger commons.Logger, url string, timeout time.Duration, retries int) *Sink {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("User-Agent", userAgent).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	return &Sink{logger: logger, client: client, url: url}
}

func (s *Sink) Publish(ctx context.Context, ev internal_type.Event) error {
	if !ev.Terminal() {
		return nil
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Recording-Event", string(ev.Type())).
		SetBody(internal_type.Envelope(ev)).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook responded %d", resp.StatusCode())
	}
	s.logger.Debugf("webhook delivered %s for session %s", ev.Type(), ev.SessionID())
	return nil
}

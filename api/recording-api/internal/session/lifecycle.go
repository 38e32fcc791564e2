// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	internal_speaker "github.com/rapidaai/recorder/api/recording-api/internal/speaker"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/utils"
)

// stopCause marks a stop forced by a fatal sink failure.
type stopCause struct {
	stage string
	err   error
}

// Stop ends the session: releases every stream, sink and the transport, then
// converts the capture. A pending connect is cancelled instead. Calling Stop
// on a session that is not connecting or active is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	return s.stop(ctx, nil)
}

// fail forces a stop after a fatal sink failure. Must not run on a goroutine
// the session waits for.
func (s *Session) fail(stage string, err error) {
	s.logger.Errorw("forcing recording stop", "stage", stage, "error", err)
	_ = s.stop(context.Background(), &stopCause{stage: stage, err: err})
}

func (s *Session) stop(ctx context.Context, cause *stopCause) error {
	s.mu.Lock()
	switch s.state {
	case internal_type.SessionConnecting:
		s.state = internal_type.SessionStopping
		s.connectCancel()
		s.mu.Unlock()
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case internal_type.SessionActive:
		s.state = internal_type.SessionStopping
	default:
		s.mu.Unlock()
		return nil
	}
	s.runCancel()
	pipelines := s.pipelines
	s.pipelines = make(map[string]*internal_speaker.Pipeline)
	s.mu.Unlock()

	// every writer is joined before the sinks close
	s.wg.Wait()
	var releaseErr error
	for id, p := range pipelines {
		if err := p.Close(); err != nil {
			s.logger.Warnw("failed to close speaker stream", "speaker", id, "error", err)
		}
	}

	s.mu.Lock()
	end := s.cfg.Clock()
	s.endTime = &end
	tracks := s.tracksLocked()
	endSlot := s.timeline.SlotAt(end)
	s.mu.Unlock()

	var sinkErr error
	for _, t := range tracks {
		if cause == nil {
			sinkErr = multierr.Append(sinkErr, t.Drain(endSlot))
		}
		sinkErr = multierr.Append(sinkErr, t.Close())
	}
	if err := s.conn.Destroy(); err != nil {
		releaseErr = multierr.Append(releaseErr, err)
	}
	if releaseErr != nil {
		s.logger.Warnw("voice connection release reported errors", "error", releaseErr)
	}

	if cause == nil && sinkErr != nil {
		cause = &stopCause{stage: internal_type.StageSink, err: sinkErr}
	}
	if cause != nil {
		err := cause.err
		if !errors.Is(err, internal_type.ErrSinkIO) {
			err = fmt.Errorf("%w: %v", internal_type.ErrSinkIO, err)
		}
		s.finish(nil, cause.stage, err)
		return err
	}

	artifacts, convErr := s.convert(ctx, tracks)
	s.finish(artifacts, internal_type.StageConvert, convErr)
	return convErr
}

// tracksLocked lists the session track first, then speaker tracks in
// participant order.
func (s *Session) tracksLocked() []*internal_speaker.Track {
	tracks := []*internal_speaker.Track{s.main}
	for _, id := range s.participants {
		if t, ok := s.speakerTracks[id]; ok {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// convert turns every closed track into its artifact. Intermediates are
// removed only after their own conversion succeeded.
func (s *Session) convert(ctx context.Context, tracks []*internal_speaker.Track) ([]string, error) {
	convCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ConversionTimeout)
	defer cancel()

	var artifacts []string
	var convErr error
	for _, t := range tracks {
		suffix := ""
		if t != s.main {
			suffix = "-" + t.Name()
		}
		out := s.artifactPath(suffix)
		started := time.Now()
		err := s.converter.Convert(convCtx, internal_type.ConvertRequest{
			InputPath:  t.Path(),
			OutputPath: out,
			SampleRate: s.options.SampleRate,
			Channels:   s.options.Channels,
			Bitrate:    s.options.Bitrate,
			Format:     s.options.Format,
		})
		if err != nil {
			if !errors.Is(err, internal_type.ErrConversionFailure) {
				err = fmt.Errorf("%w: %v", internal_type.ErrConversionFailure, err)
			}
			s.logger.Errorw("conversion failed, intermediate kept", "input", t.Path(), "error", err)
			convErr = multierr.Append(convErr, err)
			continue
		}
		s.logger.Infow("conversion finished", "output", out, "took", time.Since(started))
		if err := os.Remove(t.Path()); err != nil && !os.IsNotExist(err) {
			s.logger.Warnw("failed to remove intermediate", "path", t.Path(), "error", err)
		}
		artifacts = append(artifacts, out)
	}
	return artifacts, convErr
}

// finish moves to the terminal state and emits the single terminal event.
func (s *Session) finish(artifacts []string, stage string, err error) {
	s.mu.Lock()
	s.artifacts = artifacts
	if err != nil {
		s.state = internal_type.SessionFailed
	} else {
		s.state = internal_type.SessionConverted
	}
	meta := s.metadataLocked()
	s.mu.Unlock()

	if err != nil {
		s.emit(internal_type.ErrorEvent{Session: meta, Stage: stage, Err: err, Fatal: true, At: *meta.EndTime})
	} else {
		s.logger.Infow("recording session converted", "artifacts", artifacts, "duration", meta.Duration())
		s.emit(internal_type.StopEvent{Session: meta, Artifacts: artifacts, At: *meta.EndTime})
	}
	close(s.done)
}

func (s *Session) speakingLoop(ctx context.Context, conn internal_type.VoiceConnection) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.SpeakingEvents():
			if !ok {
				return
			}
			if ev.Speaking {
				s.OnSpeakerStart(ev.SpeakerID)
			} else {
				s.OnSpeakerStop(ev.SpeakerID)
			}
		}
	}
}

// monitorConnection watches for a disconnect and gives the transport the
// reconnect window to come back before forcing a stop.
func (s *Session) monitorConnection(ctx context.Context, conn internal_type.VoiceConnection) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-conn.States():
			if !ok {
				return
			}
			switch st {
			case internal_type.ConnectionDisconnected:
				s.logger.Warnw("voice connection lost, waiting for reconnect", "window", s.cfg.ReconnectWindow)
				if s.awaitRecovery(ctx, conn) {
					continue
				}
				s.transportLost(ctx, "reconnect window elapsed")
				return
			case internal_type.ConnectionDestroyed:
				s.transportLost(ctx, "connection destroyed")
				return
			}
		}
	}
}

func (s *Session) awaitRecovery(ctx context.Context, conn internal_type.VoiceConnection) bool {
	timer := time.NewTimer(s.cfg.ReconnectWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-timer.C:
			return false
		case st, ok := <-conn.States():
			if !ok || st == internal_type.ConnectionDestroyed {
				return false
			}
			if st.Recovering() {
				s.logger.Infow("voice connection recovering", "state", st)
				return true
			}
		}
	}
}

// transportLost reports the loss and stops. What was captured is still
// converted.
func (s *Session) transportLost(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	err := fmt.Errorf("%w: %s", internal_type.ErrConnectionError, reason)
	s.emit(internal_type.ErrorEvent{Session: s.Metadata(), Stage: internal_type.StageTransport, Err: err, At: s.cfg.Clock()})
	utils.Go(context.Background(), func() {
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Errorw("stop after transport loss failed", "error", err)
		}
	})
}

// clockLoop flushes every track up to the wall-clock position, mixing what
// was spoken in each slot and filling the rest with silence.
func (s *Session) clockLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.advance(); err != nil {
				go s.fail(internal_type.StageSink, err)
				return
			}
		}
	}
}

func (s *Session) advance() error {
	s.mu.Lock()
	if s.state != internal_type.SessionActive {
		s.mu.Unlock()
		return nil
	}
	tracks := s.tracksLocked()
	target := s.timeline.Slot() - mixDelay
	s.mu.Unlock()

	for _, t := range tracks {
		if err := t.Advance(target); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) maxDurationTimer(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(s.options.MaxDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
		s.logger.Infow("maximum recording duration reached", "maxDuration", s.options.MaxDuration)
		utils.Go(context.Background(), func() {
			if err := s.Stop(context.Background()); err != nil {
				s.logger.Errorw("stop after maximum duration failed", "error", err)
			}
		})
	}
}

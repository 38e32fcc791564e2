// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// ffmpegConverter shells out to ffmpeg. Exit code 0 with the output present
// is success, anything else is a conversion failure.
type ffmpegConverter struct {
	logger commons.Logger
	path   string
}

func NewFFmpegConverter(logger commons.Logger, path string) internal_type.Converter {
	if path == "" {
		path = "ffmpeg"
	}
	return &ffmpegConverter{logger: logger, path: path}
}

// FFmpegArgs renders the command line for req.
func FFmpegArgs(req internal_type.ConvertRequest) []string {
	args := []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(req.SampleRate),
		"-ac", strconv.Itoa(req.Channels),
		"-i", req.InputPath,
	}
	kbps := strconv.Itoa(req.Bitrate/1000) + "k"
	switch req.Format {
	case internal_type.FormatMP3:
		args = append(args, "-c:a", "libmp3lame", "-b:a", kbps)
	case internal_type.FormatOgg:
		args = append(args, "-c:a", "libopus", "-b:a", kbps)
	default:
		args = append(args, "-f", "wav")
	}
	return append(args, "-y", req.OutputPath)
}

func (f *ffmpegConverter) Convert(ctx context.Context, req internal_type.ConvertRequest) error {
	args := FFmpegArgs(req)
	cmd := exec.CommandContext(ctx, f.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	started := time.Now()
	f.logger.Debugf("running %s %s", f.path, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: ffmpeg: %v", internal_type.ErrConversionFailure, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			f.logger.Errorw("ffmpeg exited with failure", "code", exitErr.ExitCode(), "stderr", tail(stderr.String(), 2048))
			return fmt.Errorf("%w: ffmpeg exit code %d", internal_type.ErrConversionFailure, exitErr.ExitCode())
		}
		return fmt.Errorf("%w: ffmpeg: %v", internal_type.ErrConversionFailure, err)
	}
	if _, err := os.Stat(req.OutputPath); err != nil {
		return fmt.Errorf("%w: ffmpeg produced no output: %v", internal_type.ErrConversionFailure, err)
	}
	f.logger.Infow("ffmpeg conversion finished", "output", req.OutputPath, "format", req.Format, "took", time.Since(started))
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcoder

import (
	"fmt"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

const (
	ModeAuto   = "auto"
	ModeNative = "native"
	ModeFFmpeg = "ffmpeg"
)

// New builds the converter for mode. ffmpegPath defaults to "ffmpeg" on PATH.
func New(logger commons.Logger, mode, ffmpegPath string) (internal_type.Converter, error) {
	switch mode {
	case ModeNative:
		return NewNativeConverter(logger), nil
	case ModeFFmpeg:
		return NewFFmpegConverter(logger, ffmpegPath), nil
	case ModeAuto, "":
		return NewAutoConverter(logger, ffmpegPath), nil
	default:
		return nil, fmt.Errorf("unknown transcoder mode %q", mode)
	}
}

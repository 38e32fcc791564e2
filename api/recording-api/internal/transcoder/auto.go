// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcoder

import (
	"context"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// autoConverter encodes natively when it can and falls back to ffmpeg.
type autoConverter struct {
	native internal_type.Converter
	ffmpeg internal_type.Converter
}

func NewAutoConverter(logger commons.Logger, ffmpegPath string) internal_type.Converter {
	return &autoConverter{
		native: NewNativeConverter(logger),
		ffmpeg: NewFFmpegConverter(logger, ffmpegPath),
	}
}

func (a *autoConverter) Convert(ctx context.Context, req internal_type.ConvertRequest) error {
	if Supports(req.Format) {
		return a.native.Convert(ctx, req)
	}
	return a.ffmpeg.Convert(ctx, req)
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_transcoder

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_encoder "github.com/rapidaai/recorder/api/recording-api/internal/audio/encoder"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// nativeConverter re-encodes the raw capture in process with the encoders
// of this module. It covers wav and ogg.
type nativeConverter struct {
	logger commons.Logger
}

func NewNativeConverter(logger commons.Logger) internal_type.Converter {
	return &nativeConverter{logger: logger}
}

// Supports reports whether format can be produced without ffmpeg.
func Supports(format internal_type.AudioFormat) bool {
	return format == internal_type.FormatWAV || format == internal_type.FormatOgg
}

func (n *nativeConverter) Convert(ctx context.Context, req internal_type.ConvertRequest) (err error) {
	if !Supports(req.Format) {
		return fmt.Errorf("%w: %s needs ffmpeg", internal_type.ErrConversionFailure, req.Format)
	}
	in, err := os.Open(req.InputPath)
	if err != nil {
		return fmt.Errorf("%w: open intermediate: %v", internal_type.ErrConversionFailure, err)
	}
	defer in.Close()

	enc, err := internal_encoder.Create(n.logger, req.OutputPath, req.Format, internal_encoder.Config{
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		Bitrate:    req.Bitrate,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", internal_type.ErrConversionFailure, err)
	}
	defer func() {
		if cerr := enc.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%w: %v", internal_type.ErrConversionFailure, cerr))
		}
		if err != nil {
			os.Remove(req.OutputPath)
		}
	}()

	buf := make([]byte, internal_audio.FrameBytes(req.SampleRate, req.Channels)*50)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", internal_type.ErrConversionFailure, err)
		}
		read, rerr := io.ReadFull(in, buf)
		if read > 0 {
			if _, werr := enc.Write(buf[:read]); werr != nil {
				return fmt.Errorf("%w: %v", internal_type.ErrConversionFailure, werr)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("%w: read intermediate: %v", internal_type.ErrConversionFailure, rerr)
		}
	}
	n.logger.Infow("native conversion finished", "output", req.OutputPath, "format", req.Format, "bytes", enc.Stats().Bytes)
	return nil
}

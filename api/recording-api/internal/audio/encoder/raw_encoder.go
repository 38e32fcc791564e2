// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_encoder

import (
	"fmt"
	"io"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// rawEncoder passes s16le PCM through unchanged. Used for the intermediate
// capture file.
type rawEncoder struct {
	base
}

func NewRawEncoder(logger commons.Logger, w io.Writer, cfg Config) internal_type.AudioEncoder {
	return &rawEncoder{base: newBase(logger, w, cfg)}
}

func (r *rawEncoder) Format() internal_type.AudioFormat { return internal_type.FormatRaw }

func (r *rawEncoder) Write(pcm []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errClosed
	}
	n, err := r.w.Write(pcm)
	r.observe(pcm[:n])
	if err != nil {
		return n, fmt.Errorf("%w: %v", internal_type.ErrSinkIO, err)
	}
	return n, nil
}

func (r *rawEncoder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.closeWriter()
}

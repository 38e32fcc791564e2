// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"go.uber.org/multierr"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

const (
	WavHeaderSize    = 44
	wavPCMFormat     = 1
	wavBitsPerSample = 16

	// offsets of the two size fields patched on close
	riffSizeOffset = 4
	dataSizeOffset = 40
)

// wavEncoder writes a RIFF/WAVE PCM container. The header goes out first with
// zero sizes and is patched once the data length is known.
type wavEncoder struct {
	base
	ws        io.WriteSeeker
	dataBytes int64
}

func NewWavEncoder(logger commons.Logger, ws io.WriteSeeker, cfg Config) (internal_type.AudioEncoder, error) {
	w := &wavEncoder{base: newBase(logger, ws, cfg), ws: ws}
	if _, err := ws.Write(WavHeader(cfg.SampleRate, cfg.Channels, 0)); err != nil {
		return nil, fmt.Errorf("%w: write wav header: %v", internal_type.ErrSinkIO, err)
	}
	return w, nil
}

// WavHeader renders the 44 byte canonical header for dataBytes of PCM.
func WavHeader(sampleRate, channels int, dataBytes uint32) []byte {
	var buf bytes.Buffer
	blockAlign := channels * internal_audio.BytesPerSample

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36)+dataBytes)
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, dataBytes)
	return buf.Bytes()
}

func (w *wavEncoder) Format() internal_type.AudioFormat { return internal_type.FormatWAV }

func (w *wavEncoder) Write(pcm []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, errClosed
	}
	n, err := w.ws.Write(pcm)
	w.dataBytes += int64(n)
	w.observe(pcm[:n])
	if err != nil {
		return n, fmt.Errorf("%w: %v", internal_type.ErrSinkIO, err)
	}
	return n, nil
}

// Close patches the RIFF and data sizes and closes the destination.
func (w *wavEncoder) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	size := w.dataBytes
	if size > math.MaxUint32-36 {
		w.logger.Warnw("wav data exceeds container limit, header sizes saturated", "bytes", size)
		size = math.MaxUint32 - 36
	}
	err := w.patch(riffSizeOffset, uint32(36+size))
	err = multierr.Append(err, w.patch(dataSizeOffset, uint32(size)))
	if _, serr := w.ws.Seek(0, io.SeekEnd); serr != nil {
		err = multierr.Append(err, serr)
	}
	err = multierr.Append(err, w.closeWriter())
	if err != nil {
		return fmt.Errorf("%w: finalize wav: %v", internal_type.ErrSinkIO, err)
	}
	return nil
}

func (w *wavEncoder) patch(offset int64, value uint32) error {
	if _, err := w.ws.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return binary.Write(w.ws, binary.LittleEndian, value)
}

// WavInfo is the parsed header of a canonical PCM wav file.
type WavInfo struct {
	RIFFSize      uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// ParseWavHeader reads the 44 byte header written by this package.
func ParseWavHeader(header []byte) (WavInfo, error) {
	var info WavInfo
	if len(header) < WavHeaderSize {
		return info, fmt.Errorf("wav header too short: %d bytes", len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" ||
		string(header[12:16]) != "fmt " || string(header[36:40]) != "data" {
		return info, fmt.Errorf("not a canonical wav header")
	}
	le := binary.LittleEndian
	info.RIFFSize = le.Uint32(header[4:8])
	info.AudioFormat = le.Uint16(header[20:22])
	info.Channels = le.Uint16(header[22:24])
	info.SampleRate = le.Uint32(header[24:28])
	info.ByteRate = le.Uint32(header[28:32])
	info.BlockAlign = le.Uint16(header[32:34])
	info.BitsPerSample = le.Uint16(header[34:36])
	info.DataSize = le.Uint32(header[40:44])
	return info, nil
}

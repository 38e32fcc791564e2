// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	internal_transcoder "github.com/rapidaai/recorder/api/recording-api/internal/transcoder"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

var convertFlags struct {
	format     string
	sampleRate int
	channels   int
	bitrate    int
}

// convertCmd re-runs the conversion of an intermediate file left behind by
// a failed session.
var convertCmd = &cobra.Command{
	Use:   "convert INPUT.pcm [OUTPUT]",
	Short: "Convert a raw s16le intermediate into its final format",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		format, err := internal_type.ParseAudioFormat(convertFlags.format)
		if err != nil {
			return err
		}
		input := args[0]
		output := strings.TrimSuffix(input, filepath.Ext(input)) + "." + string(format)
		if len(args) == 2 {
			output = args[1]
		}

		converter, err := internal_transcoder.New(logger, cfg.TranscoderConfig.Mode, cfg.TranscoderConfig.Path)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TimeoutConfig.Conversion)
		defer cancel()
		if err := converter.Convert(ctx, internal_type.ConvertRequest{
			InputPath:  input,
			OutputPath: output,
			SampleRate: convertFlags.sampleRate,
			Channels:   convertFlags.channels,
			Bitrate:    internal_type.NormalizeBitrate(convertFlags.bitrate),
			Format:     format,
		}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), output)
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertFlags.format, "format", "wav", "output format: wav, ogg or mp3")
	convertCmd.Flags().IntVar(&convertFlags.sampleRate, "sample-rate", 48000, "sample rate of the input")
	convertCmd.Flags().IntVar(&convertFlags.channels, "channels", 2, "channel count of the input")
	convertCmd.Flags().IntVar(&convertFlags.bitrate, "bitrate", 128, "bitrate in kbps or bps for lossy formats")
}

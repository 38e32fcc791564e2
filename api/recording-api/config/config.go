// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

type LogConfig struct {
	Level    string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Path     string `mapstructure:"path"`
	Rotation bool   `mapstructure:"rotation"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`

	// pongo2 templates for log channel notifications, empty uses the built-in
	StartTemplate  string `mapstructure:"start_template"`
	StopTemplate   string `mapstructure:"stop_template"`
	FailedTemplate string `mapstructure:"failed_template"`
}

type RecordingConfig struct {
	Format           string        `mapstructure:"format" validate:"required,oneof=wav ogg mp3"`
	SampleRate       int           `mapstructure:"sample_rate" validate:"required"`
	Channels         int           `mapstructure:"channels" validate:"required,min=1,max=2"`
	Bitrate          int           `mapstructure:"bitrate" validate:"required"`
	SilenceThreshold float64       `mapstructure:"silence_threshold" validate:"lte=0"`
	StorageRoot      string        `mapstructure:"storage_root" validate:"required"`
	SeparateSpeakers bool          `mapstructure:"separate_speakers"`
	MaxDuration      time.Duration `mapstructure:"max_duration" validate:"gte=0"`
}

// Options turns the configured defaults into the base options snapshot.
func (r RecordingConfig) Options() internal_type.RecordingOptions {
	return internal_type.RecordingOptions{
		SampleRate:       r.SampleRate,
		Channels:         r.Channels,
		Bitrate:          internal_type.NormalizeBitrate(r.Bitrate),
		Format:           internal_type.AudioFormat(r.Format),
		SilenceThreshold: r.SilenceThreshold,
		StorageRoot:      r.StorageRoot,
		SeparateSpeakers: r.SeparateSpeakers,
		MaxDuration:      r.MaxDuration,
	}
}

type TimeoutConfig struct {
	Connect    time.Duration `mapstructure:"connect" validate:"required"`
	Reconnect  time.Duration `mapstructure:"reconnect" validate:"required"`
	Conversion time.Duration `mapstructure:"conversion" validate:"required"`
}

type TranscoderConfig struct {
	// native encodes wav and ogg in process, ffmpeg shells out for everything,
	// auto uses native where it can and ffmpeg for mp3.
	Mode string `mapstructure:"mode" validate:"required,oneof=auto native ffmpeg"`
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Driver             string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	DSN                string `mapstructure:"dsn" validate:"required"`
	MaxOpenConnection  int    `mapstructure:"max_open_connection"`
	MaxIdealConnection int    `mapstructure:"max_ideal_connection"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type WebhookConfig struct {
	URL        string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count" validate:"gte=0"`
}

// AuthConfig guards the admin api with HS256 bearer tokens. An empty secret
// leaves it open.
type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Audience string `mapstructure:"audience"`
}

// Enabled reports whether events should be published to redis.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Application config structure
type AppConfig struct {
	Name    string `mapstructure:"service_name" validate:"required"`
	Version string `mapstructure:"version" validate:"required"`
	Host    string `mapstructure:"host" validate:"required"`
	Port    int    `mapstructure:"port" validate:"required"`

	LogConfig        LogConfig        `mapstructure:"log" validate:"required"`
	DiscordConfig    DiscordConfig    `mapstructure:"discord"`
	RecordingConfig  RecordingConfig  `mapstructure:"recording" validate:"required"`
	TimeoutConfig    TimeoutConfig    `mapstructure:"timeout" validate:"required"`
	TranscoderConfig TranscoderConfig `mapstructure:"transcoder" validate:"required"`
	DatabaseConfig   DatabaseConfig   `mapstructure:"database" validate:"required"`
	RedisConfig      RedisConfig      `mapstructure:"redis"`
	WebhookConfig    WebhookConfig    `mapstructure:"webhook"`
	AuthConfig       AuthConfig       `mapstructure:"auth"`

	// origins allowed by the admin api
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("no config file found, reading from env variables")
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	// keeping watch on https://github.com/spf13/viper/issues/188
	v.SetDefault("SERVICE_NAME", "recording-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9010)
	v.SetDefault("ALLOWED_ORIGINS", []string{"*"})

	v.SetDefault("LOG__LEVEL", "debug")
	v.SetDefault("LOG__PATH", "")
	v.SetDefault("LOG__ROTATION", true)

	v.SetDefault("DISCORD__TOKEN", "")
	v.SetDefault("DISCORD__START_TEMPLATE", "")
	v.SetDefault("DISCORD__STOP_TEMPLATE", "")
	v.SetDefault("DISCORD__FAILED_TEMPLATE", "")

	v.SetDefault("RECORDING__FORMAT", "wav")
	v.SetDefault("RECORDING__SAMPLE_RATE", 48000)
	v.SetDefault("RECORDING__CHANNELS", 2)
	v.SetDefault("RECORDING__BITRATE", 128000)
	v.SetDefault("RECORDING__SILENCE_THRESHOLD", -50)
	v.SetDefault("RECORDING__STORAGE_ROOT", "./recordings")
	v.SetDefault("RECORDING__SEPARATE_SPEAKERS", false)
	v.SetDefault("RECORDING__MAX_DURATION", "0s")

	v.SetDefault("TIMEOUT__CONNECT", "20s")
	v.SetDefault("TIMEOUT__RECONNECT", "5s")
	v.SetDefault("TIMEOUT__CONVERSION", "5m")

	v.SetDefault("TRANSCODER__MODE", "auto")
	v.SetDefault("TRANSCODER__PATH", "ffmpeg")

	v.SetDefault("DATABASE__DRIVER", "sqlite")
	v.SetDefault("DATABASE__DSN", "recorder.db")
	v.SetDefault("DATABASE__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("DATABASE__MAX_IDEAL_CONNECTION", 10)

	v.SetDefault("REDIS__ADDR", "")
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)
	v.SetDefault("REDIS__CHANNEL", "recording:events")

	v.SetDefault("WEBHOOK__URL", "")
	v.SetDefault("WEBHOOK__TIMEOUT", "10s")
	v.SetDefault("WEBHOOK__RETRY_COUNT", 2)

	v.SetDefault("AUTH__SECRET", "")
	v.SetDefault("AUTH__AUDIENCE", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}

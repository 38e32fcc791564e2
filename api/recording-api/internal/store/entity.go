// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import "time"

// GroupSettings holds per-group recording overrides. Nil columns fall back
// to the service defaults.
type GroupSettings struct {
	GroupID            string   `json:"groupId" gorm:"type:string;size:64;primaryKey"`
	Format             *string  `json:"format" gorm:"type:string;size:10"`
	SampleRate         *int     `json:"sampleRate"`
	Channels           *int     `json:"channels"`
	Bitrate            *int     `json:"bitrate"`
	SilenceThreshold   *float64 `json:"silenceThreshold"`
	StorageRoot        *string  `json:"storageRoot" gorm:"type:string;size:512"`
	SeparateSpeakers   *bool    `json:"separateSpeakers"`
	MaxDurationSeconds *int64   `json:"maxDurationSeconds"`
	LogChannelID       string   `json:"logChannelId" gorm:"type:string;size:64"`

	CreatedDate time.Time `json:"createdDate" gorm:"autoCreateTime"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"autoUpdateTime"`
}

func (GroupSettings) TableName() string { return "group_settings" }

type AutoJoinSetting struct {
	GroupID   string `json:"groupId" gorm:"type:string;size:64;primaryKey"`
	ChannelID string `json:"channelId" gorm:"type:string;size:64;not null"`

	CreatedDate time.Time `json:"createdDate" gorm:"autoCreateTime"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"autoUpdateTime"`
}

func (AutoJoinSetting) TableName() string { return "auto_join_settings" }

type AutoJoinTrigger struct {
	GroupID     string    `json:"groupId" gorm:"type:string;size:64;primaryKey"`
	UserID      string    `json:"userId" gorm:"type:string;size:64;primaryKey"`
	CreatedDate time.Time `json:"createdDate" gorm:"autoCreateTime"`
}

func (AutoJoinTrigger) TableName() string { return "auto_join_triggers" }

const (
	RecordingStatusConverted = "CONVERTED"
	RecordingStatusFailed    = "FAILED"
)

// Recording archives one finished session.
type Recording struct {
	ID           string     `json:"id" gorm:"type:string;size:64;primaryKey"`
	GroupID      string     `json:"groupId" gorm:"type:string;size:64;not null;index"`
	ChannelID    string     `json:"channelId" gorm:"type:string;size:64;not null"`
	InitiatorID  string     `json:"initiatorId" gorm:"type:string;size:64"`
	Participants []string   `json:"participants" gorm:"serializer:json"`
	Artifacts    []string   `json:"artifacts" gorm:"serializer:json"`
	Format       string     `json:"format" gorm:"type:string;size:10;not null"`
	Status       string     `json:"status" gorm:"type:string;size:20;not null;index"`
	FailedStage  string     `json:"failedStage,omitempty" gorm:"type:string;size:20"`
	Error        string     `json:"error,omitempty" gorm:"type:text"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
	DurationMs   int64      `json:"durationMs"`
	SizeBytes    int64      `json:"sizeBytes"`

	PeakAmplitude    int     `json:"peakAmplitude"`
	AverageAmplitude float64 `json:"averageAmplitude"`
	SilentSegments   int     `json:"silentSegments"`

	CreatedDate time.Time `json:"createdDate" gorm:"autoCreateTime"`
}

func (Recording) TableName() string { return "recordings" }

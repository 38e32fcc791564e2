// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-gorm/caches/v4"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gorm_logger "gorm.io/gorm/logger"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// Open connects to the configured database.
func Open(driver, dsn string, maxOpen, maxIdle int) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gorm_logger.Default.LogMode(gorm_logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	// concurrent identical reads share one round trip
	if err := db.Use(&caches.Caches{Conf: &caches.Config{Easer: true}}); err != nil {
		return nil, fmt.Errorf("failed to install query easer: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	return db, nil
}

// Store persists group settings, auto-join configuration and the recording
// archive. It is constructed once and handed to every component that needs it.
type Store struct {
	logger commons.Logger
	db     *gorm.DB
}

func New(logger commons.Logger, db *gorm.DB) *Store {
	return &Store{logger: logger, db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&GroupSettings{}, &AutoJoinSetting{}, &AutoJoinTrigger{}, &Recording{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// GroupOverrides returns the stored overrides for group, nil when none.
func (s *Store) GroupOverrides(ctx context.Context, groupID string) (*internal_type.OptionsOverride, error) {
	var gs GroupSettings
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).First(&gs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get group settings: %w", err)
	}
	if gs.Format != nil {
		if _, err := internal_type.ParseAudioFormat(*gs.Format); err != nil {
			s.logger.Warnw("ignoring unsupported stored format", "group", groupID, "format", *gs.Format)
			gs.Format = nil
		}
	}
	ov := &internal_type.OptionsOverride{
		SampleRate:       gs.SampleRate,
		Channels:         gs.Channels,
		Bitrate:          gs.Bitrate,
		Format:           gs.Format,
		SilenceThreshold: gs.SilenceThreshold,
		StorageRoot:      gs.StorageRoot,
		SeparateSpeakers: gs.SeparateSpeakers,
	}
	if gs.MaxDurationSeconds != nil {
		d := time.Duration(*gs.MaxDurationSeconds) * time.Second
		ov.MaxDuration = &d
	}
	return ov, nil
}

// SaveGroupOverrides merges ov into the stored settings. Nil fields keep
// what is stored.
func (s *Store) SaveGroupOverrides(ctx context.Context, groupID string, ov internal_type.OptionsOverride) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gs := GroupSettings{GroupID: groupID}
		if err := tx.Where("group_id = ?", groupID).FirstOrInit(&gs).Error; err != nil {
			return fmt.Errorf("failed to load group settings: %w", err)
		}
		if ov.SampleRate != nil {
			gs.SampleRate = ov.SampleRate
		}
		if ov.Channels != nil {
			gs.Channels = ov.Channels
		}
		if ov.Bitrate != nil {
			b := internal_type.NormalizeBitrate(*ov.Bitrate)
			gs.Bitrate = &b
		}
		if ov.Format != nil {
			f, err := internal_type.ParseAudioFormat(*ov.Format)
			if err != nil {
				return err
			}
			fs := string(f)
			gs.Format = &fs
		}
		if ov.SilenceThreshold != nil {
			gs.SilenceThreshold = ov.SilenceThreshold
		}
		if ov.StorageRoot != nil {
			gs.StorageRoot = ov.StorageRoot
		}
		if ov.SeparateSpeakers != nil {
			gs.SeparateSpeakers = ov.SeparateSpeakers
		}
		if ov.MaxDuration != nil {
			secs := int64(ov.MaxDuration.Seconds())
			gs.MaxDurationSeconds = &secs
		}
		if err := tx.Save(&gs).Error; err != nil {
			return fmt.Errorf("failed to save group settings: %w", err)
		}
		s.logger.Debugf("saved group settings for %s", groupID)
		return nil
	})
}

// SetLogChannel stores where notifications for group should be rendered.
func (s *Store) SetLogChannel(ctx context.Context, groupID, channelID string) error {
	gs := GroupSettings{GroupID: groupID, LogChannelID: channelID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"log_channel_id", "updated_date"}),
	}).Create(&gs).Error
	if err != nil {
		return fmt.Errorf("failed to set log channel: %w", err)
	}
	return nil
}

func (s *Store) LogChannel(ctx context.Context, groupID string) (string, error) {
	var gs GroupSettings
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).First(&gs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get log channel: %w", err)
	}
	return gs.LogChannelID, nil
}

// AutoJoinConfig returns the auto-join setup of group. A group without one
// gets a disabled config.
func (s *Store) AutoJoinConfig(ctx context.Context, groupID string) (internal_type.AutoJoinConfig, error) {
	cfg := internal_type.AutoJoinConfig{GroupID: groupID}
	db := s.db.WithContext(ctx)

	var setting AutoJoinSetting
	if err := db.Where("group_id = ?", groupID).First(&setting).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return cfg, fmt.Errorf("failed to get auto join setting: %w", err)
		}
	} else {
		cfg.ChannelID = setting.ChannelID
	}

	var triggers []AutoJoinTrigger
	if err := db.Where("group_id = ?", groupID).Order("created_date, user_id").Find(&triggers).Error; err != nil {
		return cfg, fmt.Errorf("failed to get auto join triggers: %w", err)
	}
	for _, t := range triggers {
		cfg.TriggerUsers = append(cfg.TriggerUsers, t.UserID)
	}
	return cfg, nil
}

func (s *Store) SetAutoJoinChannel(ctx context.Context, groupID, channelID string) error {
	setting := AutoJoinSetting{GroupID: groupID, ChannelID: channelID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "group_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"channel_id", "updated_date"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to set auto join channel: %w", err)
	}
	return nil
}

// AddTrigger reports whether the user was newly added.
func (s *Store) AddTrigger(ctx context.Context, groupID, userID string) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&AutoJoinTrigger{GroupID: groupID, UserID: userID})
	if res.Error != nil {
		return false, fmt.Errorf("failed to add trigger user: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RemoveTrigger reports whether the user was configured.
func (s *Store) RemoveTrigger(ctx context.Context, groupID, userID string) (bool, error) {
	res := s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&AutoJoinTrigger{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to remove trigger user: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DisableAutoJoin clears the channel and every trigger of group.
func (s *Store) DisableAutoJoin(ctx context.Context, groupID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&AutoJoinTrigger{}).Error; err != nil {
			return fmt.Errorf("failed to clear trigger users: %w", err)
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&AutoJoinSetting{}).Error; err != nil {
			return fmt.Errorf("failed to clear auto join setting: %w", err)
		}
		return nil
	})
}

// RecordingFromMetadata builds the archive row for a finished session.
func RecordingFromMetadata(meta internal_type.SessionMetadata, stage string, cause error) *Recording {
	r := &Recording{
		ID:               meta.ID,
		GroupID:          meta.GroupID,
		ChannelID:        meta.ChannelID,
		InitiatorID:      meta.InitiatorID,
		Participants:     meta.Participants,
		Artifacts:        meta.Artifacts,
		Format:           string(meta.Options.Format),
		Status:           RecordingStatusConverted,
		StartTime:        meta.StartTime,
		EndTime:          meta.EndTime,
		DurationMs:       meta.Duration().Milliseconds(),
		PeakAmplitude:    meta.Stats.PeakAmplitude,
		AverageAmplitude: meta.Stats.AverageAmplitude,
		SilentSegments:   meta.Stats.SilentSegments,
	}
	if cause != nil {
		r.Status = RecordingStatusFailed
		r.FailedStage = stage
		r.Error = cause.Error()
	}
	for _, path := range meta.Artifacts {
		if fi, err := os.Stat(path); err == nil {
			r.SizeBytes += fi.Size()
		}
	}
	return r
}

// SaveRecording upserts the archive row.
func (s *Store) SaveRecording(ctx context.Context, r *Recording) error {
	if err := s.db.WithContext(ctx).Save(r).Error; err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}
	s.logger.Debugf("archived recording %s with status %s", r.ID, r.Status)
	return nil
}

func (s *Store) GetRecording(ctx context.Context, id string) (*Recording, error) {
	var r Recording
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal_type.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return &r, nil
}

// ListRecordings returns the newest recordings of group first. An empty
// group lists every group.
func (s *Store) ListRecordings(ctx context.Context, groupID string, limit int) ([]*Recording, error) {
	var out []*Recording
	q := s.db.WithContext(ctx).Order("start_time DESC")
	if groupID != "" {
		q = q.Where("group_id = ?", groupID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return out, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

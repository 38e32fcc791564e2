package internal_store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)
	return New(commons.NewNopLogger(), db), mock
}

func TestStore_QueryFailuresAreWrapped(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	boom := errors.New("connection reset")

	mock.ExpectQuery(`SELECT \* FROM "recordings"`).WillReturnError(boom)
	_, err := s.ListRecordings(ctx, "g1", 10)
	assert.ErrorIs(t, err, boom)

	mock.ExpectQuery(`SELECT \* FROM "recordings"`).WillReturnError(boom)
	_, err = s.GetRecording(ctx, "s1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, internal_type.ErrSessionNotFound)

	mock.ExpectQuery(`SELECT \* FROM "auto_join_settings"`).WillReturnError(boom)
	_, err = s.AutoJoinConfig(ctx, "g1")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Ping(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectPing()
	assert.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, s.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

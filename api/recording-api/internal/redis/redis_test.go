package internal_redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

func TestEventPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewEventPublisher(db, commons.NewNopLogger(), "")

	ev := internal_type.StopEvent{
		Session:   internal_type.SessionMetadata{ID: "s1", GroupID: "g1"},
		Artifacts: []string{"/rec/s1.wav"},
		At:        time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	payload, err := Payload(ev)
	require.NoError(t, err)
	mock.ExpectPublish(DefaultEventChannel, payload).SetVal(2)

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventPublisher_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewEventPublisher(db, commons.NewNopLogger(), "events")

	ev := internal_type.SpeakerJoinedEvent{ID: "s1", SpeakerID: "u1", At: time.Unix(0, 0).UTC()}
	payload, err := Payload(ev)
	require.NoError(t, err)
	mock.ExpectPublish("events", payload).SetErr(errors.New("connection refused"))

	err = p.Publish(context.Background(), ev)
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventPublisher_NoClient(t *testing.T) {
	p := NewEventPublisher(nil, commons.NewNopLogger(), "")
	assert.Error(t, p.Publish(context.Background(), internal_type.StartEvent{}))
}

func TestGroupLease_AcquireRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewGroupLease(db, commons.NewNopLogger(), time.Minute)
	owner := l.owner("s1")

	mock.ExpectSetNX(leaseKey("g1"), owner, time.Minute).SetVal(true)
	mock.ExpectSetNX(leaseKey("g1"), l.owner("s2"), time.Minute).SetVal(false)
	mock.ExpectEvalSha(refreshLuaScript.Hash(), []string{leaseKey("g1")}, owner, int64(60000)).SetVal(int64(1))
	mock.ExpectEvalSha(releaseLuaScript.Hash(), []string{leaseKey("g1")}, owner).SetVal(int64(1))

	ok, err := l.Acquire(context.Background(), "g1", "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(context.Background(), "g1", "s2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Refresh(context.Background(), "g1", "s1"))
	require.NoError(t, l.Release(context.Background(), "g1", "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupLease_RefreshLost(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewGroupLease(db, commons.NewNopLogger(), time.Minute)

	mock.ExpectEvalSha(refreshLuaScript.Hash(), []string{leaseKey("g1")}, l.owner("s1"), int64(60000)).SetVal(int64(0))
	assert.Error(t, l.Refresh(context.Background(), "g1", "s1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

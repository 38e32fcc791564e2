package internal_session

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_audio "github.com/rapidaai/recorder/api/recording-api/internal/audio"
	internal_encoder "github.com/rapidaai/recorder/api/recording-api/internal/audio/encoder"
	internal_transcoder "github.com/rapidaai/recorder/api/recording-api/internal/transcoder"
	transport_memory "github.com/rapidaai/recorder/api/recording-api/internal/transport/memory"
	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

type countingConverter struct{ calls atomic.Int32 }

func (c *countingConverter) Convert(context.Context, internal_type.ConvertRequest) error {
	c.calls.Add(1)
	return nil
}

// fullDisk rejects every write.
type fullDisk struct{}

func (fullDisk) Write([]byte) (int, error) { return 0, errors.New("no space left on device") }

type failingConverter struct{}

func (failingConverter) Convert(context.Context, internal_type.ConvertRequest) error {
	return errors.New("exit status 1")
}

func testOptions(t *testing.T) internal_type.RecordingOptions {
	return internal_type.RecordingOptions{
		SampleRate:       48000,
		Channels:         2,
		Bitrate:          128000,
		Format:           internal_type.FormatWAV,
		SilenceThreshold: -50,
		StorageRoot:      t.TempDir(),
	}
}

func testConfig() Config {
	return Config{
		ConnectTimeout:    2 * time.Second,
		ReconnectWindow:   100 * time.Millisecond,
		ConversionTimeout: 5 * time.Second,
		EventBuffer:       1024,
	}
}

func newSession(t *testing.T, tr *transport_memory.Transport, opts internal_type.RecordingOptions, conv internal_type.Converter, cfg Config) *Session {
	t.Helper()
	if conv == nil {
		conv = internal_transcoder.NewNativeConverter(commons.NewNopLogger())
	}
	return New(commons.NewNopLogger(), tr, conv, cfg, Params{
		GroupID:     "g1",
		ChannelID:   "v1",
		InitiatorID: "u1",
		Options:     opts,
	})
}

// drain collects events until the session closes its channel.
func drain(t *testing.T, s *Session) []internal_type.Event {
	t.Helper()
	var out []internal_type.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("session never emitted a terminal event")
			return out
		}
	}
}

func ofType(events []internal_type.Event, typ internal_type.EventType) []internal_type.Event {
	var out []internal_type.Event
	for _, ev := range events {
		if ev.Type() == typ {
			out = append(out, ev)
		}
	}
	return out
}

func wavDuration(t *testing.T, path string) time.Duration {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	info, err := internal_encoder.ParseWavHeader(data)
	require.NoError(t, err)
	return internal_audio.DurationOf(int64(info.DataSize), int(info.SampleRate), int(info.Channels))
}

func TestSession_StartStopDurationMatchesWallClock(t *testing.T) {
	tr := transport_memory.New()
	opts := testOptions(t)
	s := newSession(t, tr, opts, nil, testConfig())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, internal_type.SessionActive, s.State())
	time.Sleep(250 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	events := drain(t, s)
	require.Len(t, ofType(events, internal_type.EventStart), 1)
	stops := ofType(events, internal_type.EventStop)
	require.Len(t, stops, 1)

	meta := s.Metadata()
	assert.Equal(t, internal_type.SessionConverted, meta.State)
	require.Len(t, meta.Artifacts, 1)
	assert.Equal(t, filepath.Join(opts.StorageRoot, s.ID()+".wav"), meta.Artifacts[0])
	assert.NoFileExists(t, s.IntermediatePath())

	got := wavDuration(t, meta.Artifacts[0])
	assert.InDelta(t, meta.Duration().Seconds(), got.Seconds(), internal_audio.FrameDuration.Seconds())
	assert.True(t, tr.Last().Destroyed())
}

func TestSession_InvalidOptionsRejectedBeforeJoin(t *testing.T) {
	tr := transport_memory.New()
	opts := testOptions(t)
	opts.SampleRate = 44100
	s := newSession(t, tr, opts, nil, testConfig())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, internal_type.ErrInvalidOptions)
	assert.Empty(t, tr.Connections())
	assert.Equal(t, internal_type.SessionFailed, s.State())
	assert.Empty(t, drain(t, s))
	assert.NoFileExists(t, s.IntermediatePath())
}

func TestSession_StopTwiceEmitsOneStop(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	events := drain(t, s)
	assert.Len(t, ofType(events, internal_type.EventStop), 1)
	assert.Empty(t, ofType(events, internal_type.EventError))
	assert.Equal(t, 1, tr.Last().DestroyCount())
}

func TestSession_ConcurrentStopsEmitOneStop(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Stop(context.Background()))
		}()
	}
	wg.Wait()
	<-s.Done()
	assert.Len(t, ofType(drain(t, s), internal_type.EventStop), 1)
}

func TestSession_ConnectTimeout(t *testing.T) {
	tr := transport_memory.New()
	tr.HoldReady = true
	cfg := testConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond
	s := newSession(t, tr, testOptions(t), nil, cfg)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, internal_type.ErrConnectionTimeout)
	assert.Equal(t, internal_type.SessionFailed, s.State())
	assert.True(t, tr.Last().Destroyed())

	events := drain(t, s)
	require.Len(t, events, 1)
	failure := events[0].(internal_type.ErrorEvent)
	assert.Equal(t, internal_type.StageConnect, failure.Stage)
	assert.True(t, failure.Fatal)
}

func TestSession_JoinError(t *testing.T) {
	tr := transport_memory.New()
	tr.JoinErr = errors.New("missing permissions")
	s := newSession(t, tr, testOptions(t), nil, testConfig())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, internal_type.ErrConnectionError)
	assert.Len(t, drain(t, s), 1)
}

func TestSession_StopCancelsPendingConnect(t *testing.T) {
	tr := transport_memory.New()
	tr.HoldReady = true
	cfg := testConfig()
	cfg.ConnectTimeout = time.Minute
	s := newSession(t, tr, testOptions(t), nil, cfg)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()
	require.Eventually(t, func() bool { return tr.Last() != nil }, time.Second, 5*time.Millisecond)

	begin := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(begin), time.Second)

	assert.ErrorIs(t, <-started, internal_type.ErrSessionCancelled)
	assert.Equal(t, internal_type.SessionFailed, s.State())
	assert.True(t, tr.Last().Destroyed())
	events := drain(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, internal_type.EventError, events[0].Type())
}

func TestSession_SpeechIsRecorded(t *testing.T) {
	tr := transport_memory.New()
	opts := testOptions(t)
	s := newSession(t, tr, opts, nil, testConfig())
	require.NoError(t, s.Start(context.Background()))
	conn := tr.Last()

	conn.Speak("u2", true)
	require.Eventually(t, func() bool { return s.LiveSpeakers() == 1 }, time.Second, 5*time.Millisecond)
	frame := make([]byte, internal_audio.FrameBytes(48000, 2))
	for i := range frame {
		frame[i] = 0x40
	}
	for i := 0; i < 5; i++ {
		require.True(t, conn.Frame("u2", frame))
	}
	conn.Speak("u2", false)
	require.Eventually(t, func() bool { return s.LiveSpeakers() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	events := drain(t, s)
	joined := ofType(events, internal_type.EventSpeakerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "u2", joined[0].(internal_type.SpeakerJoinedEvent).SpeakerID)
	assert.Contains(t, s.Participants(), "u2")

	meta := s.Metadata()
	assert.Equal(t, 0x4040, meta.Stats.PeakAmplitude)
	assert.Equal(t, 0, conn.LiveStreams("u2"))
}

func TestSession_SeedsParticipantsFromChannel(t *testing.T) {
	tr := transport_memory.New()
	tr.Move("g1", "u1", false, "v1")
	tr.Move("g1", "bot", true, "v1")
	tr.Move("g1", "u9", false, "v2")
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, []string{"u1"}, s.Participants())
	assert.True(t, s.AddParticipant("u3"))
	assert.False(t, s.AddParticipant("u3"))
	require.NoError(t, s.Stop(context.Background()))

	events := drain(t, s)
	start := ofType(events, internal_type.EventStart)[0].(internal_type.StartEvent)
	assert.Equal(t, []string{"u1"}, start.Session.Participants)
	assert.Len(t, ofType(events, internal_type.EventSpeakerJoined), 1)
}

func TestSession_RandomizedSpeakingKeepsOneStreamPerSpeaker(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))
	conn := tr.Last()

	speakers := []string{"a", "b", "c"}
	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				id := speakers[rng.Intn(len(speakers))]
				switch rng.Intn(4) {
				case 0:
					s.OnSpeakerStart(id)
				case 1:
					s.OnSpeakerStop(id)
				case 2:
					conn.Speak(id, rng.Intn(2) == 0)
				default:
					conn.Fail(id, nil)
				}
			}
		}(int64(w))
	}
	wg.Wait()
	require.NoError(t, s.Stop(context.Background()))
	drain(t, s)

	for _, id := range speakers {
		assert.LessOrEqual(t, conn.MaxLiveStreams(id), 1, "speaker %s", id)
		assert.Equal(t, 0, conn.LiveStreams(id), "speaker %s", id)
	}
}

func TestSession_DecodeErrorIsContained(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))
	conn := tr.Last()

	s.OnSpeakerStart("a")
	s.OnSpeakerStart("b")
	conn.Fail("a", errors.New("corrupt opus packet"))
	require.Eventually(t, func() bool { return s.LiveSpeakers() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, internal_type.SessionActive, s.State())

	// a stale stream is replaced on the next start
	s.OnSpeakerStart("a")
	assert.Equal(t, 2, s.LiveSpeakers())
	require.NoError(t, s.Stop(context.Background()))

	events := drain(t, s)
	var decode []internal_type.ErrorEvent
	for _, ev := range ofType(events, internal_type.EventError) {
		decode = append(decode, ev.(internal_type.ErrorEvent))
	}
	require.Len(t, decode, 1)
	assert.Equal(t, internal_type.StageDecode, decode[0].Stage)
	assert.Equal(t, "a", decode[0].SpeakerID)
	assert.False(t, decode[0].Fatal)
	assert.ErrorIs(t, decode[0].Err, internal_type.ErrDecode)
	assert.Len(t, ofType(events, internal_type.EventStop), 1)
}

func TestSession_ReconnectWithinWindow(t *testing.T) {
	tr := transport_memory.New()
	cfg := testConfig()
	cfg.ReconnectWindow = time.Second
	s := newSession(t, tr, testOptions(t), nil, cfg)
	require.NoError(t, s.Start(context.Background()))
	conn := tr.Last()

	conn.EmitState(internal_type.ConnectionDisconnected)
	conn.EmitState(internal_type.ConnectionResuming)
	conn.EmitState(internal_type.ConnectionReady)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, internal_type.SessionActive, s.State())

	require.NoError(t, s.Stop(context.Background()))
	assert.Len(t, ofType(drain(t, s), internal_type.EventError), 0)
}

func TestSession_DisconnectBeyondWindowStops(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))

	tr.Last().EmitState(internal_type.ConnectionDisconnected)
	events := drain(t, s)

	errs := ofType(events, internal_type.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, internal_type.StageTransport, errs[0].(internal_type.ErrorEvent).Stage)
	assert.False(t, errs[0].Terminal())
	assert.Len(t, ofType(events, internal_type.EventStop), 1)
	assert.Equal(t, internal_type.SessionConverted, s.State())
}

func TestSession_ConversionFailureKeepsIntermediate(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), failingConverter{}, testConfig())
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(40 * time.Millisecond)

	err := s.Stop(context.Background())
	assert.ErrorIs(t, err, internal_type.ErrConversionFailure)
	assert.Equal(t, internal_type.SessionFailed, s.State())
	assert.FileExists(t, s.IntermediatePath())
	assert.True(t, tr.Last().Destroyed())

	events := drain(t, s)
	assert.Empty(t, ofType(events, internal_type.EventStop))
	errs := ofType(events, internal_type.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, internal_type.StageConvert, errs[0].(internal_type.ErrorEvent).Stage)
	assert.True(t, errs[0].Terminal())
}

func TestSession_SeparateSpeakerTracksShareTimeline(t *testing.T) {
	tr := transport_memory.New()
	opts := testOptions(t)
	opts.SeparateSpeakers = true
	s := newSession(t, tr, opts, nil, testConfig())
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(100 * time.Millisecond)
	s.OnSpeakerStart("u2")
	time.Sleep(20 * time.Millisecond)
	s.OnSpeakerStop("u2")
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
	drain(t, s)

	meta := s.Metadata()
	require.Len(t, meta.Artifacts, 2)
	assert.Equal(t, filepath.Join(opts.StorageRoot, s.ID()+"-u2.wav"), meta.Artifacts[1])
	session, speaker := wavDuration(t, meta.Artifacts[0]), wavDuration(t, meta.Artifacts[1])
	assert.InDelta(t, session.Seconds(), speaker.Seconds(), internal_audio.FrameDuration.Seconds())
	assert.InDelta(t, meta.Duration().Seconds(), speaker.Seconds(), internal_audio.FrameDuration.Seconds())
}

func TestSession_MaxDurationStops(t *testing.T) {
	tr := transport_memory.New()
	opts := testOptions(t)
	opts.MaxDuration = 100 * time.Millisecond
	s := newSession(t, tr, opts, nil, testConfig())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop at max duration")
	}
	assert.Equal(t, internal_type.SessionConverted, s.State())
	assert.Len(t, ofType(drain(t, s), internal_type.EventStop), 1)
}

func TestSession_StartTwice(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	drain(t, s)
}

func samplesFrame(v int16) []byte {
	samples := make([]int16, internal_audio.FrameBytes(48000, 2)/internal_audio.BytesPerSample)
	for i := range samples {
		samples[i] = v
	}
	return internal_audio.Bytes(samples)
}

func TestSession_OverlappingSpeakersShareWallClock(t *testing.T) {
	tr := transport_memory.New()
	s := newSession(t, tr, testOptions(t), nil, testConfig())
	require.NoError(t, s.Start(context.Background()))
	conn := tr.Last()

	conn.Speak("a", true)
	conn.Speak("b", true)
	require.Eventually(t, func() bool { return s.LiveSpeakers() == 2 }, time.Second, 5*time.Millisecond)

	frame := samplesFrame(4096)
	for i := 0; i < 50; i++ {
		require.True(t, conn.Frame("a", frame))
		require.True(t, conn.Frame("b", frame))
		time.Sleep(internal_audio.FrameDuration)
	}
	require.NoError(t, s.Stop(context.Background()))
	drain(t, s)

	meta := s.Metadata()
	require.Len(t, meta.Artifacts, 1)
	got := wavDuration(t, meta.Artifacts[0])
	assert.InDelta(t, meta.Duration().Seconds(), got.Seconds(), 3*internal_audio.FrameDuration.Seconds())
	// both speakers land in the same slots and sum
	assert.Equal(t, 8192, meta.Stats.PeakAmplitude)
}

func TestSession_SinkFailureIsFatal(t *testing.T) {
	tr := transport_memory.New()
	cfg := testConfig()
	cfg.OpenSink = func(_ string, opts internal_type.RecordingOptions) (internal_type.AudioEncoder, error) {
		return internal_encoder.NewRawEncoder(commons.NewNopLogger(), fullDisk{}, internal_encoder.ConfigFrom(opts)), nil
	}
	conv := &countingConverter{}
	s := newSession(t, tr, testOptions(t), conv, cfg)
	require.NoError(t, s.Start(context.Background()))

	events := drain(t, s)
	assert.Empty(t, ofType(events, internal_type.EventStop))
	errs := ofType(events, internal_type.EventError)
	require.Len(t, errs, 1)
	failure := errs[0].(internal_type.ErrorEvent)
	assert.Equal(t, internal_type.StageSink, failure.Stage)
	assert.True(t, failure.Fatal)
	assert.ErrorIs(t, failure.Err, internal_type.ErrSinkIO)

	<-s.Done()
	assert.Equal(t, internal_type.SessionFailed, s.State())
	assert.True(t, tr.Last().Destroyed())
	assert.Equal(t, int32(0), conv.calls.Load())
}

// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_manager

import (
	"context"
	"sync"
	"time"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
	"github.com/rapidaai/recorder/pkg/commons"
)

// broker fans events out to in-process subscribers.
type broker struct {
	logger commons.Logger
	mu     sync.Mutex
	next   int
	subs   map[int]chan internal_type.Event
	closed bool
}

func newBroker(logger commons.Logger) *broker {
	return &broker{logger: logger, subs: make(map[int]chan internal_type.Event)}
}

func (b *broker) subscribe(buffer int) (<-chan internal_type.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan internal_type.Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broker) broadcast(ev internal_type.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warnw("subscriber too slow, dropping event", "subscriber", id, "type", ev.Type(), "session", ev.SessionID())
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broker) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// sinkQueue is the backlog one event sink may fall behind by.
const sinkQueue = 256

// sinkWorker delivers events to one sink on its own goroutine, so a slow or
// unreachable sink never holds up session events.
type sinkWorker struct {
	logger  commons.Logger
	sink    EventSink
	timeout time.Duration
	queue   chan internal_type.Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newSinkWorker(logger commons.Logger, sink EventSink, timeout time.Duration) *sinkWorker {
	w := &sinkWorker{
		logger:  logger,
		sink:    sink,
		timeout: timeout,
		queue:   make(chan internal_type.Event, sinkQueue),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.sink.Publish(ctx, ev); err != nil {
			w.logger.Warnw("failed to publish session event", "session", ev.SessionID(), "type", ev.Type(), "error", err)
		}
		cancel()
	}
}

func (w *sinkWorker) offer(ev internal_type.Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- ev:
	default:
		w.logger.Warnw("event sink too slow, dropping event", "type", ev.Type(), "session", ev.SessionID())
	}
}

// close stops accepting events and waits for the backlog until ctx is done.
func (w *sinkWorker) close(ctx context.Context) {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
	case <-ctx.Done():
	}
}

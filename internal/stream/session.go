// internal/stream/session.go
package stream

import (
	"context"
	"errors"
	"log"
	"sync"

	"council/internal/council"
	"council/internal/store"
)

// RunFunc is the stage work a session supervises, typically a pipeline run.
type RunFunc func(ctx context.Context, emit council.EmitFunc) error

// Session owns one request's event stream and its persistence lifecycle.
//
// Whatever stage output exists in the accumulated turn when the run exits —
// normally, by error, or because the client disconnected mid-stage — is
// flushed to the store exactly once. Cancellation is re-propagated to the
// caller after cleanup so supervisors observe the run as cancelled, never as
// silently succeeded.
type Session struct {
	store  store.Store
	convID string
	events chan council.Event

	ctx  context.Context
	turn *council.Turn

	mu        sync.Mutex
	persisted bool
}

func NewSession(st store.Store, convID string) *Session {
	return &Session{
		store:  st,
		convID: convID,
		events: make(chan council.Event, 16),
	}
}

// Events is the ordered progress stream. It is closed when Run returns.
func (s *Session) Events() <-chan council.Event {
	return s.events
}

// Run executes fn, flushing accumulated results on every exit path. turn is
// the accumulator fn fills as stages complete; the session reads it during
// cleanup, which is why partial progress survives a disconnect.
func (s *Session) Run(ctx context.Context, turn *council.Turn, fn RunFunc) error {
	s.ctx = ctx
	s.turn = turn
	defer close(s.events)

	err := fn(ctx, s.Emit)

	// Cleanup before anything propagates. Stage runners have already awaited
	// their tasks by the time fn returns, so nothing races this flush.
	s.flush()

	switch {
	case err == nil:
		s.Emit(council.Event{Type: council.EventComplete})
		return nil
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The cancellation signal is never swallowed by cleanup.
		return err
	default:
		s.Emit(council.Event{Type: council.EventError, Message: err.Error()})
		return err
	}
}

// Emit forwards an event to the client stream. A consumer that stopped
// reading does not wedge the pipeline: once the request context is done,
// events are dropped.
func (s *Session) Emit(ev council.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// flush appends the assistant turn at most once. Persistence happens only if
// stage 1 produced output; an untouched turn (e.g. failure before any model
// responded) stores nothing.
func (s *Session) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persisted || len(s.turn.Stage1) == 0 {
		return
	}
	s.persisted = true

	if _, err := s.store.AppendAssistant(s.convID, s.turn.Stage1, s.turn.Stage2, s.turn.Stage3, s.turn.Metadata); err != nil {
		log.Printf("[stream] persist conversation %s failed: %v", s.convID, err)
	}
}

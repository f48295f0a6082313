package activity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	corelog "sessionmux-core/internal/core/log"
)

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *memorySink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func TestAsyncRecorder_WritesAndFillsDefaults(t *testing.T) {
	sink := &memorySink{}
	r := NewAsyncRecorder(sink, 1, 8, corelog.NewNopLogger())

	r.Record(Entry{Owner: "A", Device: "1", Action: ActionConnected})
	r.Record(Entry{Owner: "A", Device: "1", Action: ActionDeleted, Detail: "loggedOut"})
	r.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.entries, 2)
	for _, e := range sink.entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Time.IsZero())
	}
}

func TestAsyncRecorder_SinkFailureIsSwallowed(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	r := NewAsyncRecorder(sink, 1, 8, corelog.NewNopLogger())
	r.Record(Entry{Owner: "A", Device: "1", Action: ActionRestarted})
	r.Close()
	assert.Empty(t, sink.entries)
}

func TestAsyncRecorder_DropsAfterClose(t *testing.T) {
	sink := &memorySink{}
	r := NewAsyncRecorder(sink, 1, 8, corelog.NewNopLogger())
	r.Close()
	r.Record(Entry{Owner: "A", Device: "1", Action: ActionConnected})
	assert.Empty(t, sink.entries)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{Logger: corelog.NewTestLogger(t)}.Write(context.Background(),
		Entry{Owner: "A", Device: "1", Action: ActionRegistered}))
}

package agentrunner_test

import (
	"context"
	"errors"
	"sync"

	"github.com/nanoclaw/host/internal/agentrunner"
)

// fakeSession is a minimal agentrunner.Session double: each Push call
// returns the next scripted batch of events (closing the channel
// immediately after), recording every message it was pushed.
type fakeSession struct {
	mu       sync.Mutex
	pushed   []string
	batches  [][]agentrunner.Event
	closed   bool
	pushErr  error
}

func (s *fakeSession) Push(ctx context.Context, message string) (<-chan agentrunner.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, message)
	if s.pushErr != nil {
		return nil, s.pushErr
	}
	ch := make(chan agentrunner.Event, 8)
	var batch []agentrunner.Event
	if len(s.batches) > 0 {
		batch = s.batches[0]
		s.batches = s.batches[1:]
	}
	for _, ev := range batch {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// scriptedFactory returns a SessionFactory that hands out sessions keyed by
// apiKey, failing for any apiKey present in failFor with the given error.
func scriptedFactory(failFor map[string]error, batches [][]agentrunner.Event) agentrunner.SessionFactory {
	return func(ctx context.Context, apiKey, model, sessionID string) (agentrunner.Session, error) {
		if err, bad := failFor[apiKey]; bad {
			return nil, err
		}
		return &fakeSession{batches: batches}, nil
	}
}

var errBoom = errors.New("boom")

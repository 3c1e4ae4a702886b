package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rollcall-app/rollcall/internal/model"
)

// DefaultDebounce is the window within which a second submission for the
// same record key is treated as an accidental double-invocation and
// discarded rather than queued.
const DefaultDebounce = 400 * time.Millisecond

// ErrDebounced is returned for a submission discarded by the rapid-toggle
// window.  It is not a failure: the first submission is still in flight
// and its outcome stands.
var ErrDebounced = errors.New("submission discarded: duplicate within debounce window")

// SubmitFunc performs one persistence attempt for a single change.
type SubmitFunc func(ctx context.Context, change model.PendingChange) (model.SubmitResult, error)

// Outcome is the terminal result of one submission.
type Outcome struct {
	Change model.PendingChange
	Result model.SubmitResult
	Err    error
}

// Serializer guarantees at most one in-flight persistence attempt per
// person.  A new submission for a person runs only after the prior one
// completed (success or failure), so two near-simultaneous toggles can
// never produce out-of-order requests that leave the remote state
// inconsistent with the last user intent.  Submissions for different
// people proceed fully in parallel.
type Serializer struct {
	mu    sync.Mutex
	tails map[uint64]chan struct{} // personID -> done channel of the newest task
	last  map[model.RecordKey]int64

	debounce  time.Duration
	nowMillis func() int64
	submit    SubmitFunc
}

// NewSerializer builds a serializer over the given submit function.  A
// zero debounce selects the default window.
func NewSerializer(submit SubmitFunc, nowMillis func() int64, debounce time.Duration) *Serializer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Serializer{
		tails:     make(map[uint64]chan struct{}),
		last:      make(map[model.RecordKey]int64),
		debounce:  debounce,
		nowMillis: nowMillis,
		submit:    submit,
	}
}

// Submit schedules a persistence attempt for the change and returns a
// channel that yields exactly one Outcome.  Calls for the same key within
// the debounce window yield ErrDebounced immediately; otherwise the
// attempt is chained behind any in-flight attempt for the same person.
// Chain order equals call order: the tail swap below happens under the
// lock, before Submit returns.
func (s *Serializer) Submit(ctx context.Context, change model.PendingChange) <-chan Outcome {
	out := make(chan Outcome, 1)
	key := change.Key()
	now := s.nowMillis()

	s.mu.Lock()
	if prev, ok := s.last[key]; ok && now-prev < s.debounce.Milliseconds() {
		s.mu.Unlock()
		out <- Outcome{Change: change, Err: ErrDebounced}
		return out
	}
	s.last[key] = now

	prev := s.tails[change.PersonID]
	done := make(chan struct{})
	s.tails[change.PersonID] = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		result, err := s.submit(ctx, change)
		out <- Outcome{Change: change, Result: result, Err: err}

		s.mu.Lock()
		if s.tails[change.PersonID] == done {
			delete(s.tails, change.PersonID)
		}
		s.mu.Unlock()
	}()
	return out
}

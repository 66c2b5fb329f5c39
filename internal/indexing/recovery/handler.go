package recovery

import (
	"sync"
	"time"
)

// Tracker gates work per key (an address or a data source) behind the
// backoff delay of its consecutive failures. Once MaxAttempts is reached the
// key is held at the strategy's largest delay instead of being dropped, so
// a watched address is never abandoned.
type Tracker struct {
	strategy RetryStrategy
	maxDelay time.Duration

	mu    sync.Mutex
	state map[string]*failureState
	now   func() time.Time
}

type failureState struct {
	attempts  int
	lastError error
	notBefore time.Time
}

// State is a read-only view of a key's failure state.
type State struct {
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	NotBefore time.Time `json:"not_before"`
}

// NewTracker creates a tracker. now may be nil.
func NewTracker(strategy RetryStrategy, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	t := &Tracker{
		strategy: strategy,
		state:    make(map[string]*failureState),
		now:      now,
	}
	if eb, ok := strategy.(*ExponentialBackoff); ok {
		t.maxDelay = eb.MaxDelay
	}
	return t
}

// Allow reports whether key may be attempted now.
func (t *Tracker) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[key]
	if !ok {
		return true
	}
	return !t.now().Before(st.notBefore)
}

// Failure records a failed attempt and returns the delay before the next one.
func (t *Tracker) Failure(key string, err error) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[key]
	if !ok {
		st = &failureState{}
		t.state[key] = st
	}

	var delay time.Duration
	if t.strategy.ShouldRetry(err, st.attempts) {
		delay = t.strategy.GetDelay(st.attempts)
	} else {
		delay = t.maxDelay
		if delay == 0 {
			delay = t.strategy.GetDelay(st.attempts)
		}
	}

	st.attempts++
	st.lastError = err
	st.notBefore = t.now().Add(delay)
	return delay
}

// Success clears the failure state of key.
func (t *Tracker) Success(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.state, key)
}

// Forget drops key, e.g. when an address is no longer watched.
func (t *Tracker) Forget(key string) {
	t.Success(key)
}

// Get returns the failure state of key, if any.
func (t *Tracker) Get(key string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.state[key]
	if !ok {
		return State{}, false
	}
	out := State{Attempts: st.attempts, NotBefore: st.notBefore}
	if st.lastError != nil {
		out.LastError = st.lastError.Error()
	}
	return out, true
}

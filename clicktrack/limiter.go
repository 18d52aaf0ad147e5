package clicktrack

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errMissingBaseURL = errors.New("clicktrack: BaseURL is required")

// limiterState is the JSON shape persisted to the state file. Timestamps
// marshal as RFC 3339, so the file stays inspectable by hand.
type limiterState struct {
	SessionID string                 `json:"session_id"`
	Hits      map[string][]time.Time `json:"hits"`
}

// limiter is a per-guide sliding-window limiter whose state survives
// restarts via a small JSON file. Every failure path fails open: a state
// file that cannot be read, parsed, or written never blocks a click.
type limiter struct {
	mu      sync.Mutex
	path    string
	max     int
	window  time.Duration
	now     func() time.Time
	session string
	hits    map[string][]time.Time
}

func newLimiter(path string, max int, window time.Duration) *limiter {
	l := &limiter{
		path:   path,
		max:    max,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
	l.load()
	if l.session == "" {
		l.session = uuid.NewString()
		l.save()
	}
	return l
}

// load restores prior state. Anything unreadable is treated as no state.
func (l *limiter) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var st limiterState
	if err := json.Unmarshal(data, &st); err != nil {
		return
	}
	l.session = st.SessionID
	if st.Hits != nil {
		l.hits = st.Hits
	}
}

// save persists the current state, best-effort.
func (l *limiter) save() {
	data, err := json.Marshal(limiterState{SessionID: l.session, Hits: l.hits})
	if err != nil {
		return
	}
	if dir := filepath.Dir(l.path); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	os.WriteFile(l.path, data, 0o644)
}

// allow prunes expired hits for guideID, checks the cap, and records the
// click when under it. State is persisted on every recorded hit so a rapid
// restart cannot reset the budget.
func (l *limiter) allow(guideID string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hits[guideID]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.max {
		l.hits[guideID] = kept
		return false
	}
	l.hits[guideID] = append(kept, now)
	l.save()
	return true
}

func (l *limiter) sessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

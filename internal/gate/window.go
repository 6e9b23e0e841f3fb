package gate

import (
	"strings"
	"sync"
	"time"
)

// Window is the bounded rolling window of armed-state utterances awaiting
// wake classification. Oldest entries are evicted first. It is safe for
// concurrent use so that the orchestrator can clear it from Stop.
type Window struct {
	mu               sync.Mutex
	max              int
	items            []string
	lastClassifiedAt time.Time
}

// NewWindow creates a window holding at most max utterances.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = DefaultWindowSize
	}
	return &Window{max: max}
}

// Add appends a trimmed utterance; blanks are ignored.
func (w *Window) Add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, text)
	if over := len(w.items) - w.max; over > 0 {
		w.items = append(w.items[:0], w.items[over:]...)
	}
}

// Joined returns the utterances joined by single spaces.
func (w *Window) Joined() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.items, " ")
}

// Len returns the number of buffered utterances.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// Clear empties the window.
func (w *Window) Clear() {
	w.mu.Lock()
	w.items = w.items[:0]
	w.mu.Unlock()
}

// MarkClassified records when the window was last submitted and clears it.
func (w *Window) MarkClassified(t time.Time) {
	w.mu.Lock()
	w.lastClassifiedAt = t
	w.items = w.items[:0]
	w.mu.Unlock()
}

// LastClassifiedAt returns when the window was last submitted, or the zero time.
func (w *Window) LastClassifiedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastClassifiedAt
}

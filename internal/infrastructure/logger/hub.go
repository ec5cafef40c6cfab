package logger

import (
	"strings"
	"sync"
)

// Hub fans log lines out to live subscribers and keeps a short backlog
// so a new subscriber sees recent activity.
type Hub struct {
	mu      sync.Mutex
	backlog []string
	size    int
	next    int
	full    bool
	subs    map[chan string]struct{}
}

func NewHub(backlog int) *Hub {
	if backlog <= 0 {
		backlog = 100
	}
	return &Hub{
		backlog: make([]string, backlog),
		size:    backlog,
		subs:    make(map[chan string]struct{}),
	}
}

// Write implements io.Writer for zapcore. A slow subscriber misses lines
// rather than blocking the logger.
func (h *Hub) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		h.backlog[h.next] = line
		h.next = (h.next + 1) % h.size
		if h.next == 0 {
			h.full = true
		}
		for ch := range h.subs {
			select {
			case ch <- line:
			default:
			}
		}
	}
	return len(p), nil
}

func (h *Hub) Sync() error { return nil }

// Subscribe returns the backlog and a channel of new lines. cancel must be called.
func (h *Hub) Subscribe() (recent []string, lines <-chan string, cancel func()) {
	ch := make(chan string, 256)
	h.mu.Lock()
	recent = h.recentLocked()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
	return recent, ch, cancel
}

func (h *Hub) recentLocked() []string {
	if !h.full {
		return append([]string(nil), h.backlog[:h.next]...)
	}
	out := make([]string, 0, h.size)
	out = append(out, h.backlog[h.next:]...)
	return append(out, h.backlog[:h.next]...)
}

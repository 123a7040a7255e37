package session

// History is the trail of images visited in one session. Back and forward
// only move the cursor; entries are never truncated.
type History struct {
	items  []string
	cursor int
}

// NewHistory returns an empty trail
func NewHistory() *History {
	return &History{cursor: -1}
}

// Len returns the number of visited images
func (h *History) Len() int { return len(h.items) }

// Cursor returns the current position, -1 when empty
func (h *History) Cursor() int { return h.cursor }

// Items returns a copy of the trail
func (h *History) Items() []string {
	return append([]string(nil), h.items...)
}

// Current returns the image at the cursor
func (h *History) Current() (string, bool) {
	return h.Peek(0)
}

// Peek returns the image delta steps away from the cursor without moving it.
func (h *History) Peek(delta int) (string, bool) {
	i := h.cursor + delta
	if h.cursor < 0 || i < 0 || i >= len(h.items) {
		return "", false
	}
	return h.items[i], true
}

// Move shifts the cursor by delta if the target exists
func (h *History) Move(delta int) bool {
	if _, ok := h.Peek(delta); !ok {
		return false
	}
	h.cursor += delta
	return true
}

// CanBack reports whether an earlier entry exists
func (h *History) CanBack() bool { return h.cursor > 0 }

// CanForward reports whether a later entry exists
func (h *History) CanForward() bool { return h.cursor >= 0 && h.cursor < len(h.items)-1 }

// Push records a freshly assigned image. It is appended unless it equals the
// tail, and the cursor moves to the end either way.
func (h *History) Push(name string) {
	if n := len(h.items); n == 0 || h.items[n-1] != name {
		h.items = append(h.items, name)
	}
	h.cursor = len(h.items) - 1
}

// Package ledger hands out unclaimed pool images to annotators so that no
// image has two active assignees.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/menta2k/labelpool/internal/utils"
)

var (
	// ErrPoolExhausted means every image is either completed or held by
	// someone else. It is a terminal state, not a failure.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrEmptyUser is returned for a blank annotator name.
	ErrEmptyUser = errors.New("user name is required")
)

// Pool is the image source the ledger scans.
type Pool interface {
	// Images returns image names in a stable order.
	Images() ([]string, error)
	// Completed returns the stems of images that already have labels.
	Completed() (map[string]bool, error)
}

// Entry is one active assignment
type Entry struct {
	User       string
	Image      string
	AssignedAt time.Time
}

// Ledger tracks which image each annotator currently holds.
type Ledger struct {
	pool   Pool
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Entry
}

// Option configures a Ledger
type Option func(*Ledger)

// WithClock overrides the time source used to stamp assignments
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the logger that records assignments and releases
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New creates an empty ledger over pool.
func New(pool Pool, opts ...Option) *Ledger {
	l := &Ledger{
		pool:    pool,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AssignNext returns the image user should work on. A user whose current
// image is still unlabeled gets the same image again; otherwise the first
// image in pool order that is neither completed nor held by anyone is
// recorded for the user and returned.
func (l *Ledger) AssignNext(user string) (string, error) {
	if strings.TrimSpace(user) == "" {
		return "", ErrEmptyUser
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	completed, err := l.pool.Completed()
	if err != nil {
		return "", fmt.Errorf("failed to read completed set: %w", err)
	}

	if held, ok := l.entries[user]; ok && !completed[utils.Stem(held.Image)] {
		l.logger.Info("re-issuing held image", "user", user, "image", held.Image)
		return held.Image, nil
	}

	images, err := l.pool.Images()
	if err != nil {
		return "", fmt.Errorf("failed to list pool: %w", err)
	}

	assigned := make(map[string]bool, len(l.entries))
	for _, e := range l.entries {
		assigned[e.Image] = true
	}

	for _, img := range images {
		if completed[utils.Stem(img)] || assigned[img] {
			continue
		}
		l.entries[user] = Entry{User: user, Image: img, AssignedAt: l.now()}
		l.logger.Info("assigning image", "user", user, "image", img)
		return img, nil
	}
	return "", ErrPoolExhausted
}

// Release drops the user's entry if it still points at image. A stale
// release for an older image is ignored.
func (l *Ledger) Release(user, image string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[user]
	if !ok || e.Image != image {
		return false
	}
	delete(l.entries, user)
	l.logger.Info("released image", "user", user, "image", image, "held", l.now().Sub(e.AssignedAt).Round(time.Second))
	return true
}

// Holder returns the image currently held by user
func (l *Ledger) Holder(user string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[user]
	return e.Image, ok
}

// Snapshot returns the active entries ordered by user name.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}

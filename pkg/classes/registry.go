// Package classes keeps the annotator's list of known class names, their
// display colors and the class used for newly drawn boxes.
package classes

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// DefaultClass is registered in every new registry
const DefaultClass = "object"

// DefaultColor is the color of DefaultClass
const DefaultColor = "#FF0000"

// Registry is an ordered set of classes. The order is presentation order
// only; lookups do not depend on it.
type Registry struct {
	mu      sync.RWMutex
	names   []string
	colors  map[string]string
	current int
	rng     *rand.Rand
}

// New creates a registry holding DefaultClass. Colors of later classes are
// drawn from a generator seeded with seed.
func New(seed uint64) *Registry {
	return &Registry{
		names:  []string{DefaultClass},
		colors: map[string]string{DefaultClass: DefaultColor},
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Ensure registers name if unknown and returns its color.
func (r *Registry) Ensure(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.colors[name]; ok {
		return c
	}
	c := fmt.Sprintf("#%06X", r.rng.IntN(0x1000000))
	r.names = append(r.names, name)
	r.colors[name] = c
	return c
}

// Add registers a new class. It reports false for blank or known names.
func (r *Registry) Add(name string) bool {
	if name == "" || r.Has(name) {
		return false
	}
	r.Ensure(name)
	return true
}

// Remove deletes a class from the list. Boxes already using it keep the name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.names {
		if n != name {
			continue
		}
		r.names = append(r.names[:i], r.names[i+1:]...)
		delete(r.colors, name)
		if r.current >= len(r.names) {
			r.current = len(r.names) - 1
		}
		if r.current < 0 {
			r.current = 0
		}
		return true
	}
	return false
}

// Has reports whether name is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.colors[name]
	return ok
}

// Color returns the display color of name, or DefaultColor for unknown names
func (r *Registry) Color(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.colors[name]; ok {
		return c
	}
	return DefaultColor
}

// Names returns the classes in presentation order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Current returns the class applied to newly drawn boxes. An empty registry
// falls back to DefaultClass.
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.names) == 0 {
		return DefaultClass
	}
	return r.names[r.current]
}

// Select makes name the current class
func (r *Registry) Select(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.names {
		if n == name {
			r.current = i
			return true
		}
	}
	return false
}

// Prev moves the selection one entry up the list
func (r *Registry) Prev() string {
	r.mu.Lock()
	if r.current > 0 {
		r.current--
	}
	r.mu.Unlock()
	return r.Current()
}

// Next moves the selection one entry down the list
func (r *Registry) Next() string {
	r.mu.Lock()
	if r.current < len(r.names)-1 {
		r.current++
	}
	r.mu.Unlock()
	return r.Current()
}

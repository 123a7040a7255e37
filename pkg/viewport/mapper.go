// Package viewport maps between a letterboxed on-screen display and the
// pixel space of the image shown in it.
package viewport

import (
	"errors"
	"math"
)

// MinViewport is the smallest display dimension the mapper accepts.
const MinViewport = 10

// ErrNotReady is returned by the transforms while the viewport is degenerate.
var ErrNotReady = errors.New("viewport: not ready")

// Point is a 2D coordinate
type Point struct {
	X float64
	Y float64
}

// Mapper holds the uniform scale and centering offsets for one image inside
// one viewport.
type Mapper struct {
	imageW, imageH float64
	viewW, viewH   float64
	scale          float64
	offsetX        float64
	offsetY        float64
	ready          bool
}

// New creates a mapper for an image of the given pixel dimensions. It stays
// not ready until Resize is called with a usable viewport.
func New(imageW, imageH int) *Mapper {
	return &Mapper{imageW: float64(imageW), imageH: float64(imageH)}
}

// Resize recomputes the transform for a new viewport size.
func (m *Mapper) Resize(viewW, viewH float64) {
	m.viewW, m.viewH = viewW, viewH
	if viewW < MinViewport || viewH < MinViewport || m.imageW <= 0 || m.imageH <= 0 {
		m.ready = false
		return
	}
	m.scale = math.Min(viewW/m.imageW, viewH/m.imageH)
	m.offsetX = (viewW - m.imageW*m.scale) / 2
	m.offsetY = (viewH - m.imageH*m.scale) / 2
	m.ready = true
}

// SetImage switches to a new image and recomputes for the current viewport.
func (m *Mapper) SetImage(imageW, imageH int) {
	m.imageW, m.imageH = float64(imageW), float64(imageH)
	m.Resize(m.viewW, m.viewH)
}

// Ready reports whether the transforms can be used
func (m *Mapper) Ready() bool { return m.ready }

// Scale returns the display units per image pixel
func (m *Mapper) Scale() float64 { return m.scale }

// Offset returns the top-left corner of the displayed image in the viewport
func (m *Mapper) Offset() Point { return Point{X: m.offsetX, Y: m.offsetY} }

// DisplaySize returns the size of the scaled image on screen
func (m *Mapper) DisplaySize() (float64, float64) {
	return m.imageW * m.scale, m.imageH * m.scale
}

// ToScreen converts an image-space point to viewport coordinates.
func (m *Mapper) ToScreen(p Point) (Point, error) {
	if !m.ready {
		return Point{}, ErrNotReady
	}
	return Point{X: p.X*m.scale + m.offsetX, Y: p.Y*m.scale + m.offsetY}, nil
}

// ToImage converts a viewport point to image space.
func (m *Mapper) ToImage(p Point) (Point, error) {
	if !m.ready {
		return Point{}, ErrNotReady
	}
	return Point{X: (p.X - m.offsetX) / m.scale, Y: (p.Y - m.offsetY) / m.scale}, nil
}

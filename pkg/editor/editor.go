// Package editor implements the pointer-driven state machine used to draw,
// select, move, resize and delete boxes over a scaled image display. It has
// no presentation dependency: callers feed it viewport coordinates and read
// back the label set, the selection and the creation preview.
package editor

import (
	"github.com/menta2k/labelpool/pkg/types"
	"github.com/menta2k/labelpool/pkg/viewport"
)

const (
	// HandleRadius is the corner grab distance in display units.
	HandleRadius = 10.0
	// MinBoxSize is the size a new box must exceed on both axes, in image units.
	MinBoxSize = 5.0
)

// Mode is the current interaction state
type Mode int

const (
	ModeIdle Mode = iota
	ModeCreating
	ModeMoving
	ModeResizing
)

func (m Mode) String() string {
	switch m {
	case ModeCreating:
		return "creating"
	case ModeMoving:
		return "moving"
	case ModeResizing:
		return "resizing"
	default:
		return "none"
	}
}

// Handle is the part of a box under the pointer
type Handle int

const (
	HandleNone Handle = iota
	HandleTopLeft
	HandleTopRight
	HandleBottomLeft
	HandleBottomRight
	HandleBody
)

func (h Handle) isCorner() bool {
	return h >= HandleTopLeft && h <= HandleBottomRight
}

// Cursor is the pointer shape a presentation layer should show
type Cursor int

const (
	CursorDraw Cursor = iota
	CursorArrow
	CursorMove
	CursorResize
)

// ClassSource supplies the class applied to newly drawn boxes
type ClassSource interface {
	Current() string
}

type dragState struct {
	mode   Mode
	index  int
	handle Handle
	last   viewport.Point // screen
	anchor viewport.Point // image space, creating only
	cursor viewport.Point // screen, creating only
}

// Editor mutates one label set in response to pointer events.
type Editor struct {
	mapper   *viewport.Mapper
	labels   *types.LabelSet
	classes  ClassSource
	editMode bool
	selected int
	drag     dragState
}

// New creates an editor over labels. The label set pointer is expected to
// stay valid while its content is replaced on navigation.
func New(mapper *viewport.Mapper, labels *types.LabelSet, classes ClassSource) *Editor {
	return &Editor{
		mapper:   mapper,
		labels:   labels,
		classes:  classes,
		selected: -1,
		drag:     dragState{index: -1},
	}
}

// Mode returns the current interaction state
func (e *Editor) Mode() Mode { return e.drag.mode }

// EditMode reports whether the edit modifier is held
func (e *Editor) EditMode() bool { return e.editMode }

// Selected returns the highlighted box index
func (e *Editor) Selected() (int, bool) {
	if e.selected < 0 || e.selected >= e.labels.Len() {
		return -1, false
	}
	return e.selected, true
}

// SetEditMode toggles the modifier that turns presses on boxes into
// move/resize instead of create. Turning it off clears the selection.
func (e *Editor) SetEditMode(on bool) {
	e.editMode = on
	if !on {
		e.selected = -1
	}
}

// Reset drops the selection and any in-progress interaction. Call it when
// the label set is replaced.
func (e *Editor) Reset() {
	e.selected = -1
	e.drag = dragState{index: -1}
}

// Locate hit-tests a viewport point against the label set, topmost box
// first. Corner handles win over the body of the same box.
func (e *Editor) Locate(screen viewport.Point) (int, Handle) {
	p, err := e.mapper.ToImage(screen)
	if err != nil {
		return -1, HandleNone
	}
	tol := HandleRadius / e.mapper.Scale()

	for i := e.labels.Len() - 1; i >= 0; i-- {
		b := e.labels.Boxes[i].Box
		switch {
		case near(p.X, b.X1, tol) && near(p.Y, b.Y1, tol):
			return i, HandleTopLeft
		case near(p.X, b.X2, tol) && near(p.Y, b.Y1, tol):
			return i, HandleTopRight
		case near(p.X, b.X1, tol) && near(p.Y, b.Y2, tol):
			return i, HandleBottomLeft
		case near(p.X, b.X2, tol) && near(p.Y, b.Y2, tol):
			return i, HandleBottomRight
		case b.Contains(p.X, p.Y):
			return i, HandleBody
		}
	}
	return -1, HandleNone
}

// PointerDown starts an interaction.
func (e *Editor) PointerDown(screen viewport.Point) {
	if !e.mapper.Ready() {
		return
	}
	if e.editMode {
		if idx, h := e.Locate(screen); idx >= 0 {
			e.selected = idx
			mode := ModeMoving
			if h.isCorner() {
				mode = ModeResizing
			}
			e.drag = dragState{mode: mode, index: idx, handle: h, last: screen}
			return
		}
	}

	anchor, _ := e.mapper.ToImage(screen)
	e.drag = dragState{mode: ModeCreating, index: -1, anchor: anchor, last: screen, cursor: screen}
}

// PointerDrag advances the active interaction to a new pointer position.
func (e *Editor) PointerDrag(screen viewport.Point) {
	switch e.drag.mode {
	case ModeCreating:
		e.drag.cursor = screen
	case ModeMoving, ModeResizing:
		if e.drag.index < 0 || e.drag.index >= e.labels.Len() {
			e.drag = dragState{index: -1}
			return
		}
		if !e.mapper.Ready() {
			return
		}
		s := e.mapper.Scale()
		if s == 0 {
			return
		}
		dx := (screen.X - e.drag.last.X) / s
		dy := (screen.Y - e.drag.last.Y) / s
		e.drag.last = screen

		l := &e.labels.Boxes[e.drag.index]
		if e.drag.mode == ModeMoving {
			l.Box = l.Box.Translate(dx, dy)
			return
		}
		b := l.Box
		switch e.drag.handle {
		case HandleTopLeft:
			b.X1 += dx
			b.Y1 += dy
		case HandleTopRight:
			b.X2 += dx
			b.Y1 += dy
		case HandleBottomLeft:
			b.X1 += dx
			b.Y2 += dy
		case HandleBottomRight:
			b.X2 += dx
			b.Y2 += dy
		}
		l.Box = b.Normalize()
	}
}

// PointerUp finishes the active interaction. A created box is kept only if
// both sides exceed MinBoxSize; it then becomes the selection.
func (e *Editor) PointerUp(screen viewport.Point) {
	defer func() { e.drag = dragState{index: -1} }()

	if e.drag.mode != ModeCreating {
		return
	}
	end, err := e.mapper.ToImage(screen)
	if err != nil {
		return
	}
	box := types.BoundingBox{X1: e.drag.anchor.X, Y1: e.drag.anchor.Y, X2: end.X, Y2: end.Y}.Normalize()
	if box.Width() <= MinBoxSize || box.Height() <= MinBoxSize {
		return
	}
	e.selected = e.labels.Append(types.LabeledBox{Class: e.classes.Current(), Box: box})
}

// Secondary deletes the topmost box whose body contains the point.
func (e *Editor) Secondary(screen viewport.Point) bool {
	p, err := e.mapper.ToImage(screen)
	if err != nil {
		return false
	}
	for i := e.labels.Len() - 1; i >= 0; i-- {
		if e.labels.Boxes[i].Box.Contains(p.X, p.Y) {
			e.labels.Remove(i)
			e.selected = -1
			return true
		}
	}
	return false
}

// Preview returns the rectangle being drawn, in viewport coordinates.
func (e *Editor) Preview() (types.BoundingBox, bool) {
	if e.drag.mode != ModeCreating {
		return types.BoundingBox{}, false
	}
	a, err := e.mapper.ToScreen(e.drag.anchor)
	if err != nil {
		return types.BoundingBox{}, false
	}
	return types.BoundingBox{X1: a.X, Y1: a.Y, X2: e.drag.cursor.X, Y2: e.drag.cursor.Y}, true
}

// Hover returns the cursor hint for a pointer resting at screen.
func (e *Editor) Hover(screen viewport.Point) Cursor {
	if !e.editMode {
		return CursorDraw
	}
	_, h := e.Locate(screen)
	switch {
	case h.isCorner():
		return CursorResize
	case h == HandleBody:
		return CursorMove
	default:
		return CursorArrow
	}
}

func near(a, b, tol float64) bool {
	d := a - b
	return d < tol && d > -tol
}

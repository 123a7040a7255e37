package types

import (
	"encoding/json"
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned rectangle given by its top-left (X1,Y1) and
// bottom-right (X2,Y2) corners. Pixel space unless stated otherwise.
type BoundingBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Normalize returns the box with corners reordered so that X1<=X2 and Y1<=Y2.
func (b BoundingBox) Normalize() BoundingBox {
	return BoundingBox{
		X1: math.Min(b.X1, b.X2),
		Y1: math.Min(b.Y1, b.Y2),
		X2: math.Max(b.X1, b.X2),
		Y2: math.Max(b.Y1, b.Y2),
	}
}

// Width returns the horizontal extent of the box
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Contains reports whether (x,y) lies inside the box, edges included.
func (b BoundingBox) Contains(x, y float64) bool {
	return b.X1 <= x && x <= b.X2 && b.Y1 <= y && y <= b.Y2
}

// Translate shifts both corners by (dx,dy)
func (b BoundingBox) Translate(dx, dy float64) BoundingBox {
	return BoundingBox{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// MarshalJSON encodes the box as [x1,y1,x2,y2].
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON decodes a box from [x1,y1,x2,y2].
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var v []float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bounding box: %w", err)
	}
	if len(v) != 4 {
		return fmt.Errorf("bounding box: expected 4 coordinates, got %d", len(v))
	}
	*b = BoundingBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	return nil
}

// NormalizedBox is a center-based box with every coordinate divided by the
// image dimension, so values lie in [0,1].
type NormalizedBox struct {
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
	W  float64 `json:"w"`
	H  float64 `json:"h"`
}

// NormalizeBox converts a pixel-space box to center/width/height form using
// the true image dimensions.
func NormalizeBox(b BoundingBox, imgW, imgH int) NormalizedBox {
	w, h := float64(imgW), float64(imgH)
	return NormalizedBox{
		Cx: ((b.X1 + b.X2) / 2) / w,
		Cy: ((b.Y1 + b.Y2) / 2) / h,
		W:  (b.X2 - b.X1) / w,
		H:  (b.Y2 - b.Y1) / h,
	}
}

// Denormalize converts the box back to pixel space.
func (n NormalizedBox) Denormalize(imgW, imgH int) BoundingBox {
	w, h := float64(imgW), float64(imgH)
	return BoundingBox{
		X1: (n.Cx - n.W/2) * w,
		Y1: (n.Cy - n.H/2) * h,
		X2: (n.Cx + n.W/2) * w,
		Y2: (n.Cy + n.H/2) * h,
	}
}

// LabeledBox pairs a class name with a box.
type LabeledBox struct {
	Class string
	Box   BoundingBox
}

// MarshalJSON encodes the label as the tuple [class, [x1,y1,x2,y2]].
func (l LabeledBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{l.Class, l.Box})
}

// UnmarshalJSON decodes the tuple [class, [x1,y1,x2,y2]].
func (l *LabeledBox) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("label: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("label: expected [class, box], got %d elements", len(raw))
	}
	var out LabeledBox
	if err := json.Unmarshal(raw[0], &out.Class); err != nil {
		return fmt.Errorf("label class: %w", err)
	}
	if err := json.Unmarshal(raw[1], &out.Box); err != nil {
		return err
	}
	*l = out
	return nil
}

// LabelSet is the ordered list of boxes for one image. Order is z-order:
// later entries are drawn and hit-tested on top.
type LabelSet struct {
	Boxes []LabeledBox
}

// Len returns the number of boxes
func (s *LabelSet) Len() int { return len(s.Boxes) }

// Append adds a box on top of the stack and returns its index.
func (s *LabelSet) Append(l LabeledBox) int {
	s.Boxes = append(s.Boxes, l)
	return len(s.Boxes) - 1
}

// Remove deletes the box at index i. Out-of-range indexes are ignored.
func (s *LabelSet) Remove(i int) bool {
	if i < 0 || i >= len(s.Boxes) {
		return false
	}
	s.Boxes = append(s.Boxes[:i], s.Boxes[i+1:]...)
	return true
}

// Replace swaps the whole content of the set in place, keeping the pointer
// held by other components valid.
func (s *LabelSet) Replace(boxes []LabeledBox) {
	s.Boxes = append(s.Boxes[:0:0], boxes...)
}

// Clone returns a deep copy of the set
func (s *LabelSet) Clone() LabelSet {
	return LabelSet{Boxes: append([]LabeledBox(nil), s.Boxes...)}
}

// Detection is one object reported by a vision backend, before conversion to
// pixel space.
type Detection struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Box        NormalizedBox `json:"box"`
}

// DetectionResult is the JSON document a vision model is asked to return.
type DetectionResult struct {
	Objects []Detection `json:"objects"`
}

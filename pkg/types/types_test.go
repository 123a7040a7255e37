package types

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNormalizeDenormalizeRoundTrip(t *testing.T) {
	cases := []struct {
		box  BoundingBox
		w, h int
	}{
		{BoundingBox{10, 20, 110, 220}, 640, 480},
		{BoundingBox{0, 0, 1920, 1080}, 1920, 1080},
		{BoundingBox{3.25, 7.5, 4.75, 9.125}, 13, 17},
		{BoundingBox{500.5, 1.1, 999.9, 2.2}, 1000, 3},
	}

	for _, c := range cases {
		n := NormalizeBox(c.box, c.w, c.h)
		got := n.Denormalize(c.w, c.h)
		for i, pair := range [][2]float64{{got.X1, c.box.X1}, {got.Y1, c.box.Y1}, {got.X2, c.box.X2}, {got.Y2, c.box.Y2}} {
			if math.Abs(pair[0]-pair[1]) > 1e-3 {
				t.Errorf("box %v (%dx%d) coord %d: got %f want %f", c.box, c.w, c.h, i, pair[0], pair[1])
			}
		}
	}
}

func TestBoundingBoxNormalize(t *testing.T) {
	b := BoundingBox{X1: 50, Y1: 5, X2: 10, Y2: 40}.Normalize()
	if b.X1 != 10 || b.X2 != 50 || b.Y1 != 5 || b.Y2 != 40 {
		t.Errorf("unexpected normalized box %+v", b)
	}
}

func TestLabeledBoxJSONTuple(t *testing.T) {
	in := LabeledBox{Class: "cat", Box: BoundingBox{1, 2, 3, 4}}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `["cat",[1,2,3,4]]` {
		t.Errorf("unexpected wire form %s", data)
	}

	var out LabeledBox
	if err := json.Unmarshal([]byte(`["dog", [10.5, 20, 30, 40.25]]`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Class != "dog" || out.Box.X1 != 10.5 || out.Box.Y2 != 40.25 {
		t.Errorf("unexpected label %+v", out)
	}

	if err := json.Unmarshal([]byte(`["dog", [1, 2, 3]]`), &out); err == nil {
		t.Error("expected error for a three-coordinate box")
	}
}

func TestLabelSetRemove(t *testing.T) {
	var s LabelSet
	s.Append(LabeledBox{Class: "a"})
	s.Append(LabeledBox{Class: "b"})
	s.Append(LabeledBox{Class: "c"})

	if !s.Remove(1) {
		t.Fatal("Remove(1) returned false")
	}
	if s.Len() != 2 || s.Boxes[0].Class != "a" || s.Boxes[1].Class != "c" {
		t.Errorf("unexpected set after remove: %+v", s.Boxes)
	}
	if s.Remove(5) {
		t.Error("Remove out of range should return false")
	}
}

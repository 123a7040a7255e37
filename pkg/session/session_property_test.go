package session

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/menta2k/labelpool/pkg/classes"
	"github.com/menta2k/labelpool/pkg/types"
)

// TestHistoryTrailProperties applies random push/back/forward sequences.
// Property: the trail never shrinks, has no adjacent repeats and the cursor
// always points inside it.
func TestHistoryTrailProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	names := []string{"a.png", "b.png", "c.png"}

	properties.Property("trail stays consistent", prop.ForAll(
		func(ops []int) bool {
			h := NewHistory()
			for _, op := range ops {
				before := h.Len()
				switch {
				case op < len(names):
					h.Push(names[op])
					if h.Cursor() != h.Len()-1 {
						return false
					}
				case op == len(names):
					h.Move(-1)
				default:
					h.Move(1)
				}

				if h.Len() < before {
					return false
				}
				if h.Len() == 0 {
					if h.Cursor() != -1 {
						return false
					}
					continue
				}
				if h.Cursor() < 0 || h.Cursor() >= h.Len() {
					return false
				}
				items := h.Items()
				for i := 1; i < len(items); i++ {
					if items[i] == items[i-1] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

// TestMergePredictionsIdempotent merges random predictions twice.
// Property: the second merge adds nothing, and no two merged boxes start
// within the duplicate tolerance of each other.
func TestMergePredictionsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("merge is idempotent", prop.ForAll(
		func(xs, ys []float64) bool {
			var preds []types.LabeledBox
			for i := 0; i < len(xs) && i < len(ys); i++ {
				preds = append(preds, types.LabeledBox{
					Class: "obj",
					Box:   types.BoundingBox{X1: xs[i], Y1: ys[i], X2: xs[i] + 10, Y2: ys[i] + 10},
				})
			}

			set := &types.LabelSet{}
			reg := classes.New(1)
			added := MergePredictions(set, preds, reg)
			if added != set.Len() || MergePredictions(set, preds, reg) != 0 {
				return false
			}
			for i := range set.Boxes {
				for j := i + 1; j < len(set.Boxes); j++ {
					rest := &types.LabelSet{Boxes: set.Boxes[i : i+1]}
					if IsDuplicate(rest, set.Boxes[j].Box) {
						return false
					}
				}
			}
			return len(preds) == 0 || reg.Has("obj")
		},
		gen.SliceOf(gen.Float64Range(0, 40)),
		gen.SliceOf(gen.Float64Range(0, 40)),
	))

	properties.TestingRun(t)
}

package viewport

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestMapperProperties checks random image and viewport sizes.
// Property: image points map inside the viewport and back to themselves.
func TestMapperProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("letterboxed mapping round-trips", prop.ForAll(
		func(iw, ih int, vw, vh, fx, fy float64) bool {
			m := New(iw, ih)
			m.Resize(vw, vh)
			if !m.Ready() {
				return false
			}

			p := Point{X: fx * float64(iw), Y: fy * float64(ih)}
			s, err := m.ToScreen(p)
			if err != nil {
				return false
			}
			const eps = 1e-6
			if s.X < -eps || s.Y < -eps || s.X > vw+eps || s.Y > vh+eps {
				return false
			}
			back, err := m.ToImage(s)
			if err != nil {
				return false
			}
			tol := eps * math.Max(float64(iw), float64(ih))
			return math.Abs(back.X-p.X) <= tol && math.Abs(back.Y-p.Y) <= tol
		},
		gen.IntRange(1, 4000),
		gen.IntRange(1, 4000),
		gen.Float64Range(MinViewport, 3000),
		gen.Float64Range(MinViewport, 3000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

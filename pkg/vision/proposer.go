// Package vision proposes boxes around visually salient regions without a
// vision model. The server uses it for /predict when the "saliency" backend
// is configured.
package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/types"
)

// ModelName is reported by the health endpoint for this backend
const ModelName = "saliency"

// Config holds configuration for region proposal
type Config struct {
	Class          string  // class given to every proposal
	MaxDim         int     // working resolution, long side
	MaxRegions     int     // proposals returned per image
	ContrastWeight float64 // weight of distance from the mean intensity
	EdgeWeight     float64 // weight of local gradient
	MinAreaRatio   float64 // smallest window, as a share of the image area
	MinScore       float64 // smallest center-surround difference kept
	Overlap        float64 // IoU above which a weaker proposal is dropped
}

// DefaultConfig returns the proposal defaults
func DefaultConfig() Config {
	return Config{
		Class:          "object",
		MaxDim:         256,
		MaxRegions:     5,
		ContrastWeight: 0.7,
		EdgeWeight:     0.3,
		MinAreaRatio:   0.01,
		MinScore:       0.05,
		Overlap:        0.3,
	}
}

// window sides as a share of the short image side, and aspect ratios (w/h)
var (
	windowScales = []float64{0.1, 0.15, 0.2, 0.3, 0.4, 0.5, 0.6, 0.75, 0.9}
	windowRatios = []float64{0.5, 1, 2}
)

// Region is a scored rectangle in working-resolution pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

func (r Region) iou(o Region) float64 {
	x0, y0 := max(r.X, o.X), max(r.Y, o.Y)
	x1, y1 := min(r.X+r.Width, o.X+o.Width), min(r.Y+r.Height, o.Y+o.Height)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64((x1 - x0) * (y1 - y0))
	return inter / (float64(r.Area()+o.Area()) - inter)
}

// RegionProposer scores sliding windows by how much more salient they are
// than their surroundings.
type RegionProposer struct {
	config    Config
	processor *processing.Processor
}

// New creates a proposer. Zero fields of cfg take their defaults.
func New(cfg Config) *RegionProposer {
	def := DefaultConfig()
	if cfg.Class == "" {
		cfg.Class = def.Class
	}
	if cfg.MaxDim <= 0 {
		cfg.MaxDim = def.MaxDim
	}
	if cfg.MaxRegions <= 0 {
		cfg.MaxRegions = def.MaxRegions
	}
	if cfg.ContrastWeight == 0 && cfg.EdgeWeight == 0 {
		cfg.ContrastWeight, cfg.EdgeWeight = def.ContrastWeight, def.EdgeWeight
	}
	if cfg.MinAreaRatio <= 0 {
		cfg.MinAreaRatio = def.MinAreaRatio
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = def.Overlap
	}
	return &RegionProposer{config: cfg, processor: processing.NewProcessor()}
}

// ModelName implements the server's predictor interface
func (p *RegionProposer) ModelName() string { return ModelName }

// Predict decodes data and returns proposals in original image pixels
func (p *RegionProposer) Predict(ctx context.Context, data []byte) ([]types.LabeledBox, error) {
	img, err := p.processor.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return p.Propose(ctx, img)
}

// Propose returns up to MaxRegions non-overlapping boxes, strongest first.
func (p *RegionProposer) Propose(ctx context.Context, img image.Image) ([]types.LabeledBox, error) {
	b := img.Bounds()
	W, H := b.Dx(), b.Dy()
	if W < 2 || H < 2 {
		return nil, nil
	}

	work := img
	if W > p.config.MaxDim || H > p.config.MaxDim {
		work = imaging.Fit(img, p.config.MaxDim, p.config.MaxDim, imaging.Box)
	}
	gray := imaging.Grayscale(work)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	sum := newIntegral(p.saliency(gray), w, h)
	regions, err := p.scan(ctx, sum, w, h)
	if err != nil {
		return nil, err
	}

	sx, sy := float64(W)/float64(w), float64(H)/float64(h)
	out := make([]types.LabeledBox, 0, len(regions))
	for _, r := range regions {
		out = append(out, types.LabeledBox{
			Class: p.config.Class,
			Box: types.BoundingBox{
				X1: math.Round(float64(r.X) * sx),
				Y1: math.Round(float64(r.Y) * sy),
				X2: math.Round(float64(r.X+r.Width) * sx),
				Y2: math.Round(float64(r.Y+r.Height) * sy),
			},
		})
	}
	return out, nil
}

// saliency combines distance from the mean intensity with gradient
// magnitude, both in 0..1.
func (p *RegionProposer) saliency(gray *image.NRGBA) []float64 {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	lum := make([]float64, w*h)
	var mean float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(gray.Pix[y*gray.Stride+x*4]) / 255
			lum[y*w+x] = v
			mean += v
		}
	}
	mean /= float64(w * h)

	at := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return lum[y*w+x]
	}
	sal := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := math.Abs(at(x+1, y) - at(x-1, y))
			gy := math.Abs(at(x, y+1) - at(x, y-1))
			edge := math.Min(1, (gx+gy)/2)
			sal[y*w+x] = p.config.ContrastWeight*math.Abs(lum[y*w+x]-mean) + p.config.EdgeWeight*edge
		}
	}
	return sal
}

func (p *RegionProposer) scan(ctx context.Context, sum *integral, w, h int) ([]Region, error) {
	short := min(w, h)
	minArea := int(p.config.MinAreaRatio * float64(w*h))

	var regions []Region
	for _, scale := range windowScales {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		side := float64(short) * scale
		for _, ratio := range windowRatios {
			ww := int(side * math.Sqrt(ratio))
			wh := int(side / math.Sqrt(ratio))
			if ww < 4 || wh < 4 || ww > w || wh > h || ww*wh < minArea {
				continue
			}
			step := max(1, min(ww, wh)/8)
			for y := 0; y+wh <= h; y += step {
				for x := 0; x+ww <= w; x += step {
					score := contrast(sum, x, y, ww, wh, w, h)
					if score >= p.config.MinScore {
						regions = append(regions, Region{X: x, Y: y, Width: ww, Height: wh, Score: score})
					}
				}
			}
		}
	}

	sort.SliceStable(regions, func(i, j int) bool { return regions[i].Score > regions[j].Score })

	var kept []Region
	for _, r := range regions {
		overlaps := false
		for _, k := range kept {
			if r.iou(k) > p.config.Overlap {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		kept = append(kept, r)
		if len(kept) == p.config.MaxRegions {
			break
		}
	}
	return kept, nil
}

// contrast is the mean saliency inside the window minus the mean of a ring
// half the window size wide around it.
func contrast(sum *integral, x, y, ww, wh, w, h int) float64 {
	inner := sum.rect(x, y, x+ww, y+wh)
	ox0, oy0 := max(0, x-ww/2), max(0, y-wh/2)
	ox1, oy1 := min(w, x+ww+ww/2), min(h, y+wh+wh/2)
	ringArea := (ox1-ox0)*(oy1-oy0) - ww*wh
	if ringArea <= 0 {
		return 0
	}
	outer := sum.rect(ox0, oy0, ox1, oy1) - inner
	return inner/float64(ww*wh) - outer/float64(ringArea)
}

// integral is a summed-area table with one row and column of padding
type integral struct {
	w    int
	data []float64
}

func newIntegral(v []float64, w, h int) *integral {
	s := &integral{w: w + 1, data: make([]float64, (w+1)*(h+1))}
	for y := 0; y < h; y++ {
		var row float64
		for x := 0; x < w; x++ {
			row += v[y*w+x]
			s.data[(y+1)*s.w+x+1] = s.data[y*s.w+x+1] + row
		}
	}
	return s
}

// rect sums [x0,x1) x [y0,y1)
func (s *integral) rect(x0, y0, x1, y1 int) float64 {
	return s.data[y1*s.w+x1] - s.data[y0*s.w+x1] - s.data[y1*s.w+x0] + s.data[y0*s.w+x0]
}

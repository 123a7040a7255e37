// Package detection turns vision model replies into pixel-space boxes that
// can be merged into an annotation session.
package detection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/menta2k/labelpool/pkg/client"
	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/types"
)

// DefaultThreshold drops detections the model is unsure about
const DefaultThreshold = 0.25

// DefaultMaxDim caps the long side of the image sent to the model
const DefaultMaxDim = 1024

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks for every object, not just the dominant subject.
const DefaultPrompt = `You are an object detector.

Return JSON only:
{
  "objects": [
    {
      "label": "string",
      "confidence": 0.0,
      "box": {"cx": 0.0, "cy": 0.0, "w": 0.0, "h": 0.0}
    }
  ]
}

HARD RULES
- List every distinct object instance you can see, one entry per instance.
- cx, cy are the box center; w, h its width and height.
- All coordinates are normalized to [0,1] (NOT pixels).
- Boxes must tightly enclose the object.
- Labels: lowercase, singular, concise (e.g. "person", "car", "dog").
- confidence is your certainty in [0,1].
- If nothing is found, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ErrNoModel is returned when the detector was built without a model name
var ErrNoModel = errors.New("no detection model configured")

// Detector runs object detection using a vision model
type Detector struct {
	client    client.VisionClient
	processor *processing.Processor
	model     string
	prompt    string
	threshold float64
	maxDim    int
	logger    *slog.Logger
}

// Option configures a Detector
type Option func(*Detector)

// WithThreshold sets the minimum confidence a detection needs
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// WithPrompt replaces DefaultPrompt
func WithPrompt(p string) Option {
	return func(d *Detector) {
		if strings.TrimSpace(p) != "" {
			d.prompt = p
		}
	}
}

// WithMaxDim sets the long-side cap for model input; 0 disables resizing
func WithMaxDim(n int) Option {
	return func(d *Detector) { d.maxDim = n }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string, opts ...Option) *Detector {
	d := &Detector{
		client:    client,
		processor: processing.NewProcessor(),
		model:     model,
		prompt:    DefaultPrompt,
		threshold: DefaultThreshold,
		maxDim:    DefaultMaxDim,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ModelName returns the configured model
func (d *Detector) ModelName() string { return d.model }

// Predict decodes image bytes, queries the model and returns the detections
// above the threshold as pixel-space boxes in the image's own dimensions.
func (d *Detector) Predict(ctx context.Context, data []byte) ([]types.LabeledBox, error) {
	if d.model == "" {
		return nil, ErrNoModel
	}

	img, err := d.processor.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	imgB64, err := d.processor.PrepareImageForModel(img, "jpg", d.maxDim, 90)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare image: %w", err)
	}

	res, err := d.client.DetectObjects(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	boxes := d.toBoxes(res, w, h)
	d.logger.Debug("prediction finished", "model", d.model, "raw", len(res.Objects), "kept", len(boxes))
	return boxes, nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, imageB64 string) (string, error) {
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imageB64)
}

func (d *Detector) toBoxes(res *types.DetectionResult, w, h int) []types.LabeledBox {
	out := make([]types.LabeledBox, 0, len(res.Objects))
	for _, obj := range res.Objects {
		if obj.Confidence < d.threshold || math.IsNaN(obj.Confidence) {
			continue
		}
		label := normalizeLabel(obj.Label)
		if label == "" || label == "none" {
			continue
		}
		b := obj.Box.Denormalize(w, h).Normalize()
		b = types.BoundingBox{
			X1: math.Round(clamp(b.X1, 0, float64(w))),
			Y1: math.Round(clamp(b.Y1, 0, float64(h))),
			X2: math.Round(clamp(b.X2, 0, float64(w))),
			Y2: math.Round(clamp(b.Y2, 0, float64(h))),
		}
		if b.Width() < 1 || b.Height() < 1 {
			continue
		}
		out = append(out, types.LabeledBox{Class: label, Box: b})
	}
	return out
}

// normalizeLabel turns a model label into a class name usable in a record
// line, which is whitespace separated. Labels are NFC so that composed and
// decomposed spellings land in the same class.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFC.String(s))), "_")
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

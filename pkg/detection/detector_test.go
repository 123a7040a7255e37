package detection

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/labelpool/pkg/types"
)

type fakeClient struct {
	result *types.DetectionResult
	err    error
	model  string
	prompt string
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return "a square", nil
}

func (f *fakeClient) DetectObjects(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error) {
	f.model, f.prompt = model, prompt
	return f.result, f.err
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, imaging.New(w, h, color.White)))
	return buf.Bytes()
}

func det(label string, conf, cx, cy, w, h float64) types.Detection {
	return types.Detection{Label: label, Confidence: conf, Box: types.NormalizedBox{Cx: cx, Cy: cy, W: w, H: h}}
}

func TestPredictConvertsAndFilters(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{Objects: []types.Detection{
		det("Traffic Light", 0.9, 0.5, 0.5, 0.5, 0.5),
		det("cat", 0.1, 0.5, 0.5, 0.2, 0.2),
		det("dog", 0.5, 0.95, 0.5, 0.2, 0.2),
		det("none", 0.9, 0.5, 0.5, 0.2, 0.2),
		det("speck", 0.9, 0.5, 0.5, 0.001, 0.001),
	}}}
	d := NewDetector(fc, "llava")

	boxes, err := d.Predict(context.Background(), pngBytes(t, 200, 100))
	require.NoError(t, err)
	require.Len(t, boxes, 2)

	assert.Equal(t, "traffic_light", boxes[0].Class)
	assert.Equal(t, types.BoundingBox{X1: 50, Y1: 25, X2: 150, Y2: 75}, boxes[0].Box)

	// clamped to the right edge
	assert.Equal(t, "dog", boxes[1].Class)
	assert.Equal(t, types.BoundingBox{X1: 170, Y1: 40, X2: 200, Y2: 60}, boxes[1].Box)

	assert.Equal(t, "llava", fc.model)
	assert.Equal(t, DefaultPrompt, fc.prompt)
}

func TestPredictThresholdOption(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{Objects: []types.Detection{
		det("cat", 0.1, 0.5, 0.5, 0.2, 0.2),
	}}}
	d := NewDetector(fc, "m", WithThreshold(0.05), WithPrompt("custom"))
	boxes, err := d.Predict(context.Background(), pngBytes(t, 50, 50))
	require.NoError(t, err)
	assert.Len(t, boxes, 1)
	assert.Equal(t, "custom", fc.prompt)
}

func TestPredictErrors(t *testing.T) {
	d := NewDetector(&fakeClient{}, "")
	_, err := d.Predict(context.Background(), pngBytes(t, 10, 10))
	assert.ErrorIs(t, err, ErrNoModel)

	d = NewDetector(&fakeClient{}, "m")
	_, err = d.Predict(context.Background(), []byte("not an image"))
	assert.Error(t, err)

	boom := errors.New("backend down")
	d = NewDetector(&fakeClient{err: boom}, "m")
	_, err = d.Predict(context.Background(), pngBytes(t, 10, 10))
	assert.ErrorIs(t, err, boom)
}

func TestPredictLargeImageKeepsOriginalCoordinates(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{Objects: []types.Detection{
		det("box", 0.9, 0.5, 0.5, 1, 1),
	}}}
	d := NewDetector(fc, "m", WithMaxDim(64))
	img := imaging.New(400, 300, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	boxes, err := d.Predict(context.Background(), buf.Bytes())
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, types.BoundingBox{X1: 0, Y1: 0, X2: 400, Y2: 300}, boxes[0].Box)
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, "traffic_light", normalizeLabel("  Traffic   Light "))
	// "e" followed by a combining acute accent
	assert.Equal(t, "caf\u00e9", normalizeLabel("Cafe\u0301"))
	assert.Equal(t, "", normalizeLabel("   "))
}

package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/labelpool/pkg/types"
)

// createTestImage draws a white rectangle on black
func createTestImage(width, height int, subject image.Rectangle) *image.NRGBA {
	img := imaging.New(width, height, color.Black)
	for y := subject.Min.Y; y < subject.Max.Y; y++ {
		for x := subject.Min.X; x < subject.Max.X; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func boxIoU(a, b types.BoundingBox) float64 {
	x0, y0 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	x1, y1 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := (x1 - x0) * (y1 - y0)
	return inter / (a.Width()*a.Height() + b.Width()*b.Height() - inter)
}

func TestProposeFindsSubject(t *testing.T) {
	p := New(Config{})
	img := createTestImage(200, 200, image.Rect(60, 60, 140, 140))

	boxes, err := p.Propose(context.Background(), img)
	require.NoError(t, err)
	require.NotEmpty(t, boxes)
	assert.LessOrEqual(t, len(boxes), DefaultConfig().MaxRegions)
	assert.Equal(t, "object", boxes[0].Class)

	truth := types.BoundingBox{X1: 60, Y1: 60, X2: 140, Y2: 140}
	assert.Greater(t, boxIoU(boxes[0].Box, truth), 0.6, "top proposal %+v", boxes[0].Box)
}

func TestProposalsDoNotOverlap(t *testing.T) {
	p := New(Config{Overlap: 0.3})
	img := createTestImage(300, 200, image.Rect(20, 40, 100, 120))

	boxes, err := p.Propose(context.Background(), img)
	require.NoError(t, err)
	for i := range boxes {
		for j := i + 1; j < len(boxes); j++ {
			assert.LessOrEqual(t, boxIoU(boxes[i].Box, boxes[j].Box), 0.3+1e-9)
		}
	}
}

func TestProposeScalesBack(t *testing.T) {
	p := New(Config{Class: "thing"})
	img := createTestImage(800, 400, image.Rect(200, 100, 400, 300))

	boxes, err := p.Propose(context.Background(), img)
	require.NoError(t, err)
	require.NotEmpty(t, boxes)
	assert.Equal(t, "thing", boxes[0].Class)

	truth := types.BoundingBox{X1: 200, Y1: 100, X2: 400, Y2: 300}
	assert.Greater(t, boxIoU(boxes[0].Box, truth), 0.6, "top proposal %+v", boxes[0].Box)
	for _, b := range boxes {
		assert.GreaterOrEqual(t, b.Box.X1, 0.0)
		assert.LessOrEqual(t, b.Box.X2, 800.0)
		assert.LessOrEqual(t, b.Box.Y2, 400.0)
	}
}

func TestProposeFlatImage(t *testing.T) {
	p := New(DefaultConfig())
	boxes, err := p.Propose(context.Background(), imaging.New(120, 90, color.Gray{Y: 128}))
	require.NoError(t, err)
	assert.Empty(t, boxes)

	boxes, err = p.Propose(context.Background(), imaging.New(1, 1, color.White))
	require.NoError(t, err)
	assert.Empty(t, boxes)
}

func TestProposeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Propose(ctx, createTestImage(100, 100, image.Rect(10, 10, 50, 50)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredictDecodesUpload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, createTestImage(160, 120, image.Rect(40, 30, 100, 90)), imaging.PNG))

	p := New(Config{})
	assert.Equal(t, ModelName, p.ModelName())
	boxes, err := p.Predict(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, boxes)

	_, err = p.Predict(context.Background(), []byte("not an image"))
	assert.Error(t, err)
}

func TestRegionIoU(t *testing.T) {
	a := Region{X: 0, Y: 0, Width: 10, Height: 10}
	assert.InDelta(t, 1.0, a.iou(a), 1e-9)
	assert.Equal(t, 0.0, a.iou(Region{X: 10, Y: 0, Width: 5, Height: 5}))
	assert.InDelta(t, 25.0/175.0, a.iou(Region{X: 5, Y: 5, Width: 10, Height: 10}), 1e-9)
}

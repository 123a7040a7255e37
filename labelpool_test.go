package labelpool

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/labelpool/internal/config"
	"github.com/menta2k/labelpool/pkg/remote"
	"github.com/menta2k/labelpool/pkg/session"
	"github.com/menta2k/labelpool/pkg/types"
)

func testConfig(t *testing.T, images ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	for _, name := range images {
		require.NoError(t, imaging.Save(imaging.New(64, 48, color.White), filepath.Join(dir, name)))
	}
	cfg := config.Default()
	cfg.Server.ImageDir = dir
	return cfg
}

func TestNewServiceWithoutModel(t *testing.T) {
	svc, err := NewService(testConfig(t), NewLogger(io.Discard, "info"))
	require.NoError(t, err)
	assert.Equal(t, "", svc.ModelName())
	assert.DirExists(t, svc.Store().LabelDir())
}

func TestNewServiceWithModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Backend = "llamacpp"
	cfg.Model.Name = "qwen2.5vl"
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5vl", svc.ModelName())
}

func TestNewServiceWithSaliency(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Backend = "saliency"
	svc, err := NewService(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "saliency", svc.ModelName())
}

func TestNewServiceRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Port = -1
	_, err := NewService(cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Server.ImageDir = filepath.Join(cfg.Server.ImageDir, "missing")
	_, err = NewService(cfg, nil)
	assert.Error(t, err)
}

func TestNewVisionClient(t *testing.T) {
	_, err := NewVisionClient("ollama", "http://localhost:11434")
	assert.NoError(t, err)
	_, err = NewVisionClient("llamacpp", "")
	assert.NoError(t, err)
	_, err = NewVisionClient("openai", "")
	assert.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	cfg := testConfig(t, "one.png", "two.png")
	svc, err := NewService(cfg, NewLogger(io.Discard, "debug"))
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	ctx := context.Background()
	_, err = Connect(ctx, srv.URL, " ", session.Options{})
	assert.Error(t, err)

	sess, err := Connect(ctx, srv.URL, "alice", session.Options{})
	require.NoError(t, err)

	require.NoError(t, sess.LoadNext(ctx))
	assert.Equal(t, "one.png", sess.Current().Name)
	sess.Labels().Append(types.LabeledBox{Class: "cup", Box: types.BoundingBox{X1: 4, Y1: 4, X2: 32, Y2: 24}})

	require.NoError(t, sess.GoForward(ctx))
	assert.Equal(t, "two.png", sess.Current().Name)
	assert.True(t, svc.Store().IsCompleted("one.png"))

	require.NoError(t, sess.GoBack(ctx))
	require.Equal(t, 1, sess.Labels().Len())
	assert.InDelta(t, 32, sess.Labels().Boxes[0].Box.X2, 1e-3)

	// two.png was submitted empty on the way back
	require.NoError(t, sess.GoForward(ctx))
	assert.Equal(t, "two.png", sess.Current().Name)
	assert.ErrorIs(t, sess.GoForward(ctx), remote.ErrPoolExhausted)

	res, err := svc.Export(filepath.Join(t.TempDir(), "dataset"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"cup"}, res.Classes)
	data, err := os.ReadFile(filepath.Join(res.Dir, "labels", "one.txt"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("0 ")))
}

func TestConnectFailure(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	_, err := Connect(context.Background(), url, "alice", session.Options{})
	var ne *remote.NetworkError
	assert.ErrorAs(t, err, &ne)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn")
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.Equal(t, Version, GetVersion())
}

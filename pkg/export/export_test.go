package export

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestExport(t *testing.T) {
	images := t.TempDir()
	labels := filepath.Join(images, "labels_collected")
	require.NoError(t, os.MkdirAll(labels, 0755))

	write(t, filepath.Join(images, "a.jpg"), "jpeg-a")
	write(t, filepath.Join(images, "b.png"), "png-b")
	write(t, filepath.Join(images, "c.jpeg"), "jpeg-c")
	write(t, filepath.Join(labels, "a.txt"), "dog 0.5 0.5 0.2 0.2\ncat 0.1 0.1 0.1 0.1\n")
	write(t, filepath.Join(labels, "b.txt"), "zebra 0.3 0.3 0.1 0.1\n\n")
	write(t, filepath.Join(labels, "c.txt"), "")
	write(t, filepath.Join(labels, "orphan.txt"), "ghost 0.5 0.5 0.5 0.5\n")

	target := filepath.Join(t.TempDir(), DirName(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	res, err := Export(images, labels, target)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Count)
	assert.Equal(t, []string{"cat", "dog", "zebra"}, res.Classes)
	assert.Equal(t, "dataset_export_20260102_030405", filepath.Base(res.Dir))

	got, err := os.ReadFile(filepath.Join(target, "labels", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1 0.5 0.5 0.2 0.2\n0 0.1 0.1 0.1 0.1\n", string(got))

	got, err = os.ReadFile(filepath.Join(target, "labels", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2 0.3 0.3 0.1 0.1\n", string(got))

	img, err := os.ReadFile(filepath.Join(target, "images", "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-b", string(img))
	assert.NoFileExists(t, filepath.Join(target, "labels", "orphan.txt"))

	raw, err := os.ReadFile(res.YAMLPath)
	require.NoError(t, err)
	var df DataFile
	require.NoError(t, yaml.Unmarshal(raw, &df))
	assert.Equal(t, res.Dir, df.Path)
	assert.Equal(t, "images", df.Train)
	assert.Equal(t, "images", df.Val)
	assert.Equal(t, 3, df.NC)
	assert.Equal(t, res.Classes, df.Names)
}

func TestExportPrefersJPGOverPNG(t *testing.T) {
	images := t.TempDir()
	labels := t.TempDir()
	write(t, filepath.Join(images, "x.png"), "png")
	write(t, filepath.Join(images, "x.jpg"), "jpg")
	write(t, filepath.Join(labels, "x.txt"), "a 0.5 0.5 0.1 0.1\n")

	target := t.TempDir()
	res, err := Export(images, labels, target)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.FileExists(t, filepath.Join(target, "images", "x.jpg"))
	assert.NoFileExists(t, filepath.Join(target, "images", "x.png"))
}

func TestExportWithoutLabels(t *testing.T) {
	target := t.TempDir()
	res, err := Export(t.TempDir(), filepath.Join(t.TempDir(), "missing"), target)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Count)
	assert.Empty(t, res.Classes)
	assert.FileExists(t, res.YAMLPath)
	assert.DirExists(t, filepath.Join(target, "images"))
}

package modeljson

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStripsFencesAndComments(t *testing.T) {
	raw := "```json\n{\n  // objects found\n  \"objects\": [ {\"label\": \"cat\"}, ], /* done */\n}\n```"
	out := Sanitize(raw)
	assert.True(t, json.Valid([]byte(out)), out)
	assert.NotContains(t, out, "//")
	assert.NotContains(t, out, "done")
	assert.True(t, strings.HasPrefix(out, "{"))
}

func TestParseDetections(t *testing.T) {
	raw := `Here you go: {"objects":[{"label":"dog","confidence":0.9,"box":{"cx":0.5,"cy":0.4,"w":0.2,"h":0.3}}]} hope it helps`
	res, err := ParseDetections(raw)
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "dog", res.Objects[0].Label)
	assert.InDelta(t, 0.4, res.Objects[0].Box.Cy, 1e-9)
}

func TestParseDetectionsNoJSON(t *testing.T) {
	res, err := ParseDetections("I cannot see anything in this image.")
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
}

func TestParseDetectionsBadSchema(t *testing.T) {
	_, err := ParseDetections(`{"objects": "none"}`)
	assert.Error(t, err)
}

package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)

	c, err := NewClient("http://localhost:11434/api/chat")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestDetectObjects(t *testing.T) {
	var got api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.ChatResponse{
			Model: got.Model,
			Message: api.Message{
				Role:    "assistant",
				Content: "```json\n{\"objects\":[{\"label\":\"cat\",\"confidence\":0.8,\"box\":{\"cx\":0.5,\"cy\":0.5,\"w\":0.2,\"h\":0.2}}]}\n```",
			},
			Done: true,
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	res, err := c.DetectObjects(context.Background(), "llava", "find things", img)
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "cat", res.Objects[0].Label)

	assert.Equal(t, "llava", got.Model)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Images, 1)
	assert.Equal(t, []byte("jpeg bytes"), []byte(got.Messages[0].Images[0]))
}

func TestDetectObjectsBadImage(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = c.DetectObjects(context.Background(), "m", "p", "%%%")
	assert.ErrorContains(t, err, "base64")
}

package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, content interface{}, status int) (*httptest.Server, *ChatCompletionRequest) {
	t.Helper()
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			Choices: []Choice{{Message: Message{Role: "assistant", Content: content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestDetectObjects(t *testing.T) {
	srv, got := completionServer(t, `{"objects":[{"label":"car","confidence":0.6,"box":{"cx":0.1,"cy":0.2,"w":0.1,"h":0.1}},]}`, http.StatusOK)

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)
	res, err := c.DetectObjects(context.Background(), "qwen", "find", "aGVsbG8=")
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "car", res.Objects[0].Label)

	assert.Equal(t, "qwen", got.Model)
	parts, ok := got.Messages[0].Content.([]interface{})
	require.True(t, ok)
	assert.Len(t, parts, 2)
}

func TestSimpleQueryArrayContent(t *testing.T) {
	srv, _ := completionServer(t, []map[string]string{{"type": "text", "text": "a cat"}}, http.StatusOK)
	c, _ := NewClient(srv.URL)
	out, err := c.SimpleQuery(context.Background(), "m", "what", "")
	require.NoError(t, err)
	assert.Equal(t, "a cat", out)
}

func TestServerError(t *testing.T) {
	srv, _ := completionServer(t, "", http.StatusServiceUnavailable)
	c, _ := NewClient(srv.URL)
	_, err := c.DetectObjects(context.Background(), "m", "p", "")
	assert.ErrorContains(t, err, "503")
}

func TestNewClientDefaultURL(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultURL, c.baseURL)
}

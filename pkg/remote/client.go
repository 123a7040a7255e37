// Package remote is the annotator-side HTTP client for the labelpool server.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/types"
)

// FilenameHeader carries the image identifier alongside image bytes
const FilenameHeader = "filename"

// ErrPoolExhausted means the server has no more images for this annotator.
// It is informational, not a failure.
var ErrPoolExhausted = errors.New("no more images")

// NetworkError is a transport failure talking to the server
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is an unexpected status code or body
type ProtocolError struct {
	Op      string
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: unexpected response (%d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Message)
}

// Image is a fetched pool image
type Image struct {
	Name   string
	Data   []byte
	Width  int
	Height int
}

// Health is the server status document
type Health struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Client talks to one labelpool server
type Client struct {
	baseURL    string
	httpClient *http.Client
	processor  *processing.Processor
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client for serverURL. A bare host or host:port is
// accepted and gets an http scheme.
func NewClient(serverURL string, opts ...Option) (*Client, error) {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", serverURL)
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(u.String(), "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		processor:  processing.NewProcessor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized server URL
func (c *Client) BaseURL() string { return c.baseURL }

// Health checks the server is online
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "health", "/", nil, &h); err != nil {
		return nil, err
	}
	if h.Status != "online" {
		return nil, &ProtocolError{Op: "health", Message: fmt.Sprintf("status %q", h.Status)}
	}
	return &h, nil
}

// NextImage asks the server to assign the next image to user
func (c *Client) NextImage(ctx context.Context, user string) (*Image, error) {
	return c.fetchImage(ctx, "next image", "/next_image", url.Values{"user_name": {user}})
}

// ImageByName fetches a specific image regardless of assignment
func (c *Client) ImageByName(ctx context.Context, name string) (*Image, error) {
	return c.fetchImage(ctx, "get image", "/get_image_specific", url.Values{"filename": {name}})
}

// Labels fetches the saved boxes for an image in pixel space
func (c *Client) Labels(ctx context.Context, name string) ([]types.LabeledBox, error) {
	var body struct {
		Labels []types.LabeledBox `json:"labels"`
	}
	if err := c.getJSON(ctx, "get labels", "/get_current_labels", url.Values{"image_name": {name}}, &body); err != nil {
		return nil, err
	}
	return body.Labels, nil
}

// Submit saves labels for an image on behalf of user
func (c *Client) Submit(ctx context.Context, user, name string, labels []types.LabeledBox) error {
	const op = "submit labels"
	if labels == nil {
		labels = []types.LabeledBox{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("%s: failed to encode labels: %w", op, err)
	}
	form := url.Values{
		"image_name": {name},
		"user_name":  {user},
		"labels":     {string(encoded)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submit_label", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var status statusBody
	if err := c.doJSON(op, req, &status); err != nil {
		return err
	}
	if status.Status != "success" {
		return &ProtocolError{Op: op, Message: status.describe()}
	}
	return nil
}

// Predict uploads image bytes and returns the model's boxes in pixel space
func (c *Client) Predict(ctx context.Context, data []byte) ([]types.LabeledBox, error) {
	const op = "predict"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var body struct {
		Predictions []types.LabeledBox `json:"predictions"`
		Error       string             `json:"error"`
	}
	if err := c.doJSON(op, req, &body); err != nil {
		return nil, err
	}
	if body.Error != "" {
		return nil, &ProtocolError{Op: op, Message: body.Error}
	}
	return body.Predictions, nil
}

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s statusBody) describe() string {
	switch {
	case s.Message != "":
		return s.Message
	case s.Error != "":
		return s.Error
	case s.Status != "":
		return fmt.Sprintf("status %q", s.Status)
	default:
		return ""
	}
}

func (c *Client) fetchImage(ctx context.Context, op, path string, q url.Values) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		var status statusBody
		if err := json.Unmarshal(body, &status); err != nil {
			return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Message: "malformed JSON body"}
		}
		if status.Status == "done" {
			return nil, ErrPoolExhausted
		}
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Message: status.describe()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	name := resp.Header.Get(FilenameHeader)
	if name == "" {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Message: "missing filename header"}
	}
	w, h, err := c.processor.SizeFromBytes(body)
	if err != nil {
		return nil, &ProtocolError{Op: op, Status: resp.StatusCode, Message: err.Error()}
	}
	return &Image{Name: name, Data: body, Width: w, Height: h}, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return c.doJSON(op, req, out)
}

func (c *Client) doJSON(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var status statusBody
		if json.Unmarshal(body, &status) == nil && status.describe() != "" {
			msg = status.describe()
		}
		return &ProtocolError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProtocolError{Op: op, Status: resp.StatusCode, Message: "malformed JSON body"}
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

// Package server exposes an image pool over HTTP: assignment of images to
// annotators, label retrieval and submission, and model predictions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/menta2k/labelpool/internal/utils"
	"github.com/menta2k/labelpool/pkg/classes"
	"github.com/menta2k/labelpool/pkg/labelstore"
	"github.com/menta2k/labelpool/pkg/ledger"
	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/types"
)

// maxUpload bounds a prediction upload
const maxUpload = 50 << 20

// Predictor runs object detection on uploaded image bytes
type Predictor interface {
	Predict(ctx context.Context, data []byte) ([]types.LabeledBox, error)
	ModelName() string
}

// Options configures a Server
type Options struct {
	Logger       *slog.Logger
	Predictor    Predictor
	PredictRate  float64
	PredictBurst int
	AllowOrigins []string
}

// Server serves one pool
type Server struct {
	store     *labelstore.Store
	ledger    *ledger.Ledger
	predictor Predictor
	processor *processing.Processor
	colors    *classes.Registry
	limiter   *RateLimiter
	origins   []string
	logger    *slog.Logger
}

// New creates a server over store and ledger. A nil Predictor disables
// /predict.
func New(store *labelstore.Store, l *ledger.Ledger, opts Options) *Server {
	s := &Server{
		store:     store,
		ledger:    l,
		predictor: opts.Predictor,
		processor: processing.NewProcessor(),
		colors:    classes.New(uint64(time.Now().UnixNano())),
		origins:   opts.AllowOrigins,
		logger:    opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	rps, burst := opts.PredictRate, opts.PredictBurst
	if rps <= 0 {
		rps = 2
	}
	if burst < 1 {
		burst = 4
	}
	s.limiter = NewRateLimiter(rps, burst)
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /next_image", s.handleNextImage)
	mux.HandleFunc("GET /get_image_specific", s.handleImageSpecific)
	mux.HandleFunc("GET /get_current_labels", s.handleCurrentLabels)
	mux.HandleFunc("POST /submit_label", s.handleSubmitLabel)
	mux.Handle("POST /predict", s.limiter.Middleware(http.HandlerFunc(s.handlePredict)))
	mux.HandleFunc("GET /preview", s.handlePreview)

	return withRequestID(withLogging(s.logger, withCORS(s.origins, mux)))
}

func (s *Server) modelName() string {
	if s.predictor == nil {
		return "none"
	}
	return s.predictor.ModelName()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "online", "model": s.modelName()}, http.StatusOK)
}

func (s *Server) handleNextImage(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_name")
	name, err := s.ledger.AssignNext(user)
	switch {
	case errors.Is(err, ledger.ErrPoolExhausted):
		respondJSON(w, map[string]string{"status": "done"}, http.StatusOK)
		return
	case errors.Is(err, ledger.ErrEmptyUser):
		respondStatusError(w, "user_name is required", http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("assignment failed", "user", user, "error", err)
		respondStatusError(w, "Assignment failed", http.StatusInternalServerError)
		return
	}
	s.serveImage(w, r, name)
}

func (s *Server) handleImageSpecific(w http.ResponseWriter, r *http.Request) {
	s.serveImage(w, r, r.URL.Query().Get("filename"))
}

func (s *Server) serveImage(w http.ResponseWriter, r *http.Request, name string) {
	f, err := s.store.OpenImage(name)
	if err != nil {
		if !errors.Is(err, labelstore.ErrImageNotFound) && !errors.Is(err, labelstore.ErrInvalidName) {
			s.logger.Error("failed to open image", "image", name, "error", err)
		}
		respondStatusError(w, "File not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("filename", name)
	http.ServeContent(w, r, name, time.Time{}, f)
}

func (s *Server) handleCurrentLabels(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("image_name")
	set, err := s.store.Load(name)
	if errors.Is(err, labelstore.ErrInvalidName) {
		respondStatusError(w, "Invalid image name", http.StatusBadRequest)
		return
	}
	if err != nil {
		// An unreadable record is reported as unlabeled
		s.logger.Warn("failed to read labels", "image", name, "error", err)
		set = types.LabelSet{}
	}
	respondJSON(w, map[string][]types.LabeledBox{"labels": nonNil(set.Boxes)}, http.StatusOK)
}

func (s *Server) handleSubmitLabel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondStatusError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	name := r.PostForm.Get("image_name")
	user := r.PostForm.Get("user_name")
	raw := r.PostForm.Get("labels")
	if name == "" || user == "" || raw == "" {
		respondStatusError(w, "image_name, user_name and labels are required", http.StatusBadRequest)
		return
	}

	var boxes []types.LabeledBox
	if err := json.Unmarshal([]byte(raw), &boxes); err != nil {
		respondStatusError(w, fmt.Sprintf("Invalid labels: %v", err), http.StatusBadRequest)
		return
	}

	err := s.store.Save(name, types.LabelSet{Boxes: boxes})
	switch {
	case errors.Is(err, labelstore.ErrImageNotFound):
		respondStatusError(w, "Image source not found", http.StatusNotFound)
		return
	case errors.Is(err, labelstore.ErrInvalidName):
		respondStatusError(w, "Invalid image name", http.StatusBadRequest)
		return
	case errors.Is(err, labelstore.ErrEmptyClass):
		respondStatusError(w, fmt.Sprintf("Invalid labels: %v", err), http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("save failed", "image", name, "user", user, "error", err)
		respondStatusError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.ledger.Release(user, name)
	s.logger.Info("labels saved", "image", name, "user", user, "boxes", len(boxes))
	respondJSON(w, map[string]string{"status": "success"}, http.StatusOK)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		respondError(w, "No model loaded", http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	preds, err := s.predictor.Predict(r.Context(), data)
	if err != nil {
		s.logger.Error("prediction failed", "id", RequestID(r.Context()), "error", err)
		respondError(w, fmt.Sprintf("Detection failed: %v", err), http.StatusInternalServerError)
		return
	}
	s.logger.Info("prediction served",
		"id", RequestID(r.Context()),
		"upload", utils.FormatFileSize(int64(len(data))),
		"boxes", len(preds),
		"duration", time.Since(start),
	)
	respondJSON(w, map[string][]types.LabeledBox{"predictions": nonNil(preds)}, http.StatusOK)
}

// handlePreview renders the saved boxes of an image as a PNG
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("image_name")
	path, err := s.store.ImagePath(name)
	if err != nil || !utils.FileExists(path) {
		respondStatusError(w, "File not found", http.StatusNotFound)
		return
	}
	set, err := s.store.Load(name)
	if err != nil {
		s.logger.Warn("failed to read labels", "image", name, "error", err)
	}
	img, err := s.processor.LoadImage(path)
	if err != nil {
		respondStatusError(w, "Failed to decode image", http.StatusInternalServerError)
		return
	}

	out := s.processor.RenderLabels(img, set, func(class string) color.NRGBA {
		return processing.ParseHexColor(s.colors.Ensure(class))
	})
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, out); err != nil {
		s.logger.Warn("failed to write preview", "image", name, "error", err)
	}
}

func nonNil(b []types.LabeledBox) []types.LabeledBox {
	if b == nil {
		return []types.LabeledBox{}
	}
	return b
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// respondStatusError writes the {status, message} error shape used by the
// pool endpoints.
func respondStatusError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"status": "error", "message": message}, status)
}

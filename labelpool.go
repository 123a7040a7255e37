// Package labelpool provides collaborative bounding-box annotation over a
// shared image pool.
//
// A server hands each annotator one image at a time, never giving the same
// unlabeled image to two annotators, and stores submitted boxes as normalized
// text records next to the pool. Annotator clients keep a navigation trail,
// edit boxes through a pointer-driven state machine and may ask the server
// for model predictions.
//
// Basic server usage:
//
//	cfg := config.Default()
//	cfg.Server.ImageDir = "./images"
//	svc, err := labelpool.NewService(cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	log.Fatal(http.ListenAndServe(cfg.Addr(), svc.Handler()))
//
// Basic client usage:
//
//	sess, err := labelpool.Connect(ctx, "10.0.0.5:8000", "alice", session.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := sess.LoadNext(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// The package consists of these main components:
//
//  1. Ledger (pkg/ledger): exclusive image assignment per annotator
//  2. Label store (pkg/labelstore): record format and pool listing
//  3. Session (pkg/session): client navigation, submission and prediction merge
//  4. Editor (pkg/editor) and viewport (pkg/viewport): interactive box editing
//  5. Detection (pkg/detection): vision model backed predictions
//  6. Region proposals (pkg/vision): model-free box suggestions
//  7. Export (pkg/export): training dataset export
package labelpool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/menta2k/labelpool/internal/config"
	"github.com/menta2k/labelpool/internal/server"
	"github.com/menta2k/labelpool/pkg/client"
	"github.com/menta2k/labelpool/pkg/detection"
	"github.com/menta2k/labelpool/pkg/export"
	"github.com/menta2k/labelpool/pkg/labelstore"
	"github.com/menta2k/labelpool/pkg/ledger"
	"github.com/menta2k/labelpool/pkg/llamacpp"
	"github.com/menta2k/labelpool/pkg/ollama"
	"github.com/menta2k/labelpool/pkg/remote"
	"github.com/menta2k/labelpool/pkg/session"
	"github.com/menta2k/labelpool/pkg/vision"
)

// Version of the labelpool library
const Version = "1.0.0"

// Service is a configured pool server
type Service struct {
	config   *config.Config
	store    *labelstore.Store
	ledger   *ledger.Ledger
	detector *detection.Detector
	server   *server.Server
	logger   *slog.Logger

	modelName string
}

// NewService validates cfg and wires the store, ledger, optional detector and
// HTTP server. A nil logger uses slog.Default.
func NewService(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := labelstore.New(cfg.Server.ImageDir, cfg.LabelDir(), labelstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	svc := &Service{
		config: cfg,
		store:  store,
		ledger: ledger.New(store, ledger.WithLogger(logger)),
		logger: logger,
	}

	opts := server.Options{
		Logger:       logger,
		PredictRate:  cfg.Server.PredictRate,
		PredictBurst: cfg.Server.PredictBurst,
		AllowOrigins: cfg.Server.AllowOrigins,
	}
	switch {
	case cfg.Model.Backend == "saliency":
		proposer := vision.New(vision.Config{})
		svc.modelName = proposer.ModelName()
		opts.Predictor = proposer
	case cfg.ModelEnabled():
		vc, err := NewVisionClient(cfg.Model.Backend, cfg.Model.URL)
		if err != nil {
			return nil, err
		}
		svc.detector = detection.NewDetector(vc, cfg.Model.Name,
			detection.WithThreshold(cfg.Model.Threshold),
			detection.WithMaxDim(cfg.Model.MaxDim),
			detection.WithPrompt(cfg.Model.Prompt),
			detection.WithLogger(logger),
		)
		svc.modelName = svc.detector.ModelName()
		opts.Predictor = svc.detector
	}
	svc.server = server.New(store, svc.ledger, opts)
	return svc, nil
}

// Handler returns the HTTP handler serving the pool
func (s *Service) Handler() http.Handler { return s.server.Handler() }

// Store returns the label store
func (s *Service) Store() *labelstore.Store { return s.store }

// Ledger returns the assignment ledger
func (s *Service) Ledger() *ledger.Ledger { return s.ledger }

// ModelName returns the configured prediction model, or "" when disabled
func (s *Service) ModelName() string { return s.modelName }

// Export writes the labeled part of the pool to target as a training dataset
func (s *Service) Export(target string) (*export.Result, error) {
	res, err := export.Export(s.store.ImageDir(), s.store.LabelDir(), target)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	s.logger.Info("dataset exported", "dir", res.Dir, "images", res.Count, "classes", len(res.Classes))
	return res, nil
}

// NewVisionClient creates the vision backend named by backend
func NewVisionClient(backend, url string) (client.VisionClient, error) {
	switch backend {
	case "ollama":
		c, err := ollama.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown backend: %s (use 'ollama' or 'llamacpp')", backend)
	}
}

// Connect checks that the server at serverURL is online and starts a session
// for user.
func Connect(ctx context.Context, serverURL, user string, opts session.Options) (*session.Session, error) {
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("user name is required")
	}
	c, err := remote.NewClient(serverURL)
	if err != nil {
		return nil, err
	}
	h, err := c.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	if opts.Logger != nil {
		opts.Logger.Info("connected", "server", c.BaseURL(), "model", h.Model, "user", user)
	}
	return session.New(c, user, opts), nil
}

// NewLogger returns a text logger writing to w at the named level
// (debug, info, warn or error; anything else means info).
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/menta2k/labelpool"
	"github.com/menta2k/labelpool/internal/config"
	"github.com/menta2k/labelpool/pkg/detection"
	"github.com/menta2k/labelpool/pkg/export"
	"github.com/menta2k/labelpool/pkg/processing"
)

func main() {
	var configPath, dir, labelDir, host string
	var port int
	var backend, url, model string
	var threshold float64
	var doExport bool
	var exportDir string
	var testVision string
	var logLevel string
	var saveConfig bool

	flag.StringVar(&configPath, "config", "", "config file (default ~/.config/labelpool/config.json if present)")
	flag.StringVar(&dir, "dir", "", "image pool directory")
	flag.StringVar(&labelDir, "labels", "", "label directory (default <dir>/labels_collected)")
	flag.StringVar(&host, "host", "", "listen host")
	flag.IntVar(&port, "port", 0, "listen port (default 8000)")

	flag.StringVar(&backend, "backend", "", "prediction backend: ollama, llamacpp or saliency")
	flag.StringVar(&url, "url", "", "backend server URL")
	flag.StringVar(&model, "model", "", "vision model name; empty disables /predict unless -backend saliency")
	flag.Float64Var(&threshold, "threshold", -1, "minimum prediction confidence (0..1)")

	flag.BoolVar(&doExport, "export", false, "export the labeled pool as a training dataset and exit")
	flag.StringVar(&exportDir, "export-dir", "", "export target (default <export.output_dir>/dataset_export_<timestamp>)")
	flag.StringVar(&testVision, "test-vision", "", "ask the model to describe this image and exit")

	flag.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	flag.BoolVar(&saveConfig, "save-config", false, "write the effective configuration to -config and exit")
	flag.Parse()

	cfg := config.Default()
	if configPath == "" && !saveConfig {
		if p := config.GetConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				configPath = p
			}
		}
	}
	if configPath != "" {
		if loaded, err := config.LoadFromFile(configPath); err == nil {
			cfg = loaded
		} else if !saveConfig {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	// Flags win over file and environment
	if dir != "" {
		cfg.Server.ImageDir = dir
	}
	if labelDir != "" {
		cfg.Server.LabelDir = labelDir
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if backend != "" {
		cfg.Model.Backend = backend
	}
	if url != "" {
		cfg.Model.URL = url
	}
	if model != "" {
		cfg.Model.Name = model
	}
	if threshold >= 0 {
		cfg.Model.Threshold = threshold
	}
	if logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}

	if saveConfig {
		if configPath == "" {
			configPath = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(configPath); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", configPath)
		return
	}

	if cfg.Server.ImageDir == "" {
		log.Fatalf("usage: %s -dir images/ [-port 8000] [-backend ollama|llamacpp -model name [-url server_url] | -backend saliency] [-export]", filepath.Base(os.Args[0]))
	}

	logger := labelpool.NewLogger(os.Stderr, cfg.Server.LogLevel)

	if testVision != "" {
		runTestVision(cfg, testVision)
		return
	}

	svc, err := labelpool.NewService(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}

	if doExport {
		target := exportDir
		if target == "" {
			target = filepath.Join(cfg.Export.OutputDir, export.DirName(time.Now()))
		}
		res, err := svc.Export(target)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("exported %d images, %d classes to %s\n", res.Count, len(res.Classes), res.Dir)
		fmt.Printf("dataset config: %s\n", res.YAMLPath)
		return
	}

	images, err := svc.Store().Images()
	if err != nil {
		log.Fatal(err)
	}
	done, err := svc.Store().Completed()
	if err != nil {
		log.Fatal(err)
	}
	model = svc.ModelName()
	if model == "" {
		model = "none"
	}
	logger.Info("pool loaded", "dir", cfg.Server.ImageDir, "images", len(images), "labeled", len(done), "model", model)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// runTestVision checks that the configured model can see images at all.
func runTestVision(cfg *config.Config, path string) {
	if !cfg.ModelEnabled() || cfg.Model.Backend == "saliency" {
		log.Fatalf("-test-vision needs -backend ollama|llamacpp and -model")
	}
	vc, err := labelpool.NewVisionClient(cfg.Model.Backend, cfg.Model.URL)
	if err != nil {
		log.Fatal(err)
	}
	processor := processing.NewProcessor()
	img, err := processor.LoadImage(path)
	if err != nil {
		log.Fatal(err)
	}
	imgB64, err := processor.PrepareImageForModel(img, "jpg", cfg.Model.MaxDim, 85)
	if err != nil {
		log.Fatal(err)
	}

	detector := detection.NewDetector(vc, cfg.Model.Name)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	answer, err := detector.TestVision(ctx, imgB64)
	if err != nil {
		log.Fatalf("Vision test failed: %v", err)
	}
	fmt.Println(answer)
}

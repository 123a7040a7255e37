package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LabelDirName is the default label directory inside the image directory
const LabelDirName = "labels_collected"

// Config holds the application configuration
type Config struct {
	Server ServerConfig `json:"server"`
	Model  ModelConfig  `json:"model"`
	Client ClientConfig `json:"client"`
	Export ExportConfig `json:"export"`
}

// ServerConfig holds configuration for the pool server
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ImageDir     string   `json:"image_dir"`
	LabelDir     string   `json:"label_dir"`
	PredictRate  float64  `json:"predict_rate"`
	PredictBurst int      `json:"predict_burst"`
	AllowOrigins []string `json:"allow_origins"`
	LogLevel     string   `json:"log_level"`
}

// ModelConfig holds configuration for the prediction backend
type ModelConfig struct {
	Backend   string  `json:"backend"`
	URL       string  `json:"url"`
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
	MaxDim    int     `json:"max_dim"`
	Prompt    string  `json:"prompt,omitempty"`
}

// ClientConfig holds configuration for the annotator client
type ClientConfig struct {
	ServerURL     string `json:"server_url"`
	User          string `json:"user"`
	AutoPredict   bool   `json:"auto_predict"`
	UploadQuality int    `json:"upload_quality"`
	ViewWidth     int    `json:"view_width"`
	ViewHeight    int    `json:"view_height"`
}

// ExportConfig holds configuration for dataset export
type ExportConfig struct {
	OutputDir string `json:"output_dir"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ImageDir:     "./images",
			PredictRate:  2,
			PredictBurst: 4,
			AllowOrigins: []string{"*"},
			LogLevel:     "info",
		},
		Model: ModelConfig{
			Backend:   "ollama",
			URL:       "http://localhost:11434",
			Threshold: 0.25,
			MaxDim:    1024,
		},
		Client: ClientConfig{
			ServerURL:     "http://localhost:8000",
			UploadQuality: 90,
			ViewWidth:     1280,
			ViewHeight:    800,
		},
		Export: ExportConfig{
			OutputDir: "./exports",
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Missing fields keep
// their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LabelDir returns the configured label directory, defaulting to
// LabelDirName inside the image directory.
func (c *Config) LabelDir() string {
	if c.Server.LabelDir != "" {
		return c.Server.LabelDir
	}
	return filepath.Join(c.Server.ImageDir, LabelDirName)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ApplyEnv overrides fields from LABELPOOL_* environment variables
func (c *Config) ApplyEnv() error {
	c.Server.Host = getEnv("LABELPOOL_HOST", c.Server.Host)
	c.Server.ImageDir = getEnv("LABELPOOL_IMAGE_DIR", c.Server.ImageDir)
	c.Server.LabelDir = getEnv("LABELPOOL_LABEL_DIR", c.Server.LabelDir)
	c.Server.LogLevel = getEnv("LABELPOOL_LOG_LEVEL", c.Server.LogLevel)
	c.Model.Backend = getEnv("LABELPOOL_MODEL_BACKEND", c.Model.Backend)
	c.Model.URL = getEnv("LABELPOOL_MODEL_URL", c.Model.URL)
	c.Model.Name = getEnv("LABELPOOL_MODEL", c.Model.Name)
	c.Client.ServerURL = getEnv("LABELPOOL_SERVER_URL", c.Client.ServerURL)
	c.Client.User = getEnv("LABELPOOL_USER", c.Client.User)
	c.Export.OutputDir = getEnv("LABELPOOL_EXPORT_DIR", c.Export.OutputDir)

	if v := os.Getenv("LABELPOOL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LABELPOOL_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LABELPOOL_THRESHOLD"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LABELPOOL_THRESHOLD: %w", err)
		}
		c.Model.Threshold = t
	}
	if v := os.Getenv("LABELPOOL_AUTO_PREDICT"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LABELPOOL_AUTO_PREDICT: %w", err)
		}
		c.Client.AutoPredict = on
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if strings.TrimSpace(c.Server.ImageDir) == "" {
		return fmt.Errorf("server.image_dir cannot be empty")
	}

	if c.Server.PredictRate <= 0 {
		return fmt.Errorf("server.predict_rate must be positive")
	}

	if c.Server.PredictBurst < 1 {
		return fmt.Errorf("server.predict_burst must be at least 1")
	}

	switch c.Model.Backend {
	case "", "ollama", "llamacpp", "saliency":
	default:
		return fmt.Errorf("model.backend must be one of ollama, llamacpp, saliency or empty")
	}

	if c.Model.Threshold < 0 || c.Model.Threshold > 1 {
		return fmt.Errorf("model.threshold must be between 0 and 1")
	}

	if c.Model.MaxDim < 0 {
		return fmt.Errorf("model.max_dim cannot be negative")
	}

	if c.Client.UploadQuality < 1 || c.Client.UploadQuality > 100 {
		return fmt.Errorf("client.upload_quality must be between 1 and 100")
	}

	if c.Client.ViewWidth < 1 || c.Client.ViewHeight < 1 {
		return fmt.Errorf("client.view_width and client.view_height must be positive")
	}

	return nil
}

// ModelEnabled reports whether a prediction backend is configured
func (c *Config) ModelEnabled() bool {
	if c.Model.Backend == "saliency" {
		return true
	}
	return c.Model.Backend != "" && c.Model.Name != ""
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "labelpool", "config.json")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Package labelstore persists per-image label records in the normalized
// center-box text format and exposes the image pool they belong to.
package labelstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/menta2k/labelpool/internal/utils"
	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/types"
)

var (
	// ErrImageNotFound is returned when the source image of a record is missing.
	ErrImageNotFound = errors.New("image source not found")
	// ErrInvalidName is returned for names that would escape the pool directory.
	ErrInvalidName = errors.New("invalid image name")
	// ErrEmptyClass is returned when a box has no class name.
	ErrEmptyClass = errors.New("empty class name")
)

// Store reads and writes label records for the images of one pool.
type Store struct {
	imageDir  string
	labelDir  string
	processor *processing.Processor
	logger    *slog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for skipped or failed operations
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store over imageDir keeping records in labelDir, which is
// created if needed.
func New(imageDir, labelDir string, opts ...Option) (*Store, error) {
	if !utils.DirExists(imageDir) {
		return nil, fmt.Errorf("image directory %s does not exist", imageDir)
	}
	if err := utils.EnsureDir(labelDir); err != nil {
		return nil, fmt.Errorf("failed to create label directory: %w", err)
	}
	s := &Store{
		imageDir:  imageDir,
		labelDir:  labelDir,
		processor: processing.NewProcessor(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ImageDir returns the pool directory
func (s *Store) ImageDir() string { return s.imageDir }

// LabelDir returns the record directory
func (s *Store) LabelDir() string { return s.labelDir }

// ImagePath returns the path of a pool image after validating its name.
func (s *Store) ImagePath(name string) (string, error) {
	if !utils.IsSafeName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.imageDir, name), nil
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.labelDir, utils.Stem(name)+RecordExt)
}

// Images lists the pool in stable name order.
func (s *Store) Images() ([]string, error) {
	return utils.ListImageFiles(s.imageDir)
}

// Completed returns the stems of every image that has a label record.
func (s *Store) Completed() (map[string]bool, error) {
	return utils.ListStems(s.labelDir, RecordExt)
}

// IsCompleted reports whether a record exists for the image
func (s *Store) IsCompleted(name string) bool {
	return utils.FileExists(s.recordPath(name))
}

// Dimensions returns the true pixel size of a pool image.
func (s *Store) Dimensions(name string) (int, int, error) {
	path, err := s.ImagePath(name)
	if err != nil {
		return 0, 0, err
	}
	if !utils.FileExists(path) {
		return 0, 0, fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}
	w, h, err := s.processor.ImageSize(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read dimensions of %s: %w", name, err)
	}
	return w, h, nil
}

// Load returns the saved boxes of an image in pixel space. An image without
// a record has an empty label set.
func (s *Store) Load(name string) (types.LabelSet, error) {
	if !utils.IsSafeName(name) {
		return types.LabelSet{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := os.Open(s.recordPath(name))
	if os.IsNotExist(err) {
		return types.LabelSet{}, nil
	}
	if err != nil {
		return types.LabelSet{}, fmt.Errorf("failed to open label record: %w", err)
	}
	defer f.Close()

	w, h, err := s.Dimensions(name)
	if err != nil {
		return types.LabelSet{}, err
	}
	return ParseRecord(f, w, h)
}

// Save normalizes the set against the image's true dimensions and replaces
// its record atomically.
func (s *Store) Save(name string, set types.LabelSet) error {
	w, h, err := s.Dimensions(name)
	if err != nil {
		return err
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("image %s has no area", name)
	}

	var buf bytes.Buffer
	if err := FormatRecord(&buf, set, w, h); err != nil {
		return fmt.Errorf("failed to format labels: %w", err)
	}
	if err := utils.WriteFileAtomic(s.recordPath(name), buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to save labels for %s: %w", name, err)
	}
	s.logger.Debug("label record written", "image", name, "boxes", set.Len())
	return nil
}

// OpenImage opens the raw bytes of a pool image.
func (s *Store) OpenImage(name string) (io.ReadSeekCloser, error) {
	path, err := s.ImagePath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

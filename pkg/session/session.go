// Package session drives one annotator's work against a labelpool server:
// fetching assigned images with their saved boxes, submitting edits, moving
// through the visited-image trail and merging model predictions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/menta2k/labelpool/pkg/classes"
	"github.com/menta2k/labelpool/pkg/processing"
	"github.com/menta2k/labelpool/pkg/remote"
	"github.com/menta2k/labelpool/pkg/types"
)

// DuplicateTolerance is how close, in pixels, a predicted top-left corner may
// be to an existing one before the prediction is dropped.
const DuplicateTolerance = 2.0

var (
	// ErrNoImage is returned when an operation needs a loaded image
	ErrNoImage = errors.New("no image loaded")
	// ErrHistoryStart is returned by GoBack on the first visited image
	ErrHistoryStart = errors.New("already at the first image")
)

// API is the server surface a session needs. *remote.Client implements it.
type API interface {
	NextImage(ctx context.Context, user string) (*remote.Image, error)
	ImageByName(ctx context.Context, name string) (*remote.Image, error)
	Labels(ctx context.Context, name string) ([]types.LabeledBox, error)
	Submit(ctx context.Context, user, name string, labels []types.LabeledBox) error
	Predict(ctx context.Context, data []byte) ([]types.LabeledBox, error)
}

// Options configures a Session. Zero values are usable.
type Options struct {
	Logger      *slog.Logger
	Classes     *classes.Registry
	AutoPredict bool
	// Status receives short progress text for the user.
	Status func(string)
	// OnLoad runs after a new image is committed as current.
	OnLoad func(img *remote.Image)
	// UploadQuality is the JPEG quality used for prediction uploads.
	UploadQuality int
}

// Session is one annotator's view of the pool. Navigation operations are
// serialized; a request issued while another is in flight waits for it.
type Session struct {
	mu          sync.Mutex
	api         API
	user        string
	logger      *slog.Logger
	classes     *classes.Registry
	processor   *processing.Processor
	status      func(string)
	onLoad      func(*remote.Image)
	quality     int
	autoPredict bool

	current *remote.Image
	labels  *types.LabelSet
	history *History
}

// New creates a session for user
func New(api API, user string, opts Options) *Session {
	s := &Session{
		api:         api,
		user:        user,
		logger:      opts.Logger,
		classes:     opts.Classes,
		processor:   processing.NewProcessor(),
		status:      opts.Status,
		onLoad:      opts.OnLoad,
		quality:     opts.UploadQuality,
		autoPredict: opts.AutoPredict,
		labels:      &types.LabelSet{},
		history:     NewHistory(),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.classes == nil {
		s.classes = classes.New(uint64(time.Now().UnixNano()))
	}
	if s.status == nil {
		s.status = func(string) {}
	}
	if s.quality <= 0 {
		s.quality = 90
	}
	return s
}

// User returns the annotator name
func (s *Session) User() string { return s.user }

// Labels returns the label set of the current image. The pointer stays
// valid across navigation; its content is replaced on every load.
func (s *Session) Labels() *types.LabelSet { return s.labels }

// Classes returns the class registry
func (s *Session) Classes() *classes.Registry { return s.classes }

// Current returns the loaded image, or nil
func (s *Session) Current() *remote.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// History returns a copy of the visited trail and the cursor
func (s *Session) History() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Items(), s.history.Cursor()
}

// CanGoBack reports whether GoBack has somewhere to go
func (s *Session) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanBack()
}

// AutoPredict reports whether predictions run on empty images
func (s *Session) AutoPredict() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoPredict
}

// LoadNext asks the server for the next assigned image. It returns
// remote.ErrPoolExhausted when nothing is left.
func (s *Session) LoadNext(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadNext(ctx)
}

// Submit sends the current labels to the server
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submit(ctx)
}

// GoBack saves the current image best-effort and shows the previous one
func (s *Session) GoBack(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.history.CanBack() {
		return ErrHistoryStart
	}
	s.submitBestEffort(ctx)

	name, _ := s.history.Peek(-1)
	if err := s.fetchByName(ctx, name); err != nil {
		return err
	}
	s.history.Move(-1)
	return nil
}

// GoForward saves the current image best-effort and shows the next one in
// the trail, or a newly assigned image at the end of it.
func (s *Session) GoForward(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitBestEffort(ctx)

	if !s.history.CanForward() {
		return s.loadNext(ctx)
	}
	name, _ := s.history.Peek(1)
	if err := s.fetchByName(ctx, name); err != nil {
		return err
	}
	s.history.Move(1)
	return nil
}

// SetAutoPredict toggles auto-prediction. Turning it on predicts the current
// image at once.
func (s *Session) SetAutoPredict(ctx context.Context, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autoPredict = on
	if on && s.current != nil {
		s.predict(ctx)
	}
}

// Predict runs the prediction collaborator on the current image and merges
// the results.
func (s *Session) Predict(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrNoImage
	}
	return s.predict(ctx)
}

func (s *Session) loadNext(ctx context.Context) error {
	s.status("Fetching...")
	img, err := s.api.NextImage(ctx, s.user)
	if err != nil {
		if errors.Is(err, remote.ErrPoolExhausted) {
			s.status("No more images")
		}
		return err
	}
	if err := s.commit(ctx, img); err != nil {
		return err
	}
	s.history.Push(img.Name)
	return nil
}

func (s *Session) fetchByName(ctx context.Context, name string) error {
	s.status("Fetching...")
	img, err := s.api.ImageByName(ctx, name)
	if err != nil {
		return err
	}
	return s.commit(ctx, img)
}

// commit fetches the saved labels for img and only then makes it current.
func (s *Session) commit(ctx context.Context, img *remote.Image) error {
	saved, err := s.api.Labels(ctx, img.Name)
	if err != nil {
		return err
	}
	for _, l := range saved {
		s.classes.Ensure(l.Class)
	}

	s.current = img
	s.labels.Replace(saved)
	if s.onLoad != nil {
		s.onLoad(img)
	}
	s.logger.Debug("image loaded", "image", img.Name, "labels", len(saved))

	if s.autoPredict && s.labels.Len() == 0 {
		s.predict(ctx)
	}
	s.status("Labeling: " + img.Name)
	return nil
}

func (s *Session) submit(ctx context.Context) error {
	if s.current == nil {
		return ErrNoImage
	}
	snapshot := s.labels.Clone()
	if err := s.api.Submit(ctx, s.user, s.current.Name, snapshot.Boxes); err != nil {
		return fmt.Errorf("failed to submit %s: %w", s.current.Name, err)
	}
	s.logger.Info("labels submitted", "image", s.current.Name, "boxes", snapshot.Len())
	return nil
}

func (s *Session) submitBestEffort(ctx context.Context) {
	if s.current == nil {
		return
	}
	if err := s.submit(ctx); err != nil {
		s.logger.Warn("submit before navigation failed", "error", err)
	}
}

// predict is best-effort: failures are logged and the label set is left as is.
func (s *Session) predict(ctx context.Context) error {
	img := s.current
	s.status("AI predicting...")

	decoded, err := s.processor.DecodeImage(img.Data)
	if err != nil {
		s.logger.Warn("prediction skipped", "image", img.Name, "error", err)
		s.status("Labeling: " + img.Name)
		return err
	}
	upload, err := s.processor.EncodeForUpload(decoded, s.quality)
	if err != nil {
		s.logger.Warn("prediction skipped", "image", img.Name, "error", err)
		s.status("Labeling: " + img.Name)
		return err
	}

	preds, err := s.api.Predict(ctx, upload)
	if err != nil {
		s.logger.Warn("prediction failed", "image", img.Name, "error", err)
		s.status("Labeling: " + img.Name)
		return err
	}

	added := MergePredictions(s.labels, preds, s.classes)
	s.logger.Info("predictions merged", "image", img.Name, "predicted", len(preds), "added", added)
	s.status("Labeling: " + img.Name + " (AI Applied)")
	return nil
}

// MergePredictions appends every prediction whose top-left corner is not
// within DuplicateTolerance of a box already in set, regardless of class.
// Accepted predictions take part in later comparisons. Unknown classes are
// registered in reg when it is non-nil. It returns the number of boxes added.
func MergePredictions(set *types.LabelSet, preds []types.LabeledBox, reg *classes.Registry) int {
	added := 0
	for _, p := range preds {
		if reg != nil {
			reg.Ensure(p.Class)
		}
		if IsDuplicate(set, p.Box) {
			continue
		}
		set.Append(p)
		added++
	}
	return added
}

// IsDuplicate reports whether b's top-left corner is within
// DuplicateTolerance of any box in set.
func IsDuplicate(set *types.LabelSet, b types.BoundingBox) bool {
	for _, ex := range set.Boxes {
		if math.Abs(ex.Box.X1-b.X1) < DuplicateTolerance && math.Abs(ex.Box.Y1-b.Y1) < DuplicateTolerance {
			return true
		}
	}
	return false
}

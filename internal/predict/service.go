package predict

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/smarttrash/classifier/internal/catalog"
	"github.com/smarttrash/classifier/internal/classifier"
	"github.com/smarttrash/classifier/internal/domain"
	"github.com/smarttrash/classifier/internal/fallback"
)

// ErrValidation is returned by Validate for unsupported uploads.
var ErrValidation = errors.New("unsupported file type")

const (
	// BinNone marks a result that was rejected before classification.
	BinNone = "N/A"
	// ValidationMessage is shown to users whose upload was rejected.
	ValidationMessage = "Formato file non supportato"
)

var (
	allowedExtensions   = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}
	allowedContentTypes = map[string]bool{"image/jpeg": true, "image/jpg": true, "image/png": true}
)

// Upload is an image as received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Validate accepts JPEG and PNG uploads. A filename's extension is
// authoritative; the content type is only consulted when there is no name.
func Validate(u Upload) error {
	if u.Filename != "" {
		ext := strings.ToLower(filepath.Ext(u.Filename))
		if !allowedExtensions[ext] {
			return fmt.Errorf("%w: %q", ErrValidation, u.Filename)
		}
		return nil
	}
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(u.ContentType, ";", 2)[0]))
	if !allowedContentTypes[ct] {
		return fmt.Errorf("%w: content type %q", ErrValidation, u.ContentType)
	}
	return nil
}

// Rejected is the neutral result for an upload that failed validation.
func Rejected() domain.Result {
	return domain.Result{
		Material:   catalog.DefaultEntry.DisplayName,
		Bin:        BinNone,
		Tip:        "Carica una foto in formato JPEG o PNG.",
		Color:      catalog.DefaultEntry.Color,
		Confidence: 0,
		Error:      ValidationMessage,
	}
}

// ModelPipeline is Classifier followed by the label resolver.
type ModelPipeline struct {
	classifier *classifier.Classifier
	catalog    *catalog.Catalog
}

func NewModelPipeline(c *classifier.Classifier, cat *catalog.Catalog) *ModelPipeline {
	return &ModelPipeline{classifier: c, catalog: cat}
}

func (p *ModelPipeline) Predict(ctx context.Context, data []byte) (domain.Result, error) {
	pred, err := p.classifier.Classify(ctx, data)
	if err != nil {
		return domain.Result{}, err
	}
	res := p.catalog.Resolve(pred.Index)
	res.Confidence = pred.Confidence
	return res, nil
}

// Readiness reports whether predictions come from the model.
type Readiness interface {
	IsReady() bool
}

// Service is the single entry point for prediction requests. Predict never
// fails: every path yields a result.
type Service struct {
	guard   *fallback.Guarded
	ready   Readiness
	workers chan struct{}
	log     *logrus.Entry
}

// NewService guards pipeline with predictor and runs at most workers
// predictions at once.
func NewService(pipeline fallback.Pipeline, predictor *fallback.Predictor, ready Readiness, workers int, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		guard:   fallback.Guard(pipeline, predictor, log),
		ready:   ready,
		workers: make(chan struct{}, workers),
		log:     log.WithField("component", "predict"),
	}
}

// Predict validates the upload and classifies it, falling back on any failure.
func (s *Service) Predict(ctx context.Context, u Upload) domain.Result {
	if err := Validate(u); err != nil {
		s.log.WithField("filename", u.Filename).WithField("content_type", u.ContentType).Info("rejected upload")
		return Rejected()
	}

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		return s.guard.Fallback(fmt.Errorf("waiting for a worker: %w", ctx.Err()))
	}

	return s.guard.Predict(ctx, u.Data)
}

// Mode is "model" when the registry is ready and "fallback" otherwise.
func (s *Service) Mode() string {
	if s.ready != nil && s.ready.IsReady() {
		return "model"
	}
	return "fallback"
}

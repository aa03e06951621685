package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/smarttrash/classifier/internal/preprocess"
)

var (
	// ErrModelUnavailable means the registry has no usable model.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrPreprocessing wraps decode and format failures.
	ErrPreprocessing = errors.New("preprocessing failed")
	// ErrInference wraps forward pass failures and invalid model output.
	ErrInference = errors.New("inference failed")
)

// Model is the part of the model registry the classifier needs.
type Model interface {
	IsReady() bool
	Forward(ctx context.Context, input []float32) ([]float32, error)
}

// Preprocessor turns encoded bytes into model input.
type Preprocessor interface {
	Preprocess(data []byte) (preprocess.Tensor, error)
}

// Prediction is the selected class and the full probability vector.
type Prediction struct {
	Index         int
	Confidence    float64
	Probabilities []float32
}

// Classifier runs bytes through preprocessing and the model. It never
// falls back on its own; callers decide what to do with errors.
type Classifier struct {
	model      Model
	pre        Preprocessor
	numClasses int
	timeout    time.Duration
}

// Option tweaks a Classifier.
type Option func(*Classifier)

// WithTimeout bounds each forward pass. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// New builds a Classifier expecting numClasses probabilities per prediction.
func New(model Model, pre Preprocessor, numClasses int, opts ...Option) *Classifier {
	c := &Classifier{model: model, pre: pre, numClasses: numClasses}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns the most probable class for data.
func (c *Classifier) Classify(ctx context.Context, data []byte) (Prediction, error) {
	if !c.model.IsReady() {
		return Prediction{}, ErrModelUnavailable
	}

	tensor, err := c.pre.Preprocess(data)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrPreprocessing, err)
	}

	probs, err := c.forward(ctx, tensor.Data)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if err := c.check(probs); err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	idx := Argmax(probs)
	return Prediction{
		Index:         idx,
		Confidence:    widen(probs[idx]),
		Probabilities: probs,
	}, nil
}

// widen converts p via its shortest decimal form, so 0.6 stays 0.6
// instead of 0.6000000238418579.
func widen(p float32) float64 {
	f, err := strconv.ParseFloat(strconv.FormatFloat(float64(p), 'g', -1, 32), 64)
	if err != nil {
		return float64(p)
	}
	return f
}

func (c *Classifier) forward(ctx context.Context, input []float32) ([]float32, error) {
	if c.timeout <= 0 {
		return c.model.Forward(ctx, input)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		probs []float32
		err   error
	}
	done := make(chan result, 1)
	go func() {
		probs, err := c.model.Forward(ctx, input)
		done <- result{probs, err}
	}()

	select {
	case r := <-done:
		return r.probs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Classifier) check(probs []float32) error {
	if len(probs) != c.numClasses {
		return fmt.Errorf("model returned %d probabilities, catalog has %d classes", len(probs), c.numClasses)
	}
	for i, p := range probs {
		if math.IsNaN(float64(p)) || p < 0 || p > 1 {
			return fmt.Errorf("probability %d out of range: %v", i, p)
		}
	}
	return nil
}

// Argmax returns the index of the largest value. Ties go to the lowest
// index. It returns -1 for an empty slice.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

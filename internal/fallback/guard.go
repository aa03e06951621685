package fallback

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/smarttrash/classifier/internal/domain"
)

// Pipeline produces a result or an error for encoded image bytes.
type Pipeline interface {
	Predict(ctx context.Context, data []byte) (domain.Result, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, data []byte) (domain.Result, error)

func (f PipelineFunc) Predict(ctx context.Context, data []byte) (domain.Result, error) {
	return f(ctx, data)
}

// Guarded wraps a Pipeline so that errors and panics turn into a fallback
// result carrying the cause in Error.
type Guarded struct {
	next      Pipeline
	predictor *Predictor
	log       *logrus.Entry
}

func Guard(next Pipeline, predictor *Predictor, log *logrus.Entry) *Guarded {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Guarded{next: next, predictor: predictor, log: log.WithField("component", "fallback")}
}

// Predict always returns a well-formed result.
func (g *Guarded) Predict(ctx context.Context, data []byte) (res domain.Result) {
	defer func() {
		if p := recover(); p != nil {
			res = g.Fallback(fmt.Errorf("pipeline panicked: %v", p))
		}
	}()

	res, err := g.next.Predict(ctx, data)
	if err != nil {
		return g.Fallback(err)
	}
	return res
}

// Fallback returns a guessed result annotated with cause.
func (g *Guarded) Fallback(cause error) domain.Result {
	res := g.predictor.Predict()
	if cause != nil {
		res.Error = cause.Error()
		g.log.WithError(cause).WithField("bin", res.Bin).Debug("served fallback prediction")
	}
	return res
}

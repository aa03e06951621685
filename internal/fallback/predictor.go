package fallback

import (
	"math/rand/v2"
	"sync"

	"github.com/smarttrash/classifier/internal/catalog"
	"github.com/smarttrash/classifier/internal/domain"
)

// Confidence is reported by every fallback result. It is a fixed marker,
// not a computed value.
const Confidence = 0.80

// Predictor guesses a bin when the model cannot be used.
type Predictor struct {
	bins []catalog.Bin

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPredictor picks uniformly among catalog.Bins. A nil src uses the
// global generator.
func NewPredictor(src rand.Source) *Predictor {
	p := &Predictor{bins: catalog.Bins}
	if src != nil {
		p.rng = rand.New(src)
	}
	return p
}

// Predict never fails.
func (p *Predictor) Predict() domain.Result {
	b := p.bins[p.intn(len(p.bins))]
	return domain.Result{
		Material:   b.Material,
		Bin:        b.Code,
		Tip:        b.Tip,
		Color:      b.Color,
		Confidence: Confidence,
	}
}

func (p *Predictor) intn(n int) int {
	if p.rng == nil {
		return rand.IntN(n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}

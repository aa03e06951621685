package fallback

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/smarttrash/classifier/internal/catalog"
	"github.com/smarttrash/classifier/internal/domain"
)

func TestPredictConstantConfidence(t *testing.T) {
	p := NewPredictor(rand.NewPCG(1, 2))
	seen := map[string]bool{}

	for i := 0; i < 500; i++ {
		r := p.Predict()
		if r.Confidence != Confidence {
			t.Fatalf("Confidence = %v, want %v", r.Confidence, Confidence)
		}
		if !catalog.IsBin(r.Bin) {
			t.Fatalf("Bin %q not in the category set", r.Bin)
		}
		if r.Material == "" || r.Color == "" || r.Tip == "" {
			t.Fatalf("incomplete result %+v", r)
		}
		seen[r.Bin] = true
	}
	if len(seen) != len(catalog.Bins) {
		t.Errorf("saw %d bins in 500 draws, want all %d", len(seen), len(catalog.Bins))
	}
}

func TestPredictSeededIsReproducible(t *testing.T) {
	a := NewPredictor(rand.NewPCG(7, 7))
	b := NewPredictor(rand.NewPCG(7, 7))
	for i := 0; i < 20; i++ {
		if a.Predict() != b.Predict() {
			t.Fatal("same seed produced different sequences")
		}
	}
}

func TestPredictConcurrent(t *testing.T) {
	p := NewPredictor(rand.NewPCG(3, 4))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Predict()
			}
		}()
	}
	wg.Wait()
}

func TestGuard(t *testing.T) {
	ok := domain.Result{Material: "Vetro", Bin: catalog.BinVetro, Confidence: 0.93}

	tests := []struct {
		name      string
		next      PipelineFunc
		wantError string
		wantConf  float64
	}{
		{
			name:     "passes results through",
			next:     func(context.Context, []byte) (domain.Result, error) { return ok, nil },
			wantConf: 0.93,
		},
		{
			name:      "error becomes fallback",
			next:      func(context.Context, []byte) (domain.Result, error) { return domain.Result{}, errors.New("decode failed") },
			wantError: "decode failed",
			wantConf:  Confidence,
		},
		{
			name:      "panic becomes fallback",
			next:      func(context.Context, []byte) (domain.Result, error) { panic("boom") },
			wantError: "pipeline panicked: boom",
			wantConf:  Confidence,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Guard(tt.next, NewPredictor(nil), nil)
			r := g.Predict(context.Background(), nil)
			if r.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", r.Error, tt.wantError)
			}
			if r.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", r.Confidence, tt.wantConf)
			}
			if !catalog.IsBin(r.Bin) {
				t.Errorf("Bin = %q", r.Bin)
			}
		})
	}
}

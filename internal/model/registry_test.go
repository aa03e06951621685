package model

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeSession struct {
	out    []float32
	err    error
	closed atomic.Bool
}

func (s *fakeSession) Run(input []float32) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func artifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := os.WriteFile(path, []byte("onnx"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	return path
}

func quietLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

// TestEnsureLoadedReady verifies the happy path and that the session is reused.
func TestEnsureLoadedReady(t *testing.T) {
	var calls atomic.Int32
	session := &fakeSession{out: []float32{0.2, 0.8}}
	r := NewRegistry(artifact(t), func(string) (Session, error) {
		calls.Add(1)
		return session, nil
	}, quietLog())

	if r.State() != StateUnloaded || r.IsReady() {
		t.Fatalf("new registry state = %v", r.State())
	}

	for i := 0; i < 3; i++ {
		st, err := r.EnsureLoaded()
		if err != nil || st != StateReady {
			t.Fatalf("EnsureLoaded() = %v, %v", st, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want 1", calls.Load())
	}

	out, err := r.Forward(context.Background(), []float32{1})
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if len(out) != 2 || out[1] != 0.8 {
		t.Errorf("Forward() = %v", out)
	}
	// The result must be a copy.
	out[0] = 42
	if session.out[0] == 42 {
		t.Error("Forward returned the session's buffer")
	}
}

// TestMissingArtifactIsCached verifies a missing file fails once and is not retried.
func TestMissingArtifactIsCached(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(filepath.Join(t.TempDir(), "missing.onnx"), func(string) (Session, error) {
		calls.Add(1)
		return &fakeSession{}, nil
	}, quietLog())

	for i := 0; i < 3; i++ {
		st, err := r.EnsureLoaded()
		if st != StateLoadFailed {
			t.Fatalf("state = %v, want load_failed", st)
		}
		if !errors.Is(err, ErrArtifactMissing) {
			t.Fatalf("err = %v, want ErrArtifactMissing", err)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("loader called %d times for a missing artifact", calls.Load())
	}
	if !errors.Is(r.Err(), ErrArtifactMissing) {
		t.Errorf("Err() = %v", r.Err())
	}
}

// TestLoadErrorNotRetriedUntilReset verifies the cached LoadFailed outcome.
func TestLoadErrorNotRetriedUntilReset(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	r := NewRegistry(artifact(t), func(string) (Session, error) {
		calls.Add(1)
		if fail.Load() {
			return nil, errors.New("corrupt checkpoint")
		}
		return &fakeSession{out: []float32{1}}, nil
	}, quietLog())

	r.EnsureLoaded()
	r.EnsureLoaded()
	if calls.Load() != 1 {
		t.Fatalf("loader called %d times, want 1", calls.Load())
	}
	if _, err := r.Forward(context.Background(), nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("Forward() on failed registry = %v, want ErrNotReady", err)
	}

	fail.Store(false)
	st, err := r.Reload()
	if err != nil || st != StateReady {
		t.Fatalf("Reload() = %v, %v", st, err)
	}
	if calls.Load() != 2 {
		t.Errorf("loader called %d times after reload, want 2", calls.Load())
	}
}

func TestLoaderPanicBecomesLoadFailed(t *testing.T) {
	r := NewRegistry(artifact(t), func(string) (Session, error) {
		panic("native crash")
	}, quietLog())

	st, err := r.EnsureLoaded()
	if st != StateLoadFailed || err == nil {
		t.Fatalf("EnsureLoaded() = %v, %v", st, err)
	}
}

// TestConcurrentEnsureLoaded checks only one caller performs the load.
func TestConcurrentEnsureLoaded(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(artifact(t), func(string) (Session, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &fakeSession{out: []float32{1}}, nil
	}, quietLog())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st, err := r.EnsureLoaded(); st != StateReady || err != nil {
				t.Errorf("EnsureLoaded() = %v, %v", st, err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want 1", calls.Load())
	}
}

func TestResetClosesSession(t *testing.T) {
	session := &fakeSession{out: []float32{1}}
	r := NewRegistry(artifact(t), func(string) (Session, error) { return session, nil }, quietLog())
	r.EnsureLoaded()

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if !session.closed.Load() {
		t.Error("session not closed")
	}
	if r.State() != StateUnloaded {
		t.Errorf("state after reset = %v", r.State())
	}
}

func TestForwardHonoursContext(t *testing.T) {
	r := NewRegistry(artifact(t), func(string) (Session, error) {
		return &fakeSession{out: []float32{1}}, nil
	}, quietLog())
	r.EnsureLoaded()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Forward(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Forward() = %v, want context.Canceled", err)
	}
}

func TestLoadFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	r := NewRegistry(filepath.Join(t.TempDir(), "nope.onnx"), nil, logrus.NewEntry(logger))
	r.EnsureLoaded()

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("last log entry = %+v, want a warning", entry)
	}
	if entry.Data["component"] != "model" {
		t.Errorf("component field = %v", entry.Data["component"])
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUnloaded:   "unloaded",
		StateLoading:    "loading",
		StateReady:      "ready",
		StateLoadFailed: "load_failed",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", st, st.String(), want)
		}
	}
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 2, 3, 1000})
	var sum float64
	for _, v := range out {
		if v < 0 || v > 1 || math.IsNaN(float64(v)) {
			t.Fatalf("Softmax value out of range: %v", out)
		}
		sum += float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("Softmax sum = %v", sum)
	}
	if out[3] < 0.999 {
		t.Errorf("Softmax max = %v", out[3])
	}
	if Softmax(nil) != nil {
		t.Error("Softmax(nil) should be nil")
	}
}

func TestLoadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	raw := `{"input_shape":[1,224,224,3],"output_shape":[1,6],"classes":["a","b"],"image_size":224}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	meta, err := LoadMetadata(path)
	if err != nil {
		t.Fatalf("LoadMetadata() error: %v", err)
	}
	if meta.ImageSize != 224 || len(meta.Classes) != 2 || meta.InputShape[3] != 3 {
		t.Errorf("LoadMetadata() = %+v", meta)
	}

	err = checkMetadata(ONNXOptions{
		MetadataPath: path,
		InputShape:   []int64{1, 224, 224, 3},
		Classes:      []string{"a", "c"},
	})
	if err == nil {
		t.Error("checkMetadata should reject mismatched classes")
	}

	err = checkMetadata(ONNXOptions{
		MetadataPath: filepath.Join(t.TempDir(), "absent.json"),
		InputShape:   []int64{1, 224, 224, 3},
		Classes:      []string{"a"},
	})
	if err != nil {
		t.Errorf("absent sidecar should be ignored, got %v", err)
	}
}

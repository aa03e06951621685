package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// State is the registry's position in Unloaded -> Loading -> {Ready, LoadFailed}.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateLoadFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadFailed:
		return "load_failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotReady is returned by Forward when no session is loaded.
	ErrNotReady = errors.New("model not ready")
	// ErrArtifactMissing is the load error when the artifact path does not exist.
	ErrArtifactMissing = errors.New("model artifact not found")
)

// Session runs one forward pass. Implementations need not be safe for
// concurrent use; the registry serializes calls to Run.
type Session interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Loader builds a Session from the artifact at path.
type Loader func(path string) (Session, error)

// Registry owns the model session and its load state. A failed load is
// remembered; it is only attempted again after Reset or Reload.
type Registry struct {
	path   string
	loader Loader
	log    *logrus.Entry

	loadMu  sync.Mutex
	state   atomic.Int32
	session Session
	loadErr error

	runMu sync.Mutex
}

func NewRegistry(path string, loader Loader, log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		path:   path,
		loader: loader,
		log:    log.WithField("component", "model"),
	}
}

// Path is the configured artifact path.
func (r *Registry) Path() string {
	return r.path
}

// State reads the current state without side effects.
func (r *Registry) State() State {
	return State(r.state.Load())
}

// IsReady reports whether Forward can be called.
func (r *Registry) IsReady() bool {
	return r.State() == StateReady
}

// Err returns the cached load error, if any.
func (r *Registry) Err() error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	return r.loadErr
}

// EnsureLoaded loads the session unless a load already completed. Concurrent
// callers wait for the first one and share its outcome.
func (r *Registry) EnsureLoaded() (State, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	switch st := r.State(); st {
	case StateReady:
		return st, nil
	case StateLoadFailed:
		return st, r.loadErr
	}

	r.state.Store(int32(StateLoading))
	r.log.WithField("path", r.path).Info("loading model")

	session, err := r.load()
	if err != nil {
		r.loadErr = err
		r.state.Store(int32(StateLoadFailed))
		r.log.WithError(err).WithField("path", r.path).Warn("model unavailable, serving fallback predictions")
		return StateLoadFailed, err
	}

	r.session = session
	r.loadErr = nil
	r.state.Store(int32(StateReady))
	r.log.WithField("path", r.path).Info("model ready")
	return StateReady, nil
}

func (r *Registry) load() (s Session, err error) {
	if r.loader == nil {
		return nil, errors.New("no model loader configured")
	}
	if _, err := os.Stat(r.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, r.path)
		}
		return nil, fmt.Errorf("stat model artifact: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			s, err = nil, fmt.Errorf("model loader panicked: %v", p)
		}
	}()
	s, err = r.loader(r.path)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", r.path, err)
	}
	return s, nil
}

// Forward runs the model on input and returns a copy of its output.
func (r *Registry) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if !r.IsReady() {
		return nil, ErrNotReady
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Reset may have run while we waited for the lock.
	if !r.IsReady() || r.session == nil {
		return nil, ErrNotReady
	}

	out, err := r.session.Run(input)
	if err != nil {
		return nil, err
	}
	probs := make([]float32, len(out))
	copy(probs, out)
	return probs, nil
}

// Reset releases the session and returns the registry to Unloaded so the
// next EnsureLoaded tries again.
func (r *Registry) Reset() error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.runMu.Lock()
	defer r.runMu.Unlock()

	var err error
	if r.session != nil {
		err = r.session.Close()
		r.session = nil
	}
	r.loadErr = nil
	r.state.Store(int32(StateUnloaded))
	return err
}

// Reload is Reset followed by EnsureLoaded.
func (r *Registry) Reload() (State, error) {
	if err := r.Reset(); err != nil {
		r.log.WithError(err).Warn("closing previous session")
	}
	return r.EnsureLoaded()
}

// Close releases the session for good.
func (r *Registry) Close() error {
	return r.Reset()
}

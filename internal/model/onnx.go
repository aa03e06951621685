package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXOptions describes how to bind an ONNX artifact.
type ONNXOptions struct {
	// SharedLibraryPath points at the onnxruntime library. When empty,
	// ONNXRUNTIME_SHARED_LIBRARY_PATH is used, then the runtime default.
	SharedLibraryPath string
	InputName         string
	OutputName        string
	InputShape        []int64
	// Classes is the expected output order. Its length sizes the output tensor.
	Classes []string
	// MetadataPath is an optional sidecar checked against InputShape and Classes.
	MetadataPath string
	ApplySoftmax bool
	Threads      int
}

var (
	runtimeMu     sync.Mutex
	runtimeActive bool
)

func initRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeActive || ort.IsInitialized() {
		runtimeActive = true
		return nil
	}
	if libPath == "" {
		libPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	runtimeActive = true
	return nil
}

// ShutdownRuntime destroys the ONNX environment if it was started.
func ShutdownRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeActive {
		return nil
	}
	runtimeActive = false
	return ort.DestroyEnvironment()
}

// ONNXLoader returns a Loader that opens artifacts with onnxruntime.
func ONNXLoader(opts ONNXOptions) Loader {
	return func(path string) (Session, error) {
		return newONNXSession(path, opts)
	}
}

type onnxSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	softmax      bool
}

func newONNXSession(modelPath string, opts ONNXOptions) (*onnxSession, error) {
	if len(opts.InputShape) == 0 {
		return nil, errors.New("input shape not configured")
	}
	if len(opts.Classes) == 0 {
		return nil, errors.New("class list is empty")
	}
	if opts.MetadataPath != "" {
		if err := checkMetadata(opts); err != nil {
			return nil, err
		}
	}

	if err := initRuntime(opts.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(opts.Classes))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	var sessionOpts *ort.SessionOptions
	if opts.Threads > 0 {
		sessionOpts, err = ort.NewSessionOptions()
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to create session options: %w", err)
		}
		defer sessionOpts.Destroy()
		if err := sessionOpts.SetIntraOpNumThreads(opts.Threads); err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		sessionOpts)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxSession{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		softmax:      opts.ApplySoftmax,
	}, nil
}

func checkMetadata(opts ONNXOptions) error {
	meta, err := LoadMetadata(opts.MetadataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(meta.InputShape) > 0 && !slices.Equal(meta.InputShape, opts.InputShape) {
		return fmt.Errorf("model expects input %v, preprocessing produces %v", meta.InputShape, opts.InputShape)
	}
	if len(meta.Classes) > 0 && !slices.Equal(meta.Classes, opts.Classes) {
		return fmt.Errorf("model classes %v do not match catalog %v", meta.Classes, opts.Classes)
	}
	return nil
}

func (s *onnxSession) Run(input []float32) ([]float32, error) {
	dst := s.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	if s.softmax {
		return Softmax(out), nil
	}
	return out, nil
}

func (s *onnxSession) Close() error {
	var errs []error
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	if s.inputTensor != nil {
		errs = append(errs, s.inputTensor.Destroy())
	}
	if s.outputTensor != nil {
		errs = append(errs, s.outputTensor.Destroy())
	}
	return errors.Join(errs...)
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	out := make([]float32, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

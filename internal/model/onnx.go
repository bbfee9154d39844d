package model

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig describes where to find an exported classifier.
type ONNXConfig struct {
	ModelPath string
	Metadata  Metadata
	// SharedLibraryPath points at libonnxruntime when it is not on the
	// default loader path.
	SharedLibraryPath string
	// Sessions is the number of sessions kept ready for concurrent requests.
	Sessions int
}

// ONNXClassifier runs the lesion model through onnxruntime. Each session
// owns its input and output tensors, so a session is used by one request
// at a time and borrowed from a pool.
type ONNXClassifier struct {
	inputShape  ort.Shape
	outputShape ort.Shape
	imageSize   int

	pool      chan *onnxSession
	sessions  []*onnxSession
	closeOnce sync.Once
}

type onnxSession struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		ort.DestroyEnvironment()
	}
}

func NewONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat onnx model %q", cfg.ModelPath)
	}
	if info.IsDir() || info.Size() == 0 {
		return nil, errors.Errorf("onnx model path %q is not a model file", cfg.ModelPath)
	}

	if err := acquireEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	metadata := cfg.Metadata
	if err := discoverIO(cfg.ModelPath, &metadata); err != nil {
		releaseEnvironment()
		return nil, err
	}

	inputShape := ort.NewShape(metadata.InputShape...)
	outputShape := ort.NewShape(metadata.OutputShape...)
	imageSize, err := imageSizeOf(inputShape, metadata.ImageSize)
	if err != nil {
		releaseEnvironment()
		return nil, err
	}

	n := cfg.Sessions
	if n <= 0 {
		n = 1
	}
	c := &ONNXClassifier{
		inputShape:  inputShape,
		outputShape: outputShape,
		imageSize:   imageSize,
		pool:        make(chan *onnxSession, n),
	}
	for i := 0; i < n; i++ {
		s, err := newONNXSession(cfg.ModelPath, metadata, inputShape, outputShape)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.sessions = append(c.sessions, s)
		c.pool <- s
	}
	return c, nil
}

// discoverIO fills tensor names and shapes the metadata leaves out.
func discoverIO(modelPath string, metadata *Metadata) error {
	if metadata.InputName != "" && metadata.OutputName != "" &&
		len(metadata.InputShape) > 0 && len(metadata.OutputShape) > 0 {
		return nil
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return errors.Wrap(err, "failed to inspect onnx model")
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return errors.Errorf("expected one input and one output, model has %d and %d", len(inputs), len(outputs))
	}
	if metadata.InputName == "" {
		metadata.InputName = inputs[0].Name
	}
	if metadata.OutputName == "" {
		metadata.OutputName = outputs[0].Name
	}
	if len(metadata.InputShape) == 0 {
		metadata.InputShape = fixedBatch(inputs[0].Dimensions)
	}
	if len(metadata.OutputShape) == 0 {
		metadata.OutputShape = fixedBatch(outputs[0].Dimensions)
	}
	return nil
}

// fixedBatch replaces dynamic dimensions (exported as -1) with 1.
func fixedBatch(dims ort.Shape) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

func imageSizeOf(inputShape ort.Shape, declared int) (int, error) {
	if len(inputShape) != 4 || inputShape[0] != 1 || inputShape[1] != inputShape[2] || inputShape[3] != Channels {
		return 0, errors.Wrapf(ErrShapeMismatch, "model input shape %v is not (1, n, n, 3)", []int64(inputShape))
	}
	size := int(inputShape[1])
	if declared != 0 && declared != size {
		return 0, errors.Wrapf(ErrShapeMismatch, "metadata image_size %d disagrees with model input %d", declared, size)
	}
	return size, nil
}

func newONNXSession(modelPath string, metadata Metadata, inputShape, outputShape ort.Shape) (*onnxSession, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}

	return &onnxSession{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (c *ONNXClassifier) InputSize() int {
	return c.imageSize
}

func (c *ONNXClassifier) OutputSize() int {
	return int(c.outputShape.FlattenedSize())
}

// Classify runs a single forward pass. It blocks until a session is free
// or ctx is done.
func (c *ONNXClassifier) Classify(ctx context.Context, input Tensor) ([]float32, error) {
	if int64(len(input.Data)) != c.inputShape.FlattenedSize() {
		return nil, errors.Wrapf(ErrShapeMismatch, "got %d values, want %d", len(input.Data), c.inputShape.FlattenedSize())
	}

	var s *onnxSession
	select {
	case s = <-c.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { c.pool <- s }()

	copy(s.inputTensor.GetData(), input.Data)
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	outputData := s.outputTensor.GetData()
	out := make([]float32, len(outputData))
	copy(out, outputData)
	return out, nil
}

// Close releases every session. Callers must not Classify afterwards.
func (c *ONNXClassifier) Close() error {
	c.closeOnce.Do(func() {
		for _, s := range c.sessions {
			if s.inputTensor != nil {
				s.inputTensor.Destroy()
			}
			if s.outputTensor != nil {
				s.outputTensor.Destroy()
			}
			if s.session != nil {
				s.session.Destroy()
			}
		}
		releaseEnvironment()
	})
	return nil
}

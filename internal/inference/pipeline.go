package inference

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
	"github.com/Brownie44l1/oncoscopic-api/internal/preprocess"
)

type Options struct {
	Preprocess preprocess.Options
	// Timeout bounds waiting for and running a forward pass. Zero disables it.
	Timeout time.Duration
	Logger  *log.Logger
}

// Pipeline holds the classifier and vocabulary loaded at startup and runs
// decode, preprocess, forward pass and label extraction for each request.
// It is safe for concurrent use; nothing in it changes after construction.
type Pipeline struct {
	classifier model.Classifier
	vocab      *model.Vocabulary
	opts       Options
	initErr    error
	log        *log.Entry
}

// Status reports what was loaded at startup.
type Status struct {
	ModelLoaded      bool
	VocabularyLoaded bool
	Err              error
}

func New(classifier model.Classifier, vocab *model.Vocabulary, opts Options) (*Pipeline, error) {
	if classifier == nil {
		return nil, errors.Wrap(ErrNotInitialized, "classifier is nil")
	}
	if vocab == nil {
		return nil, errors.Wrap(ErrNotInitialized, "label vocabulary is nil")
	}
	if classifier.OutputSize() != vocab.Len() {
		return nil, errors.Wrapf(model.ErrVocabularyMismatch,
			"classifier scores %d classes, vocabulary has %d labels", classifier.OutputSize(), vocab.Len())
	}
	if opts.Preprocess.Size == 0 {
		opts.Preprocess.Size = classifier.InputSize()
	}
	if opts.Preprocess.Size != classifier.InputSize() {
		return nil, errors.Wrapf(model.ErrShapeMismatch,
			"preprocess size %d, classifier expects %d", opts.Preprocess.Size, classifier.InputSize())
	}
	return &Pipeline{
		classifier: classifier,
		vocab:      vocab,
		opts:       opts,
		log:        entry(opts.Logger),
	}, nil
}

// NewUninitialized builds a pipeline that answers every prediction with
// ErrNotInitialized. vocab may be nil when the vocabulary also failed.
func NewUninitialized(cause error, vocab *model.Vocabulary, opts Options) *Pipeline {
	if cause == nil {
		cause = errors.New("no classifier loaded")
	}
	return &Pipeline{
		vocab:   vocab,
		opts:    opts,
		initErr: wrap(ErrNotInitialized, cause),
		log:     entry(opts.Logger),
	}
}

func entry(logger *log.Logger) *log.Entry {
	if logger == nil {
		logger = log.New()
		logger.SetOutput(io.Discard)
	}
	return log.NewEntry(logger)
}

func (p *Pipeline) Status() Status {
	return Status{
		ModelLoaded:      p.classifier != nil,
		VocabularyLoaded: p.vocab != nil,
		Err:              p.initErr,
	}
}

// Err is non-nil when the pipeline cannot serve predictions.
func (p *Pipeline) Err() error {
	return p.initErr
}

func (p *Pipeline) Vocabulary() *model.Vocabulary {
	return p.vocab
}

// ImageSize is the edge uploads are resized to.
func (p *Pipeline) ImageSize() int {
	if p.opts.Preprocess.Size > 0 {
		return p.opts.Preprocess.Size
	}
	return model.DefaultImageSize
}

// Predict classifies raw image bytes.
func (p *Pipeline) Predict(ctx context.Context, data []byte) (model.Prediction, error) {
	if p.initErr != nil {
		return model.Prediction{}, p.initErr
	}
	tensor, err := preprocess.FromBytes(data, p.opts.Preprocess)
	if err != nil {
		return model.Prediction{}, wrap(ErrDecode, err)
	}
	return p.PredictTensor(ctx, tensor)
}

// PredictFile classifies the image stored at path.
func (p *Pipeline) PredictFile(ctx context.Context, path string) (model.Prediction, error) {
	if p.initErr != nil {
		return model.Prediction{}, p.initErr
	}
	tensor, err := preprocess.FromFile(path, p.opts.Preprocess)
	if err != nil {
		return model.Prediction{}, wrap(ErrDecode, err)
	}
	return p.PredictTensor(ctx, tensor)
}

// PredictTensor classifies an already normalized tensor.
func (p *Pipeline) PredictTensor(ctx context.Context, tensor model.Tensor) (model.Prediction, error) {
	if p.initErr != nil {
		return model.Prediction{}, p.initErr
	}
	size := p.ImageSize()
	if tensor.Shape != [4]int{1, size, size, model.Channels} || len(tensor.Data) != tensor.Len() {
		return model.Prediction{}, wrap(ErrPredict,
			errors.Wrapf(model.ErrShapeMismatch, "tensor shape %v", tensor.Shape))
	}

	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	probs, err := p.classify(ctx, tensor)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Prediction{}, wrap(ErrTimeout, err)
		}
		return model.Prediction{}, wrap(ErrPredict, err)
	}

	pred, err := model.Predict(probs, p.vocab)
	if err != nil {
		return model.Prediction{}, wrap(ErrPredict, err)
	}
	p.log.WithFields(log.Fields{
		"class":       pred.PredictedClass,
		"confidence":  pred.Confidence,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("[Predict] Forward pass done")
	return pred, nil
}

type classifyResult struct {
	probs []float32
	err   error
}

// classify runs the forward pass on its own goroutine so a deadline can
// release the caller; a panic in the classifier becomes an error.
func (p *Pipeline) classify(ctx context.Context, tensor model.Tensor) ([]float32, error) {
	done := make(chan classifyResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- classifyResult{err: errors.Errorf("classifier panic: %v", r)}
			}
		}()
		probs, err := p.classifier.Classify(ctx, tensor)
		done <- classifyResult{probs: probs, err: err}
	}()

	select {
	case res := <-done:
		return res.probs, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for classifier: %w", ctx.Err())
	}
}

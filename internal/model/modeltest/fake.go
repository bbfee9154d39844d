// Package modeltest provides an in-memory classifier for tests.
package modeltest

import (
	"context"
	"sync/atomic"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

// Fake returns Scores for every input, or the result of ScoreFunc when set.
type Fake struct {
	Size      int
	Classes   int
	Scores    []float32
	ScoreFunc func(model.Tensor) ([]float32, error)
	// Block, when non-nil, is waited on before answering.
	Block <-chan struct{}

	calls  atomic.Int64
	closed atomic.Bool
}

// Uniform scores every class equally.
func Uniform(classes int) *Fake {
	scores := make([]float32, classes)
	for i := range scores {
		scores[i] = 1 / float32(classes)
	}
	return &Fake{Size: model.DefaultImageSize, Classes: classes, Scores: scores}
}

// Peaked puts p on class idx and spreads the rest evenly.
func Peaked(classes, idx int, p float32) *Fake {
	scores := make([]float32, classes)
	rest := (1 - p) / float32(classes-1)
	for i := range scores {
		scores[i] = rest
	}
	scores[idx] = p
	return &Fake{Size: model.DefaultImageSize, Classes: classes, Scores: scores}
}

func (f *Fake) Classify(ctx context.Context, input model.Tensor) ([]float32, error) {
	f.calls.Add(1)
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.ScoreFunc != nil {
		return f.ScoreFunc(input)
	}
	out := make([]float32, len(f.Scores))
	copy(out, f.Scores)
	return out, nil
}

func (f *Fake) InputSize() int {
	if f.Size == 0 {
		return model.DefaultImageSize
	}
	return f.Size
}

func (f *Fake) OutputSize() int {
	return f.Classes
}

func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *Fake) Calls() int64 {
	return f.calls.Load()
}

func (f *Fake) Closed() bool {
	return f.closed.Load()
}

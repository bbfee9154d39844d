package inference

import (
	"context"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
	"github.com/Brownie44l1/oncoscopic-api/internal/model/modeltest"
	"github.com/Brownie44l1/oncoscopic-api/internal/preprocess"
)

func newPipeline(t *testing.T, classifier model.Classifier) *Pipeline {
	t.Helper()
	p, err := New(classifier, model.DefaultVocabulary(), Options{Preprocess: preprocess.DefaultOptions()})
	require.NoError(t, err)
	return p
}

// meanScores makes the predicted class depend on image content.
func meanScores(in model.Tensor) ([]float32, error) {
	var sum float32
	for _, v := range in.Data {
		sum += v
	}
	mean := sum / float32(len(in.Data))
	scores := make([]float32, 7)
	idx := int(mean * 6.999)
	scores[idx] = 0.7
	for i := range scores {
		if i != idx {
			scores[i] = 0.05
		}
	}
	return scores, nil
}

func TestPredictBlackImage(t *testing.T) {
	var seen model.Tensor
	fake := modeltest.Uniform(7)
	fake.ScoreFunc = func(in model.Tensor) ([]float32, error) {
		seen = in
		return meanScores(in)
	}
	p := newPipeline(t, fake)

	data := modeltest.PNG(t, modeltest.Solid(256, 256, color.Black))
	pred, err := p.Predict(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, [4]int{1, 28, 28, 3}, seen.Shape)
	for _, v := range seen.Data {
		require.Zero(t, v)
	}
	assert.True(t, p.Vocabulary().Contains(pred.PredictedClass))
	assert.GreaterOrEqual(t, pred.Confidence, 0.0)
	assert.LessOrEqual(t, pred.Confidence, 100.0)
	assert.Equal(t, "actinic keratosis", pred.PredictedClass)
	assert.False(t, pred.Degraded)
}

func TestPredictIsDeterministic(t *testing.T) {
	fake := modeltest.Uniform(7)
	fake.ScoreFunc = meanScores
	p := newPipeline(t, fake)
	data := modeltest.JPEG(t, modeltest.Checker(300, 200, 20))

	first, err := p.Predict(context.Background(), data)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := p.Predict(context.Background(), data)
		require.NoError(t, err)
		assert.Equal(t, first.PredictedClass, again.PredictedClass)
		assert.Equal(t, first.Confidence, again.Confidence)
	}
}

func TestPredictNearUniformStillAnswers(t *testing.T) {
	p := newPipeline(t, modeltest.Uniform(7))
	pred, err := p.Predict(context.Background(), modeltest.PNG(t, modeltest.Checker(50, 50, 5)))
	require.NoError(t, err)
	assert.Equal(t, "actinic keratosis", pred.PredictedClass)
	assert.InDelta(t, 100.0/7, pred.Confidence, 1e-3)
}

func TestPredictBadPayloads(t *testing.T) {
	fake := modeltest.Uniform(7)
	p := newPipeline(t, fake)

	for name, data := range map[string][]byte{
		"empty":     nil,
		"text":      []byte("hello"),
		"fake jpeg": {0xff, 0xd8, 0xff, 0xdb, 0x00},
	} {
		t.Run(name, func(t *testing.T) {
			pred, err := p.Predict(context.Background(), data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Empty(t, pred.PredictedClass)
			assert.Contains(t, Traceback(err), "pipeline.go")
		})
	}
	assert.Zero(t, fake.Calls())
}

func TestPredictClassifierFailure(t *testing.T) {
	fake := modeltest.Uniform(7)
	fake.ScoreFunc = func(model.Tensor) ([]float32, error) {
		return nil, errors.New("onnx exploded")
	}
	p := newPipeline(t, fake)

	_, err := p.Predict(context.Background(), modeltest.PNG(t, modeltest.Checker(30, 30, 3)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPredict)
	assert.Contains(t, err.Error(), "onnx exploded")
}

func TestPredictRecoversClassifierPanic(t *testing.T) {
	fake := modeltest.Uniform(7)
	fake.ScoreFunc = func(model.Tensor) ([]float32, error) {
		panic("index out of range")
	}
	p := newPipeline(t, fake)

	_, err := p.Predict(context.Background(), modeltest.PNG(t, modeltest.Checker(30, 30, 3)))
	assert.ErrorIs(t, err, ErrPredict)
}

func TestPredictWrongOutputLength(t *testing.T) {
	fake := modeltest.Uniform(7)
	fake.ScoreFunc = func(model.Tensor) ([]float32, error) {
		return []float32{1}, nil
	}
	p := newPipeline(t, fake)

	_, err := p.Predict(context.Background(), modeltest.PNG(t, modeltest.Checker(30, 30, 3)))
	assert.ErrorIs(t, err, ErrPredict)
	assert.ErrorIs(t, err, model.ErrVocabularyMismatch)
}

func TestPredictTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	fake := modeltest.Uniform(7)
	fake.Block = block

	p, err := New(fake, model.DefaultVocabulary(), Options{
		Preprocess: preprocess.DefaultOptions(),
		Timeout:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = p.Predict(context.Background(), modeltest.PNG(t, modeltest.Checker(30, 30, 3)))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPredictTensorRejectsWrongShape(t *testing.T) {
	p := newPipeline(t, modeltest.Uniform(7))
	_, err := p.PredictTensor(context.Background(), model.NewTensor(10))
	assert.ErrorIs(t, err, ErrPredict)
	assert.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestPredictFile(t *testing.T) {
	p := newPipeline(t, modeltest.Peaked(7, 4, 0.9))
	path := modeltest.WriteFile(t, "lesion.png", modeltest.PNG(t, modeltest.Checker(64, 64, 4)))

	pred, err := p.PredictFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "nevus", pred.PredictedClass)
	assert.InDelta(t, 90.0, pred.Confidence, 1e-4)

	_, err = p.PredictFile(context.Background(), path+".missing")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestPredictConcurrent(t *testing.T) {
	fake := modeltest.Uniform(7)
	fake.ScoreFunc = meanScores
	p := newPipeline(t, fake)
	data := modeltest.PNG(t, modeltest.Checker(64, 64, 8))

	want, err := p.Predict(context.Background(), data)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Predict(context.Background(), data)
			if err != nil {
				errs <- err
				return
			}
			if got.PredictedClass != want.PredictedClass || got.Confidence != want.Confidence {
				errs <- errors.Errorf("got %+v, want %+v", got, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestNewRejectsMismatches(t *testing.T) {
	_, err := New(modeltest.Uniform(5), model.DefaultVocabulary(), Options{})
	assert.ErrorIs(t, err, model.ErrVocabularyMismatch)

	_, err = New(modeltest.Uniform(7), model.DefaultVocabulary(), Options{Preprocess: preprocess.Options{Size: 32}})
	assert.ErrorIs(t, err, model.ErrShapeMismatch)

	_, err = New(nil, model.DefaultVocabulary(), Options{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestUninitializedPipeline(t *testing.T) {
	p := NewUninitialized(errors.New("skin_lesion_model.onnx: no such file"), model.DefaultVocabulary(), Options{})

	status := p.Status()
	assert.False(t, status.ModelLoaded)
	assert.True(t, status.VocabularyLoaded)
	assert.ErrorIs(t, p.Err(), ErrNotInitialized)

	_, err := p.Predict(context.Background(), modeltest.PNG(t, modeltest.Checker(30, 30, 3)))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Contains(t, err.Error(), "no such file")

	_, err = p.Predict(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = p.PredictFile(context.Background(), "whatever.jpg")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

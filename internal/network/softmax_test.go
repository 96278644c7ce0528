package network

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/imagery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// solidTensor builds an input tensor with every element set to value.
func solidTensor(value float32) *imagery.Tensor {
	tensor := imagery.NewInputTensor()
	for i := range tensor.Data {
		tensor.Data[i] = value
	}
	return tensor
}

// separableSamples builds an easily separable two-class training set.
func separableSamples(perClass int) []TrainingSample {
	var samples []TrainingSample
	for i := range perClass {
		bright := solidTensor(60 + float32(i))
		dark := solidTensor(-60 - float32(i))
		samples = append(samples,
			TrainingSample{Input: bright, Position: 1},
			TrainingSample{Input: dark, Position: 2},
		)
	}
	return samples
}

func newFitted(t *testing.T) Model {
	t.Helper()

	model, err := NewPooledSoftmax(Spec{Name: PooledSoftmaxName, Optimizer: "sgd"})
	require.NoError(t, err)
	require.NoError(t, model.Fit(context.Background(), separableSamples(6), 2, 10))
	return model
}

func TestPooledSoftmaxLearnsSeparableData(t *testing.T) {
	t.Parallel()

	model := newFitted(t)

	accuracy, err := model.Evaluate(separableSamples(3))
	require.NoError(t, err)
	assert.Equal(t, 1.0, accuracy)

	scores, err := model.Predict([]*imagery.Tensor{solidTensor(70), solidTensor(-70)})
	require.NoError(t, err)
	require.Len(t, scores, 2)
	assert.Equal(t, 0, Argmax(scores[0]))
	assert.Equal(t, 1, Argmax(scores[1]))

	// Probabilities sum to one
	var sum float32
	for _, s := range scores[0] {
		sum += s
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestPooledSoftmaxDeterministicTraining(t *testing.T) {
	t.Parallel()

	first := newFitted(t)
	second := newFitted(t)

	input := []*imagery.Tensor{solidTensor(12.5)}
	p1, err := first.Predict(input)
	require.NoError(t, err)
	p2, err := second.Predict(input)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestPooledSoftmaxSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	model := newFitted(t)
	path := filepath.Join(t.TempDir(), "weights.gob")
	require.NoError(t, model.SaveWeights(path))

	restored, err := NewPooledSoftmax(Spec{Name: PooledSoftmaxName})
	require.NoError(t, err)
	require.NoError(t, restored.LoadWeights(path))

	input := []*imagery.Tensor{solidTensor(33), solidTensor(-33)}
	want, err := model.Predict(input)
	require.NoError(t, err)
	got, err := restored.Predict(input)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPooledSoftmaxUntrainedStateErrors(t *testing.T) {
	t.Parallel()

	model, err := NewPooledSoftmax(Spec{Name: PooledSoftmaxName})
	require.NoError(t, err)

	_, err = model.Predict([]*imagery.Tensor{solidTensor(1)})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))

	_, err = model.Evaluate(separableSamples(1))
	require.Error(t, err)

	err = model.SaveWeights(filepath.Join(t.TempDir(), "w.gob"))
	require.Error(t, err)
}

func TestPooledSoftmaxFitValidation(t *testing.T) {
	t.Parallel()

	model, err := NewPooledSoftmax(Spec{Name: PooledSoftmaxName})
	require.NoError(t, err)

	err = model.Fit(context.Background(), nil, 2, 10)
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientData(err))

	bad := []TrainingSample{{Input: solidTensor(1), Position: 3}}
	err = model.Fit(context.Background(), bad, 2, 10)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestPooledSoftmaxFitCancellation(t *testing.T) {
	t.Parallel()

	model, err := NewPooledSoftmax(Spec{Name: PooledSoftmaxName})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = model.Fit(ctx, separableSamples(2), 2, 10)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func TestPooledSoftmaxLoadRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	model, err := NewPooledSoftmax(Spec{Name: PooledSoftmaxName})
	require.NoError(t, err)

	assert.Error(t, model.LoadWeights(filepath.Join(t.TempDir(), "missing.gob")))
}

package network

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/imagery"
)

// PooledSoftmaxName is the registry name of the builtin trainable
// architecture: block-pooled features into a multinomial logistic
// regression head, trained by SGD with cross-entropy loss.
const PooledSoftmaxName = "pooled-softmax"

const (
	poolBlock  = 16 // pooling block edge, 224/16 = 14
	pooledEdge = imagery.InputWidth / poolBlock
	featureDim = imagery.InputDepth * pooledEdge * pooledEdge

	// Pooled mean-subtracted values sit roughly in [-130, 130]; scaling
	// keeps SGD steps well behaved without per-dataset normalization.
	featureScale = 1.0 / 128.0

	learningRate = 0.05
)

// pooledSoftmax implements Model. All state mutation happens under mu so a
// shared instance tolerates concurrent Predict calls.
type pooledSoftmax struct {
	mu         sync.RWMutex
	numClasses int
	weights    []float64 // numClasses x featureDim, row-major
	bias       []float64
}

// NewPooledSoftmax builds an untrained pooled-softmax model. The
// architecture only supports the sgd optimizer; cross-entropy losses are
// interchangeable for it.
func NewPooledSoftmax(spec Spec) (Model, error) {
	if spec.Optimizer != "" && strings.ToLower(spec.Optimizer) != "sgd" {
		return nil, errors.Newf("architecture %q supports only the sgd optimizer, got %q", PooledSoftmaxName, spec.Optimizer).
			Category(errors.CategoryConfiguration).
			Component("network").
			Build()
	}
	return &pooledSoftmax{}, nil
}

// extractFeatures block-averages each channel of the input tensor.
func extractFeatures(input *imagery.Tensor) []float64 {
	features := make([]float64, featureDim)
	const plane = imagery.InputHeight * imagery.InputWidth

	i := 0
	for c := 0; c < imagery.InputDepth; c++ {
		for by := 0; by < pooledEdge; by++ {
			for bx := 0; bx < pooledEdge; bx++ {
				var sum float64
				for y := by * poolBlock; y < (by+1)*poolBlock; y++ {
					base := c*plane + y*imagery.InputWidth + bx*poolBlock
					for x := 0; x < poolBlock; x++ {
						sum += float64(input.Data[base+x])
					}
				}
				features[i] = sum / (poolBlock * poolBlock) * featureScale
				i++
			}
		}
	}
	return features
}

// scores computes the raw linear outputs for one feature vector.
func (m *pooledSoftmax) scores(features []float64) []float64 {
	out := make([]float64, m.numClasses)
	for class := 0; class < m.numClasses; class++ {
		row := m.weights[class*featureDim : (class+1)*featureDim]
		sum := m.bias[class]
		for j, f := range features {
			sum += row[j] * f
		}
		out[class] = sum
	}
	return out
}

// softmax converts raw scores into probabilities in place.
func softmax(scores []float64) {
	maxScore := math.Inf(-1)
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	for i, s := range scores {
		scores[i] = math.Exp(s - maxScore)
		sum += scores[i]
	}
	for i := range scores {
		scores[i] /= sum
	}
}

// Fit runs plain SGD over the samples in their given order, one pass per
// epoch. Zero initialization plus a fixed sample order makes training
// deterministic for identical input.
func (m *pooledSoftmax) Fit(ctx context.Context, samples []TrainingSample, numClasses, epochs int) error {
	if numClasses < 1 {
		return errors.Newf("cannot fit a model with %d classes", numClasses).
			Category(errors.CategoryValidation).
			Component("network").
			Build()
	}
	if len(samples) == 0 {
		return errors.Newf("cannot fit on an empty training set").
			Category(errors.CategoryInsufficientData).
			Component("network").
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.numClasses = numClasses
	m.weights = make([]float64, numClasses*featureDim)
	m.bias = make([]float64, numClasses)

	features := make([][]float64, len(samples))
	for i, sample := range samples {
		if sample.Position < 1 || sample.Position > numClasses {
			return errors.Newf("sample %d has position %d outside 1..%d", i, sample.Position, numClasses).
				Category(errors.CategoryValidation).
				Component("network").
				Build()
		}
		features[i] = extractFeatures(sample.Input)
	}

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return errors.Newf("training cancelled after %d epochs: %w", epoch, err).
				Category(errors.CategoryCancellation).
				Component("network").
				Build()
		}

		for i, sample := range samples {
			probs := m.scores(features[i])
			softmax(probs)

			target := sample.Position - 1
			for class := 0; class < m.numClasses; class++ {
				grad := probs[class]
				if class == target {
					grad -= 1
				}
				if grad == 0 {
					continue
				}
				row := m.weights[class*featureDim : (class+1)*featureDim]
				step := learningRate * grad
				for j, f := range features[i] {
					row[j] -= step * f
				}
				m.bias[class] -= step
			}
		}
	}

	return nil
}

// Evaluate returns top-1 accuracy over the samples.
func (m *pooledSoftmax) Evaluate(samples []TrainingSample) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.numClasses == 0 {
		return 0, errors.Newf("model has not been trained or loaded").
			Category(errors.CategoryState).
			Component("network").
			Build()
	}
	if len(samples) == 0 {
		return 0, nil
	}

	correct := 0
	for _, sample := range samples {
		scores := m.scores(extractFeatures(sample.Input))
		best, bestScore := 0, math.Inf(-1)
		for class, s := range scores {
			if s > bestScore {
				best, bestScore = class, s
			}
		}
		if best == sample.Position-1 {
			correct++
		}
	}

	return float64(correct) / float64(len(samples)), nil
}

// Predict returns softmax probabilities for each input.
func (m *pooledSoftmax) Predict(inputs []*imagery.Tensor) ([][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.numClasses == 0 {
		return nil, errors.Newf("model has not been trained or loaded").
			Category(errors.CategoryState).
			Component("network").
			Build()
	}

	results := make([][]float32, len(inputs))
	for i, input := range inputs {
		scores := m.scores(extractFeatures(input))
		softmax(scores)
		row := make([]float32, len(scores))
		for j, s := range scores {
			row[j] = float32(s)
		}
		results[i] = row
	}
	return results, nil
}

// softmaxWeights is the gob-encoded weights file layout.
type softmaxWeights struct {
	NumClasses int
	FeatureDim int
	Weights    []float64
	Bias       []float64
}

// SaveWeights writes the weights to path via a temp file and rename, so a
// crash mid-write never leaves a truncated weights file behind.
func (m *pooledSoftmax) SaveWeights(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.numClasses == 0 {
		return errors.Newf("refusing to save an untrained model").
			Category(errors.CategoryState).
			Component("network").
			Build()
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating weights file: %w", err)
	}

	enc := gob.NewEncoder(file)
	if err := enc.Encode(softmaxWeights{
		NumClasses: m.numClasses,
		FeatureDim: featureDim,
		Weights:    m.weights,
		Bias:       m.bias,
	}); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("encoding weights: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing weights file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// LoadWeights restores weights saved by SaveWeights.
func (m *pooledSoftmax) LoadWeights(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening weights file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var w softmaxWeights
	if err := gob.NewDecoder(file).Decode(&w); err != nil {
		return fmt.Errorf("decoding weights: %w", err)
	}
	if w.FeatureDim != featureDim {
		return fmt.Errorf("weights feature dimension %d does not match architecture dimension %d", w.FeatureDim, featureDim)
	}
	if w.NumClasses < 1 || len(w.Weights) != w.NumClasses*featureDim || len(w.Bias) != w.NumClasses {
		return fmt.Errorf("weights file is inconsistent: %d classes, %d weights, %d biases", w.NumClasses, len(w.Weights), len(w.Bias))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.numClasses = w.NumClasses
	m.weights = w.Weights
	m.bias = w.Bias
	return nil
}

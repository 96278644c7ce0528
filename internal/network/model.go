// Package network defines the classifier model abstraction and the registry
// of named architecture factories.
package network

import (
	"context"

	"github.com/acrenier/imagerie/internal/imagery"
)

// Spec identifies an architecture by name together with its optimizer and
// loss configuration. It is what the datastore persists for a classifier
// architecture; the registry turns it into a compiled, untrained model.
type Spec struct {
	Name      string
	Optimizer string
	Loss      string
}

// TrainingSample pairs a preprocessed input with its 1-based class position.
type TrainingSample struct {
	Input    *imagery.Tensor
	Position int
}

// Model is a compiled network ready to train or score.
//
// Position/index mapping is fixed for every implementation: output index i
// corresponds to class position i+1.
type Model interface {
	// Fit trains on the samples for the given number of epochs. numClasses
	// fixes the output layer width for this training run.
	Fit(ctx context.Context, samples []TrainingSample, numClasses, epochs int) error

	// Evaluate scores the held-out samples and returns top-1 accuracy.
	Evaluate(samples []TrainingSample) (float64, error)

	// Predict returns per-class scores for each input.
	Predict(inputs []*imagery.Tensor) ([][]float32, error)

	// SaveWeights persists trained weights to the given file path.
	SaveWeights(path string) error

	// LoadWeights restores weights persisted by SaveWeights.
	LoadWeights(path string) error
}

// Argmax returns the index of the maximum score, -1 for an empty slice.
func Argmax(scores []float32) int {
	best := -1
	var bestScore float32
	for i, score := range scores {
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best
}

package network

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/imagery"
	tflite "github.com/tphakala/go-tflite"
)

// TFLiteName is the registry name of the pretrained TensorFlow Lite
// backend. Its weights artifact is a .tflite flatbuffer; it cannot be
// trained in-process, only loaded and scored.
const TFLiteName = "tflite"

type tfliteModel struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
}

// NewTFLite builds an unloaded TFLite-backed model. Optimizer and loss are
// irrelevant for a pretrained network and ignored.
func NewTFLite(Spec) (Model, error) {
	return &tfliteModel{}, nil
}

// Fit is unsupported: this architecture carries pretrained weights.
func (m *tfliteModel) Fit(context.Context, []TrainingSample, int, int) error {
	return errors.Newf("architecture %q is pretrained and cannot be fitted in-process", TFLiteName).
		Category(errors.CategoryConfiguration).
		Component("network").
		Build()
}

// Evaluate is unsupported for the same reason as Fit.
func (m *tfliteModel) Evaluate([]TrainingSample) (float64, error) {
	return 0, errors.Newf("architecture %q is pretrained and cannot be evaluated in-process", TFLiteName).
		Category(errors.CategoryConfiguration).
		Component("network").
		Build()
}

// SaveWeights is unsupported: the .tflite artifact is managed externally.
func (m *tfliteModel) SaveWeights(string) error {
	return errors.Newf("architecture %q weights are managed externally", TFLiteName).
		Category(errors.CategoryConfiguration).
		Component("network").
		Build()
}

// LoadWeights loads a .tflite flatbuffer and allocates an interpreter.
func (m *tfliteModel) LoadWeights(path string) error {
	modelData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading tflite model: %w", err)
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return fmt.Errorf("cannot load TensorFlow Lite model from %s", path)
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(max(1, runtime.NumCPU()/2))

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return fmt.Errorf("cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return fmt.Errorf("tensor allocation failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
	}
	if m.model != nil {
		m.model.Delete()
	}
	m.model = model
	m.interpreter = interpreter
	return nil
}

// Predict runs batched inference one input at a time; the interpreter is
// not safe for concurrent invocation, so calls serialize on the mutex.
func (m *tfliteModel) Predict(inputs []*imagery.Tensor) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return nil, errors.Newf("model has not been loaded").
			Category(errors.CategoryState).
			Component("network").
			Build()
	}

	results := make([][]float32, len(inputs))
	for i, input := range inputs {
		inputTensor := m.interpreter.GetInputTensor(0)
		if inputTensor == nil {
			return nil, fmt.Errorf("cannot get input tensor")
		}
		copy(inputTensor.Float32s(), input.Data)

		if status := m.interpreter.Invoke(); status != tflite.OK {
			return nil, fmt.Errorf("tensor invoke failed: %v", status)
		}

		outputTensor := m.interpreter.GetOutputTensor(0)
		predSize := outputTensor.Dim(outputTensor.NumDims() - 1)
		predictions := make([]float32, predSize)
		copy(predictions, outputTensor.Float32s())
		results[i] = predictions
	}

	return results, nil
}

// Close releases the interpreter and model.
func (m *tfliteModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}

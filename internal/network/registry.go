package network

import (
	"sort"
	"strings"
	"sync"

	"github.com/acrenier/imagerie/internal/errors"
)

// Factory builds a compiled, untrained model from a spec. Factories are
// registered at process startup; there is no dynamic code loading.
type Factory func(spec Spec) (Model, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Optimizer and loss vocabularies validated at compile time. An unknown
// name is a configuration error, never a silent default.
var knownOptimizers = map[string]bool{
	"sgd":     true,
	"adam":    true,
	"rmsprop": true,
}

var knownLosses = map[string]bool{
	"categorical_crossentropy":        true,
	"sparse_categorical_crossentropy": true,
}

// Register adds an architecture factory under a name. Later registrations
// replace earlier ones, which keeps tests simple.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[strings.ToLower(name)] = factory
}

// Registered returns the sorted names of all registered architectures.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compile looks up the named factory and builds an untrained model with the
// spec's optimizer and loss attached. A missing factory is an
// architecture-load error; an unknown optimizer or loss is a configuration
// error, reported before any training work begins.
func Compile(spec Spec) (Model, error) {
	registryMu.RLock()
	factory, ok := factories[strings.ToLower(spec.Name)]
	registryMu.RUnlock()

	if !ok {
		return nil, errors.Newf("unknown architecture %q", spec.Name).
			Category(errors.CategoryArchitectureLoad).
			Component("network").
			Context("architecture", spec.Name).
			Context("registered", strings.Join(Registered(), ",")).
			Build()
	}

	if spec.Optimizer != "" && !knownOptimizers[strings.ToLower(spec.Optimizer)] {
		return nil, errors.Newf("unknown optimizer %q for architecture %q", spec.Optimizer, spec.Name).
			Category(errors.CategoryConfiguration).
			Component("network").
			Context("optimizer", spec.Optimizer).
			Build()
	}

	if spec.Loss != "" && !knownLosses[strings.ToLower(spec.Loss)] {
		return nil, errors.Newf("unknown loss %q for architecture %q", spec.Loss, spec.Name).
			Category(errors.CategoryConfiguration).
			Component("network").
			Context("loss", spec.Loss).
			Build()
	}

	return factory(spec)
}

// RegisterBuiltins registers the architectures shipped with the binary.
// Called once at process startup.
func RegisterBuiltins() {
	Register(PooledSoftmaxName, NewPooledSoftmax)
	Register(TFLiteName, NewTFLite)
}

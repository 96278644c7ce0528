package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorBuilderBasics(t *testing.T) {
	t.Parallel()

	err := Newf("weights file %s not found", "training_datas/vgg16_2024_5_1_10").
		Component("classifier").
		Category(CategoryWeightsMissing).
		Context("classifier_id", uint(3)).
		Build()

	require.NotNil(t, err)
	assert.Equal(t, "classifier", err.GetComponent())
	assert.Equal(t, CategoryWeightsMissing, err.Category)
	assert.Equal(t, uint(3), err.GetContext()["classifier_id"])
	assert.Contains(t, err.Error(), "weights file")
}

func TestErrorBuilderDefaults(t *testing.T) {
	t.Parallel()

	err := New(NewStd("boom")).Build()
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.NotEmpty(t, err.GetComponent())
	assert.False(t, err.GetTimestamp().IsZero())
}

func TestUnwrapPreservesWrappedError(t *testing.T) {
	t.Parallel()

	base := NewStd("base failure")
	err := Newf("training failed: %w", base).
		Category(CategoryTraining).
		Build()

	assert.True(t, Is(err, base))
	assert.ErrorIs(t, fmt.Errorf("outer: %w", err), base)
}

func TestCategoryHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		category ErrorCategory
		check    func(error) bool
	}{
		{"not ready", CategoryNotReady, IsNotReady},
		{"weights missing", CategoryWeightsMissing, IsWeightsMissing},
		{"insufficient data", CategoryInsufficientData, IsInsufficientData},
		{"configuration", CategoryConfiguration, IsConfiguration},
		{"not found", CategoryNotFound, IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Newf("some failure").Category(tt.category).Build()
			assert.True(t, tt.check(err))
			assert.False(t, tt.check(NewStd("plain error")))
		})
	}
}

func TestCategoryHelperSeesWrappedEnhancedError(t *testing.T) {
	t.Parallel()

	inner := Newf("classifier 7 has no persisted weights").
		Category(CategoryNotReady).
		Build()
	outer := fmt.Errorf("classify request: %w", inner)

	assert.True(t, IsNotReady(outer))
}

func TestPriorityValidation(t *testing.T) {
	t.Parallel()

	err := Newf("x").Priority("bogus").Build()
	assert.Equal(t, PriorityMedium, err.Priority)

	err = Newf("x").Priority(PriorityCritical).Build()
	assert.Equal(t, PriorityCritical, err.Priority)
}

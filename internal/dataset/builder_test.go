package dataset

import (
	"testing"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeImages produces n trustworthy images for a species with sequential ids
// starting at firstID.
func makeImages(speciesID, firstID uint, n int) []LabeledImage {
	images := make([]LabeledImage, 0, n)
	for i := range n {
		images = append(images, LabeledImage{
			ImageID:     firstID + uint(i),
			SpeciesID:   speciesID,
			Trustworthy: true,
		})
	}
	return images
}

func TestBuildSplitsAdmissionThreshold(t *testing.T) {
	t.Parallel()

	var images []LabeledImage
	images = append(images, makeImages(1, 100, 11)...) // above threshold
	images = append(images, makeImages(2, 200, 10)...) // exactly at threshold, excluded
	images = append(images, makeImages(3, 300, 25)...) // above threshold

	builder := NewBuilder(10, nil)
	splits, err := builder.BuildSplits(images, 0.2)
	require.NoError(t, err)

	require.Len(t, splits.Classes, 2)
	assert.Equal(t, ClassAssignment{SpeciesID: 1, Position: 1}, splits.Classes[0])
	assert.Equal(t, ClassAssignment{SpeciesID: 3, Position: 2}, splits.Classes[1])

	for _, sample := range append(splits.Train, splits.Test...) {
		assert.NotEqual(t, uint(0), sample.ImageID)
		// No sample may come from the excluded species id range
		assert.False(t, sample.ImageID >= 200 && sample.ImageID < 300,
			"image %d belongs to an excluded species", sample.ImageID)
	}
}

func TestBuildSplitsPartitionSizes(t *testing.T) {
	t.Parallel()

	var images []LabeledImage
	images = append(images, makeImages(7, 0, 20)...)
	images = append(images, makeImages(9, 1000, 11)...)

	builder := NewBuilder(10, nil)
	splits, err := builder.BuildSplits(images, 0.2)
	require.NoError(t, err)

	counts := map[int]struct{ train, test int }{}
	for _, s := range splits.Train {
		c := counts[s.Position]
		c.train++
		counts[s.Position] = c
	}
	for _, s := range splits.Test {
		c := counts[s.Position]
		c.test++
		counts[s.Position] = c
	}

	// 20 images, limit 16.0: 16 train / 4 test
	assert.Equal(t, 16, counts[1].train)
	assert.Equal(t, 4, counts[1].test)
	// 11 images, limit 8.8: 8 train / 3 test
	assert.Equal(t, 8, counts[2].train)
	assert.Equal(t, 3, counts[2].test)

	// Partition sizes sum to per-species trustworthy counts
	assert.Equal(t, 20, counts[1].train+counts[1].test)
	assert.Equal(t, 11, counts[2].train+counts[2].test)
}

func TestBuildSplitsUntrustworthyExcluded(t *testing.T) {
	t.Parallel()

	images := makeImages(1, 0, 15)
	for i := 11; i < 15; i++ {
		images[i].Trustworthy = false
	}

	builder := NewBuilder(10, nil)
	splits, err := builder.BuildSplits(images, 0)
	require.NoError(t, err)

	// 11 trustworthy images survive, all in train with zero test fraction
	assert.Len(t, splits.Train, 11)
	assert.Empty(t, splits.Test)
}

func TestBuildSplitsDeterminism(t *testing.T) {
	t.Parallel()

	var images []LabeledImage
	images = append(images, makeImages(3, 500, 14)...)
	images = append(images, makeImages(1, 40, 12)...)
	images = append(images, makeImages(2, 9000, 30)...)

	builder := NewBuilder(10, nil)
	first, err := builder.BuildSplits(images, 0.25)
	require.NoError(t, err)

	// Shuffle input order, result must be identical
	reversed := make([]LabeledImage, len(images))
	for i, img := range images {
		reversed[len(images)-1-i] = img
	}
	second, err := builder.BuildSplits(reversed, 0.25)
	require.NoError(t, err)

	assert.Equal(t, first.Classes, second.Classes)
	assert.Equal(t, first.Train, second.Train)
	assert.Equal(t, first.Test, second.Test)
}

func TestBuildSplitsNoAdmittedClasses(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(10, nil)
	_, err := builder.BuildSplits(makeImages(1, 0, 5), 0.2)
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientData(err))

	_, err = builder.BuildSplits(nil, 0.2)
	require.Error(t, err)
	assert.True(t, errors.IsInsufficientData(err))
}

func TestBuildSplitsInvalidTestFraction(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(10, nil)
	for _, fraction := range []float64{-0.1, 1.0, 1.5} {
		_, err := builder.BuildSplits(makeImages(1, 0, 20), fraction)
		require.Error(t, err, "fraction %g", fraction)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

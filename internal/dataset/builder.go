// Package dataset turns labeled ground-truth images into deterministic
// train/test splits with stable class positions.
package dataset

import (
	"log/slog"
	"sort"

	"github.com/acrenier/imagerie/internal/errors"
)

// DefaultMinSupport is the minimum trustworthy image count a species must
// exceed to be admitted as a training class.
const DefaultMinSupport = 10

// LabeledImage is a ground-truth image reference with its curator label.
type LabeledImage struct {
	ImageID     uint
	SpeciesID   uint
	Trustworthy bool
}

// Sample assigns an image to a class position for training or evaluation.
type Sample struct {
	ImageID  uint
	Position int // 1-based class position
}

// ClassAssignment maps a species to its output position for one classifier.
type ClassAssignment struct {
	SpeciesID uint
	Position  int
}

// Splits is the result of partitioning admitted images.
type Splits struct {
	Classes []ClassAssignment
	Train   []Sample
	Test    []Sample
}

// NumClasses returns the number of admitted classes.
func (s *Splits) NumClasses() int {
	return len(s.Classes)
}

// Builder groups ground-truth images by species and produces splits.
type Builder struct {
	minSupport int
	logger     *slog.Logger
}

// NewBuilder creates a Builder. A non-positive minSupport falls back to
// DefaultMinSupport.
func NewBuilder(minSupport int, logger *slog.Logger) *Builder {
	if minSupport <= 0 {
		minSupport = DefaultMinSupport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{minSupport: minSupport, logger: logger}
}

// BuildSplits partitions trustworthy images into train and test sets.
//
// Species are admitted only when their trustworthy image count strictly
// exceeds the support threshold; admitted species get 1-based positions in
// ascending species id order. Within each species, images ordered by id are
// split at count*(1-testFraction): earlier images train, the rest test.
// The whole procedure is deterministic for identical input.
func (b *Builder) BuildSplits(images []LabeledImage, testFraction float64) (*Splits, error) {
	if testFraction < 0 || testFraction >= 1 {
		return nil, errors.Newf("test fraction must be in [0, 1), got %g", testFraction).
			Category(errors.CategoryValidation).
			Component("dataset").
			Build()
	}

	bySpecies := make(map[uint][]uint)
	for _, img := range images {
		if !img.Trustworthy {
			continue
		}
		bySpecies[img.SpeciesID] = append(bySpecies[img.SpeciesID], img.ImageID)
	}

	speciesIDs := make([]uint, 0, len(bySpecies))
	for id := range bySpecies {
		speciesIDs = append(speciesIDs, id)
	}
	sort.Slice(speciesIDs, func(i, j int) bool { return speciesIDs[i] < speciesIDs[j] })

	splits := &Splits{}
	position := 1
	for _, speciesID := range speciesIDs {
		imageIDs := bySpecies[speciesID]
		// Strictly greater-than: a species sitting exactly at the
		// threshold is excluded.
		if len(imageIDs) <= b.minSupport {
			b.logger.Debug("Species below support threshold, excluded from training run",
				"species_id", speciesID,
				"count", len(imageIDs),
				"min_support", b.minSupport)
			continue
		}

		sort.Slice(imageIDs, func(i, j int) bool { return imageIDs[i] < imageIDs[j] })

		splits.Classes = append(splits.Classes, ClassAssignment{
			SpeciesID: speciesID,
			Position:  position,
		})

		trainLimit := float64(len(imageIDs)) * (1 - testFraction)
		for i, imageID := range imageIDs {
			sample := Sample{ImageID: imageID, Position: position}
			if float64(i+1) <= trainLimit {
				splits.Train = append(splits.Train, sample)
			} else {
				splits.Test = append(splits.Test, sample)
			}
		}

		position++
	}

	if len(splits.Classes) == 0 {
		return nil, errors.Newf("no species exceeds the support threshold of %d trustworthy images", b.minSupport).
			Category(errors.CategoryInsufficientData).
			Component("dataset").
			Context("species_seen", len(bySpecies)).
			Context("min_support", b.minSupport).
			Build()
	}

	b.logger.Info("Dataset splits built",
		"classes", len(splits.Classes),
		"train_samples", len(splits.Train),
		"test_samples", len(splits.Test),
		"test_fraction", testFraction)

	return splits, nil
}

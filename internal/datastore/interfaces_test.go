package datastore

import (
	"testing"
	"time"

	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an isolated on-disk SQLite store under a temp dir.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/test.db"

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedSpecies creates a species-rank taxon plus species row.
func seedSpecies(t *testing.T, store *SQLiteStore, rank *Rank, latin string) Species {
	t.Helper()

	species := Species{
		Taxon:     Taxon{Name: latin, RankID: rank.ID},
		LatinName: latin,
	}
	require.NoError(t, store.SaveSpecies(&species))
	return species
}

func seedRank(t *testing.T, store *SQLiteStore) *Rank {
	t.Helper()

	rank := &Rank{Name: "species", SpeciesLevel: true}
	require.NoError(t, store.SaveRank(rank))
	return rank
}

func seedClassifier(t *testing.T, store *SQLiteStore, name string) Classifier {
	t.Helper()

	arch := Architecture{
		Name:      "pooled-softmax",
		Optimizer: Optimizer{Name: "sgd"},
		Loss:      Loss{Name: "categorical_crossentropy"},
	}
	require.NoError(t, store.SaveArchitecture(&arch))

	classifier := Classifier{Name: name, ArchitectureID: arch.ID}
	require.NoError(t, store.SaveClassifier(&classifier))
	return classifier
}

func TestSpeciesRoundTrip(t *testing.T) {
	store := newTestStore(t)
	rank := seedRank(t, store)

	saved := seedSpecies(t, store, rank, "Quercus robur")

	got, err := store.GetSpecies(saved.TaxonID)
	require.NoError(t, err)
	assert.Equal(t, "Quercus robur", got.LatinName)
	assert.Equal(t, "Quercus robur", got.Taxon.Name)

	_, err = store.GetSpecies(9999)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGroundTruthImageListing(t *testing.T) {
	store := newTestStore(t)
	rank := seedRank(t, store)
	species := seedSpecies(t, store, rank, "Quercus robur")

	content := ContentTag{Name: "leaf"}
	require.NoError(t, store.DB.Create(&content).Error)
	typeTag := TypeTag{Name: "photo"}
	require.NoError(t, store.DB.Create(&typeTag).Error)

	labeled := Image{
		BlobRef:     "gt-1.jpg",
		ContentID:   content.ID,
		TypeID:      typeTag.ID,
		Kind:        ImageKindGroundTruth,
		SpeciesID:   &species.TaxonID,
		Trustworthy: true,
	}
	require.NoError(t, store.SaveImage(&labeled))

	submitted := Image{
		BlobRef:   "sub-1.jpg",
		ContentID: content.ID,
		TypeID:    typeTag.ID,
		Kind:      ImageKindSubmitted,
	}
	require.NoError(t, store.SaveImage(&submitted))

	images, err := store.GetGroundTruthImages()
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "gt-1.jpg", images[0].BlobRef)
	assert.True(t, images[0].IsGroundTruth())
}

func TestCompleteTrainingReplacesClassCodes(t *testing.T) {
	store := newTestStore(t)
	rank := seedRank(t, store)
	first := seedSpecies(t, store, rank, "Quercus robur")
	second := seedSpecies(t, store, rank, "Fagus sylvatica")

	classifier := seedClassifier(t, store, "oak-vs-beech")

	// First training cycle
	trainedAt := time.Now()
	err := store.CompleteTraining(classifier.ID, 0.8, "weights/v1.gob", trainedAt, []ClassCode{
		{Position: 1, SpeciesID: first.TaxonID},
		{Position: 2, SpeciesID: second.TaxonID},
	})
	require.NoError(t, err)

	got, err := store.GetClassifier(classifier.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 0.8, got.Accuracy)
	assert.Equal(t, "weights/v1.gob", got.WeightsPath)
	require.NotNil(t, got.TrainedAt)

	// Retraining reassigns the positions
	err = store.CompleteTraining(classifier.ID, 0.9, "weights/v2.gob", time.Now(), []ClassCode{
		{Position: 1, SpeciesID: second.TaxonID},
		{Position: 2, SpeciesID: first.TaxonID},
	})
	require.NoError(t, err)

	codes, err := store.GetClassCodes(classifier.ID)
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, 1, codes[0].Position)
	assert.Equal(t, second.TaxonID, codes[0].SpeciesID)
	assert.Equal(t, 2, codes[1].Position)
	assert.Equal(t, first.TaxonID, codes[1].SpeciesID)
}

func TestCompleteTrainingUnknownClassifier(t *testing.T) {
	store := newTestStore(t)

	err := store.CompleteTraining(1234, 0.5, "w.gob", time.Now(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestSpeciesTotalsAggregation(t *testing.T) {
	store := newTestStore(t)
	rank := seedRank(t, store)
	oak := seedSpecies(t, store, rank, "Quercus robur")
	beech := seedSpecies(t, store, rank, "Fagus sylvatica")

	classifierA := seedClassifier(t, store, "a")
	classifierB := seedClassifier(t, store, "b")

	content := ContentTag{Name: "leaf"}
	require.NoError(t, store.DB.Create(&content).Error)
	typeTag := TypeTag{Name: "photo"}
	require.NoError(t, store.DB.Create(&typeTag).Error)

	image := Image{BlobRef: "img.jpg", ContentID: content.ID, TypeID: typeTag.ID, Kind: ImageKindSubmitted}
	require.NoError(t, store.SaveImage(&image))

	err := store.SavePredictions([]Prediction{
		{ClassifierID: classifierA.ID, ImageID: image.ID, SpeciesID: oak.TaxonID, Confidence: 0.4},
		{ClassifierID: classifierB.ID, ImageID: image.ID, SpeciesID: oak.TaxonID, Confidence: 0.3},
		{ClassifierID: classifierA.ID, ImageID: image.ID, SpeciesID: beech.TaxonID, Confidence: 0.5},
	})
	require.NoError(t, err)

	totals, err := store.SpeciesTotals(image.ID)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, oak.TaxonID, totals[0].SpeciesID)
	assert.InDelta(t, 0.7, totals[0].TotalConfidence, 1e-9)
	assert.Equal(t, beech.TaxonID, totals[1].SpeciesID)

	best, err := store.AggregatedSpecies(image.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, oak.TaxonID, best.SpeciesID)
}

func TestSpeciesTotalsTieBreaksOnLowestID(t *testing.T) {
	store := newTestStore(t)
	rank := seedRank(t, store)
	first := seedSpecies(t, store, rank, "Quercus robur")
	second := seedSpecies(t, store, rank, "Fagus sylvatica")

	classifier := seedClassifier(t, store, "tied")

	content := ContentTag{Name: "leaf"}
	require.NoError(t, store.DB.Create(&content).Error)
	typeTag := TypeTag{Name: "photo"}
	require.NoError(t, store.DB.Create(&typeTag).Error)

	image := Image{BlobRef: "tie.jpg", ContentID: content.ID, TypeID: typeTag.ID, Kind: ImageKindSubmitted}
	require.NoError(t, store.SaveImage(&image))

	err := store.SavePredictions([]Prediction{
		{ClassifierID: classifier.ID, ImageID: image.ID, SpeciesID: second.TaxonID, Confidence: 0.5},
		{ClassifierID: classifier.ID, ImageID: image.ID, SpeciesID: first.TaxonID, Confidence: 0.5},
	})
	require.NoError(t, err)

	best, err := store.AggregatedSpecies(image.ID)
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, first.TaxonID, best.SpeciesID)
}

func TestAggregatedSpeciesNoPredictions(t *testing.T) {
	store := newTestStore(t)

	best, err := store.AggregatedSpecies(42)
	require.NoError(t, err)
	assert.Nil(t, best)
}

func TestBestClassifierForRouting(t *testing.T) {
	store := newTestStore(t)

	leaf := ContentTag{Name: "leaf"}
	require.NoError(t, store.DB.Create(&leaf).Error)
	scan := TypeTag{Name: "scan"}
	require.NoError(t, store.DB.Create(&scan).Error)

	generalist := seedClassifier(t, store, "generalist")
	leafExpert := seedClassifier(t, store, "leaf-expert")
	scanExpert := seedClassifier(t, store, "scan-expert")
	for _, c := range []Classifier{generalist, leafExpert, scanExpert} {
		require.NoError(t, store.CompleteTraining(c.ID, 0.5, "w.gob", time.Now(), nil))
	}
	// Generalist is the most accurate overall
	require.NoError(t, store.DB.Model(&Classifier{}).Where("id = ?", generalist.ID).
		Update("accuracy", 0.9).Error)

	require.NoError(t, store.SaveContentSpecialty(&ContentSpecialty{
		ClassifierID: leafExpert.ID, ContentID: leaf.ID, Accuracy: 0.7,
	}))
	require.NoError(t, store.SaveTypeSpecialty(&TypeSpecialty{
		ClassifierID: scanExpert.ID, TypeID: scan.ID, Accuracy: 0.6,
	}))

	// Content specialty wins when present
	got, err := store.BestClassifierFor(leaf.ID, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, leafExpert.ID, got.ID)

	// Falls through to type specialty
	got, err = store.BestClassifierFor(999, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, scanExpert.ID, got.ID)

	// Falls through to best overall accuracy
	got, err = store.BestClassifierFor(999, 999)
	require.NoError(t, err)
	assert.Equal(t, generalist.ID, got.ID)
}

func TestBestClassifierForNoneAvailable(t *testing.T) {
	store := newTestStore(t)
	seedClassifier(t, store, "untrained")

	_, err := store.BestClassifierFor(1, 1)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestGetAvailableClassifiersOrdering(t *testing.T) {
	store := newTestStore(t)

	low := seedClassifier(t, store, "low")
	high := seedClassifier(t, store, "high")
	require.NoError(t, store.CompleteTraining(low.ID, 0.6, "w.gob", time.Now(), nil))
	require.NoError(t, store.CompleteTraining(high.ID, 0.95, "w.gob", time.Now(), nil))

	classifiers, err := store.GetAvailableClassifiers()
	require.NoError(t, err)
	require.Len(t, classifiers, 2)
	assert.Equal(t, high.ID, classifiers[0].ID)
	assert.Equal(t, low.ID, classifiers[1].ID)
}

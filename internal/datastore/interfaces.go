// interfaces.go defines the query contracts the rest of the application
// depends on, and their shared GORM implementation.
package datastore

import (
	"fmt"
	"time"

	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/errors"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error

	// Taxonomy and reference data
	SaveRank(rank *Rank) error
	SaveTaxon(taxon *Taxon) error
	SaveSpecies(species *Species) error
	GetSpecies(id uint) (Species, error)
	GetAllSpecies() ([]Species, error)

	// Images
	SaveImage(image *Image) error
	GetImage(id uint) (Image, error)
	GetGroundTruthImages() ([]Image, error)

	// Classifiers
	SaveArchitecture(arch *Architecture) error
	SaveClassifier(classifier *Classifier) error
	GetClassifier(id uint) (Classifier, error)
	GetAvailableClassifiers() ([]Classifier, error)
	CompleteTraining(classifierID uint, accuracy float64, weightsPath string, trainedAt time.Time, classes []ClassCode) error
	GetClassCodes(classifierID uint) ([]ClassCode, error)
	BestClassifierFor(contentID, typeID uint) (Classifier, error)
	SaveContentSpecialty(specialty *ContentSpecialty) error
	SaveTypeSpecialty(specialty *TypeSpecialty) error

	// Predictions
	SavePredictions(predictions []Prediction) error
	SpeciesTotals(imageID uint) ([]SpeciesConfidence, error)
	AggregatedSpecies(imageID uint) (*SpeciesConfidence, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a store for the backend enabled in settings.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// SaveRank inserts or updates a rank.
func (ds *DataStore) SaveRank(rank *Rank) error {
	if err := ds.DB.Save(rank).Error; err != nil {
		return dbError(err, "saving rank")
	}
	return nil
}

// SaveTaxon inserts or updates a taxon.
func (ds *DataStore) SaveTaxon(taxon *Taxon) error {
	if err := ds.DB.Save(taxon).Error; err != nil {
		return dbError(err, "saving taxon")
	}
	return nil
}

// SaveSpecies stores a species and its base taxon in one transaction.
func (ds *DataStore) SaveSpecies(species *Species) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if species.TaxonID == 0 && species.Taxon.Name != "" {
			if err := tx.Save(&species.Taxon).Error; err != nil {
				return dbError(err, "saving species taxon")
			}
			species.TaxonID = species.Taxon.ID
		}
		if err := tx.Save(species).Error; err != nil {
			return dbError(err, "saving species")
		}
		return nil
	})
}

// GetSpecies retrieves a species with its taxon by shared id.
func (ds *DataStore) GetSpecies(id uint) (Species, error) {
	var species Species
	if err := ds.DB.Preload("Taxon").First(&species, "taxon_id = ?", id).Error; err != nil {
		return Species{}, notFoundOrDBError(err, fmt.Sprintf("species %d", id))
	}
	return species, nil
}

// GetAllSpecies lists all species ordered by id.
func (ds *DataStore) GetAllSpecies() ([]Species, error) {
	var species []Species
	if err := ds.DB.Order("taxon_id").Find(&species).Error; err != nil {
		return nil, dbError(err, "listing species")
	}
	return species, nil
}

// SaveImage inserts or updates an image record.
func (ds *DataStore) SaveImage(image *Image) error {
	if err := ds.DB.Save(image).Error; err != nil {
		return dbError(err, "saving image")
	}
	return nil
}

// GetImage retrieves an image by id.
func (ds *DataStore) GetImage(id uint) (Image, error) {
	var image Image
	if err := ds.DB.First(&image, id).Error; err != nil {
		return Image{}, notFoundOrDBError(err, fmt.Sprintf("image %d", id))
	}
	return image, nil
}

// GetGroundTruthImages returns every curator-labeled image, ordered by id
// so downstream dataset building stays deterministic.
func (ds *DataStore) GetGroundTruthImages() ([]Image, error) {
	var images []Image
	err := ds.DB.
		Where("kind = ? AND species_id IS NOT NULL", ImageKindGroundTruth).
		Order("id").
		Find(&images).Error
	if err != nil {
		return nil, dbError(err, "listing ground-truth images")
	}
	return images, nil
}

// SaveArchitecture inserts or updates an architecture.
func (ds *DataStore) SaveArchitecture(arch *Architecture) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if arch.OptimizerID == 0 && arch.Optimizer.Name != "" {
			if err := tx.FirstOrCreate(&arch.Optimizer, Optimizer{Name: arch.Optimizer.Name}).Error; err != nil {
				return dbError(err, "saving optimizer")
			}
			arch.OptimizerID = arch.Optimizer.ID
		}
		if arch.LossID == 0 && arch.Loss.Name != "" {
			if err := tx.FirstOrCreate(&arch.Loss, Loss{Name: arch.Loss.Name}).Error; err != nil {
				return dbError(err, "saving loss")
			}
			arch.LossID = arch.Loss.ID
		}
		if err := tx.Save(arch).Error; err != nil {
			return dbError(err, "saving architecture")
		}
		return nil
	})
}

// SaveClassifier inserts or updates a classifier.
func (ds *DataStore) SaveClassifier(classifier *Classifier) error {
	if err := ds.DB.Save(classifier).Error; err != nil {
		return dbError(err, "saving classifier")
	}
	return nil
}

// GetClassifier retrieves a classifier with its architecture config.
func (ds *DataStore) GetClassifier(id uint) (Classifier, error) {
	var classifier Classifier
	err := ds.DB.
		Preload("Architecture").
		Preload("Architecture.Optimizer").
		Preload("Architecture.Loss").
		First(&classifier, id).Error
	if err != nil {
		return Classifier{}, notFoundOrDBError(err, fmt.Sprintf("classifier %d", id))
	}
	return classifier, nil
}

// GetAvailableClassifiers lists trained classifiers, best accuracy first.
func (ds *DataStore) GetAvailableClassifiers() ([]Classifier, error) {
	var classifiers []Classifier
	err := ds.DB.
		Preload("Architecture").
		Where("available = ?", true).
		Order("accuracy DESC, id").
		Find(&classifiers).Error
	if err != nil {
		return nil, dbError(err, "listing available classifiers")
	}
	return classifiers, nil
}

// CompleteTraining commits the outcome of a successful training cycle in a
// single transaction: replace the class codes, record accuracy, weights
// path and timestamp, and flip the classifier to available. Any failure
// rolls the whole promotion back, leaving the prior state untouched.
func (ds *DataStore) CompleteTraining(classifierID uint, accuracy float64, weightsPath string, trainedAt time.Time, classes []ClassCode) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("classifier_id = ?", classifierID).Delete(&ClassCode{}).Error; err != nil {
			return dbError(err, "clearing prior class codes")
		}
		for i := range classes {
			classes[i].ID = 0
			classes[i].ClassifierID = classifierID
			if err := tx.Create(&classes[i]).Error; err != nil {
				return dbError(err, "saving class code")
			}
		}
		updates := map[string]any{
			"accuracy":     accuracy,
			"weights_path": weightsPath,
			"trained_at":   trainedAt,
			"available":    true,
		}
		result := tx.Model(&Classifier{}).Where("id = ?", classifierID).Updates(updates)
		if result.Error != nil {
			return dbError(result.Error, "promoting classifier")
		}
		if result.RowsAffected == 0 {
			return errors.Newf("classifier %d not found", classifierID).
				Category(errors.CategoryNotFound).
				Component("datastore").
				Build()
		}
		return nil
	})
}

// GetClassCodes returns a classifier's class codes ordered by position.
func (ds *DataStore) GetClassCodes(classifierID uint) ([]ClassCode, error) {
	var codes []ClassCode
	err := ds.DB.
		Preload("Species").
		Where("classifier_id = ?", classifierID).
		Order("position").
		Find(&codes).Error
	if err != nil {
		return nil, dbError(err, "listing class codes")
	}
	return codes, nil
}

// BestClassifierFor routes an inference request to the available
// classifier best suited for the image's content and type annotations:
// content specialties first, then type specialties, then overall accuracy.
func (ds *DataStore) BestClassifierFor(contentID, typeID uint) (Classifier, error) {
	var id uint

	err := ds.DB.Model(&ContentSpecialty{}).
		Select("content_specialties.classifier_id").
		Joins("JOIN classifiers ON classifiers.id = content_specialties.classifier_id").
		Where("content_specialties.content_id = ? AND classifiers.available = ?", contentID, true).
		Order("content_specialties.accuracy DESC").
		Limit(1).
		Scan(&id).Error
	if err != nil {
		return Classifier{}, dbError(err, "routing by content specialty")
	}

	if id == 0 {
		err = ds.DB.Model(&TypeSpecialty{}).
			Select("type_specialties.classifier_id").
			Joins("JOIN classifiers ON classifiers.id = type_specialties.classifier_id").
			Where("type_specialties.type_id = ? AND classifiers.available = ?", typeID, true).
			Order("type_specialties.accuracy DESC").
			Limit(1).
			Scan(&id).Error
		if err != nil {
			return Classifier{}, dbError(err, "routing by type specialty")
		}
	}

	if id == 0 {
		classifiers, err := ds.GetAvailableClassifiers()
		if err != nil {
			return Classifier{}, err
		}
		if len(classifiers) == 0 {
			return Classifier{}, errors.Newf("no available classifier for content %d type %d", contentID, typeID).
				Category(errors.CategoryNotFound).
				Component("datastore").
				Build()
		}
		return classifiers[0], nil
	}

	return ds.GetClassifier(id)
}

// SaveContentSpecialty inserts or updates a content specialty.
func (ds *DataStore) SaveContentSpecialty(specialty *ContentSpecialty) error {
	if err := ds.DB.Save(specialty).Error; err != nil {
		return dbError(err, "saving content specialty")
	}
	return nil
}

// SaveTypeSpecialty inserts or updates a type specialty.
func (ds *DataStore) SaveTypeSpecialty(specialty *TypeSpecialty) error {
	if err := ds.DB.Save(specialty).Error; err != nil {
		return dbError(err, "saving type specialty")
	}
	return nil
}

// SavePredictions stores a batch of prediction rows in one transaction.
func (ds *DataStore) SavePredictions(predictions []Prediction) error {
	if len(predictions) == 0 {
		return nil
	}
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range predictions {
			if err := tx.Create(&predictions[i]).Error; err != nil {
				return dbError(err, "saving prediction")
			}
		}
		return nil
	})
}

// SpeciesTotals sums prediction confidence per species for one image,
// highest total first, ties broken by lowest species id.
func (ds *DataStore) SpeciesTotals(imageID uint) ([]SpeciesConfidence, error) {
	var totals []SpeciesConfidence
	err := ds.DB.Model(&Prediction{}).
		Select("species_id, SUM(confidence) AS total_confidence").
		Where("image_id = ?", imageID).
		Group("species_id").
		Order("total_confidence DESC, species_id").
		Scan(&totals).Error
	if err != nil {
		return nil, dbError(err, "aggregating predictions")
	}
	return totals, nil
}

// AggregatedSpecies returns the best summed-confidence species for an
// image, or nil when the image has no predictions yet.
func (ds *DataStore) AggregatedSpecies(imageID uint) (*SpeciesConfidence, error) {
	totals, err := ds.SpeciesTotals(imageID)
	if err != nil {
		return nil, err
	}
	if len(totals) == 0 {
		return nil, nil
	}
	return &totals[0], nil
}

// dbError wraps a database failure with category and context.
func dbError(err error, operation string) error {
	return errors.Newf("%s: %w", operation, err).
		Category(errors.CategoryDatabase).
		Component("datastore").
		Build()
}

// notFoundOrDBError distinguishes missing records from real failures.
func notFoundOrDBError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Newf("%s not found", what).
			Category(errors.CategoryNotFound).
			Component("datastore").
			Build()
	}
	return dbError(err, "getting "+what)
}

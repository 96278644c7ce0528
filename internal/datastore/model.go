// model.go defines the persisted entities of the image classification catalog
package datastore

import "time"

// Image lifecycle kinds. A ground-truth image carries a curator label; a
// submitted image gets its species from the prediction aggregator.
const (
	ImageKindSubmitted   = "submitted"
	ImageKindGroundTruth = "ground-truth"
)

// Rank is a level of the taxonomy hierarchy. SpeciesLevel marks the rank
// whose taxa keep binomial clean names.
type Rank struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"uniqueIndex;not null"`
	SpeciesLevel bool
}

// Taxon is a node in the classification hierarchy. ExternalID stays nil
// until the remote taxonomy service resolves the clean name; a lookup with
// zero matches legitimately leaves it nil.
type Taxon struct {
	ID         uint   `gorm:"primaryKey"`
	ExternalID *int64 `gorm:"index:idx_taxa_external_id"`
	Name       string `gorm:"not null"`
	RankID     uint   `gorm:"index;not null"`
	Rank       Rank   `gorm:"foreignKey:RankID;constraint:OnDelete:RESTRICT"`
	ParentID   *uint  `gorm:"index"`
	Parent     *Taxon `gorm:"foreignKey:ParentID"`
}

// Species extends a species-rank Taxon with naming, joined by shared id.
type Species struct {
	TaxonID        uint   `gorm:"primaryKey"`
	Taxon          Taxon  `gorm:"foreignKey:TaxonID;constraint:OnDelete:CASCADE"`
	LatinName      string `gorm:"index:idx_species_latin_name;not null"`
	VernacularName string
}

// ContentTag annotates what an image shows (leaf, flower, bark, ...).
type ContentTag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// TypeTag annotates how an image was taken (photo, scan, herbarium, ...).
type TypeTag struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// Image is a stored picture. Kind discriminates the two lifecycles;
// SpeciesID and Trustworthy are only meaningful for ground-truth images.
type Image struct {
	ID          uint       `gorm:"primaryKey"`
	BlobRef     string     `gorm:"uniqueIndex;not null"` // key into the blob store
	CreatedAt   time.Time  `gorm:"index"`
	ContentID   uint       `gorm:"index"`
	Content     ContentTag `gorm:"foreignKey:ContentID;constraint:OnDelete:RESTRICT"`
	TypeID      uint       `gorm:"index"`
	Type        TypeTag    `gorm:"foreignKey:TypeID;constraint:OnDelete:RESTRICT"`
	Kind        string     `gorm:"type:varchar(16);index:idx_images_kind"`
	SpeciesID   *uint      `gorm:"index:idx_images_species"` // curator label
	Trustworthy bool

	Predictions []Prediction `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

// Optimizer is a named optimizer reference usable by architectures.
type Optimizer struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// Loss is a named loss function reference usable by architectures.
type Loss struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;not null"`
}

// Architecture names a registered model factory plus its optimizer and
// loss configuration. Weights are never stored on the architecture.
type Architecture struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"uniqueIndex;not null"` // registry name of the factory
	OptimizerID uint      `gorm:"index"`
	Optimizer   Optimizer `gorm:"foreignKey:OptimizerID;constraint:OnDelete:RESTRICT"`
	LossID      uint      `gorm:"index"`
	Loss        Loss      `gorm:"foreignKey:LossID;constraint:OnDelete:RESTRICT"`
}

// Classifier is one trainable model instance. Available flips true only
// after a full train, evaluate and persist cycle has committed.
type Classifier struct {
	ID             uint         `gorm:"primaryKey"`
	CreatedAt      time.Time    `gorm:"index"`
	Name           string       `gorm:"index"`
	ArchitectureID uint         `gorm:"index;not null"`
	Architecture   Architecture `gorm:"foreignKey:ArchitectureID;constraint:OnDelete:RESTRICT"`
	Accuracy       float64
	WeightsPath    string // empty until trained
	Available      bool   `gorm:"index:idx_classifiers_available"`
	TrainedAt      *time.Time

	ClassCodes         []ClassCode        `gorm:"foreignKey:ClassifierID;constraint:OnDelete:CASCADE"`
	ContentSpecialties []ContentSpecialty `gorm:"foreignKey:ClassifierID;constraint:OnDelete:CASCADE"`
	TypeSpecialties    []TypeSpecialty    `gorm:"foreignKey:ClassifierID;constraint:OnDelete:CASCADE"`
	Predictions        []Prediction       `gorm:"foreignKey:ClassifierID;constraint:OnDelete:CASCADE"`
}

// ClassCode maps a species into a classifier's output-index space. Output
// index i of the network corresponds to Position i+1. Positions are stable
// for the lifetime of a trained classifier; retraining may reassign.
type ClassCode struct {
	ID           uint    `gorm:"primaryKey"`
	ClassifierID uint    `gorm:"not null;uniqueIndex:idx_classcodes_classifier_position"`
	Position     int     `gorm:"not null;uniqueIndex:idx_classcodes_classifier_position"`
	SpeciesID    uint    `gorm:"index;not null"`
	Species      Species `gorm:"foreignKey:SpeciesID;constraint:OnDelete:CASCADE"`
}

// Prediction is one scored (classifier, image, species) candidate above
// the reporting threshold.
type Prediction struct {
	ID           uint    `gorm:"primaryKey"`
	ClassifierID uint    `gorm:"index;not null"`
	ImageID      uint    `gorm:"index:idx_predictions_image;not null"`
	SpeciesID    uint    `gorm:"index;not null"`
	Species      Species `gorm:"foreignKey:SpeciesID;constraint:OnDelete:CASCADE"`
	Confidence   float64
}

// ContentSpecialty declares a classifier is tuned for a content category,
// with its measured accuracy there. Used for inference routing.
type ContentSpecialty struct {
	ID           uint       `gorm:"primaryKey"`
	ClassifierID uint       `gorm:"index;not null"`
	ContentID    uint       `gorm:"index;not null"`
	Content      ContentTag `gorm:"foreignKey:ContentID;constraint:OnDelete:CASCADE"`
	Accuracy     float64
}

// TypeSpecialty declares a classifier is tuned for a type category.
type TypeSpecialty struct {
	ID           uint    `gorm:"primaryKey"`
	ClassifierID uint    `gorm:"index;not null"`
	TypeID       uint    `gorm:"index;not null"`
	Type         TypeTag `gorm:"foreignKey:TypeID;constraint:OnDelete:CASCADE"`
	Accuracy     float64
}

// SpeciesConfidence is the aggregate of prediction confidence per species
// for one image.
type SpeciesConfidence struct {
	SpeciesID       uint
	TotalConfidence float64
}

// IsGroundTruth reports whether the image carries a curator label.
func (img *Image) IsGroundTruth() bool {
	return img.Kind == ImageKindGroundTruth
}

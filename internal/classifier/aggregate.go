package classifier

import (
	"github.com/acrenier/imagerie/internal/datastore"
)

// AggregateResult is the consensus species for an image, with the summed
// confidence backing it.
type AggregateResult struct {
	Species         datastore.Species
	TotalConfidence float64
}

// BestSpecies returns the species with the highest summed prediction
// confidence for an image. Ties resolve to the lowest species id. It
// returns nil when no classifier has scored the image yet.
func (m *Manager) BestSpecies(imageID uint) (*AggregateResult, error) {
	best, err := m.store.AggregatedSpecies(imageID)
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, nil
	}
	species, err := m.store.GetSpecies(best.SpeciesID)
	if err != nil {
		return nil, err
	}
	return &AggregateResult{Species: species, TotalConfidence: best.TotalConfidence}, nil
}

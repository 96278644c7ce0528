package taxonomy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		taxonName    string
		speciesLevel bool
		want         string
	}{
		{"species keeps binomial", "Quercus robur L. 1753", true, "Quercus robur"},
		{"species with two tokens", "Quercus robur", true, "Quercus robur"},
		{"species with single token", "Quercus", true, "Quercus"},
		{"genus keeps first token", "Quercus robur", false, "Quercus"},
		{"family keeps first token", "Fagaceae", false, "Fagaceae"},
		{"extra whitespace collapses", "  Quercus   robur  subsp. robur", true, "Quercus robur"},
		{"empty name", "", true, ""},
		{"whitespace only", "   ", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CleanName(tt.taxonName, tt.speciesLevel))
		})
	}
}

// Re-applying CleanName to its own output must not change it further.
func TestCleanNameIdempotent(t *testing.T) {
	t.Parallel()

	names := []string{"Quercus robur L.", "Fagaceae", "Picea abies (L.) H.Karst."}
	for _, name := range names {
		for _, speciesLevel := range []bool{true, false} {
			first := CleanName(name, speciesLevel)
			assert.Equal(t, first, CleanName(first, speciesLevel),
				"name %q speciesLevel %v", name, speciesLevel)
		}
	}
}

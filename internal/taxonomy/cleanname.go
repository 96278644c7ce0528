package taxonomy

import "strings"

// CleanName derives the lookup name for a taxon. Species-level taxa keep
// the binomial (first two whitespace-separated tokens), every other rank
// keeps only the first token.
func CleanName(name string, speciesLevel bool) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	if speciesLevel {
		if len(fields) >= 2 {
			return fields[0] + " " + fields[1]
		}
		return fields[0]
	}
	return fields[0]
}

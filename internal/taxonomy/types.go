package taxonomy

import (
	"encoding/xml"
	"time"
)

// Config holds settings for the taxonomy lookup client.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	CacheTTL    time.Duration
	RateLimitMS int
}

// DefaultConfig returns the default client configuration pointing at the
// NCBI eutils taxonomy database.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
		Timeout:     30 * time.Second,
		CacheTTL:    24 * time.Hour,
		RateLimitMS: 350,
	}
}

// searchResult is the esearch XML payload. A positive Count means the first
// entry of IdList/Id is the resolved taxonomy id.
type searchResult struct {
	XMLName xml.Name `xml:"eSearchResult"`
	Count   int      `xml:"Count"`
	IDs     []int64  `xml:"IdList>Id"`
}

package taxonomy

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(Config{
		BaseURL:     "https://taxonomy.test/eutils",
		Timeout:     2 * time.Second,
		CacheTTL:    time.Minute,
		RateLimitMS: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.rateLimiter.Stop() })

	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	return client
}

func TestResolveFindsID(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://taxonomy.test/eutils/esearch.fcgi",
		httpmock.NewStringResponder(200,
			`<eSearchResult><Count>2</Count><IdList><Id>58024</Id><Id>12345</Id></IdList></eSearchResult>`))

	id, found, err := client.Resolve(context.Background(), "Quercus robur")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(58024), id)
}

func TestResolveZeroMatchesIsNotAnError(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://taxonomy.test/eutils/esearch.fcgi",
		httpmock.NewStringResponder(200,
			`<eSearchResult><Count>0</Count><IdList></IdList></eSearchResult>`))

	id, found, err := client.Resolve(context.Background(), "Nonexistus plantus")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, id)
}

func TestResolveCachesResults(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://taxonomy.test/eutils/esearch.fcgi",
		httpmock.NewStringResponder(200,
			`<eSearchResult><Count>1</Count><IdList><Id>99</Id></IdList></eSearchResult>`))

	for range 3 {
		id, found, err := client.Resolve(context.Background(), "Picea abies")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(99), id)
	}

	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	metrics := client.GetMetrics()
	assert.Equal(t, int64(2), metrics.CacheHits)
	assert.Equal(t, int64(1), metrics.CacheMisses)
}

func TestResolveServerErrorIsLookupFailure(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://taxonomy.test/eutils/esearch.fcgi",
		httpmock.NewStringResponder(500, "internal error"))

	_, _, err := client.Resolve(context.Background(), "Quercus robur")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTaxonomyLookup))
	// Server errors are retried before giving up
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestResolveClientErrorIsNotRetried(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://taxonomy.test/eutils/esearch.fcgi",
		httpmock.NewStringResponder(400, "bad request"))

	_, _, err := client.Resolve(context.Background(), "Quercus robur")
	require.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestResolveMalformedPayload(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet,
		"https://taxonomy.test/eutils/esearch.fcgi",
		httpmock.NewStringResponder(200, "this is not xml"))

	_, _, err := client.Resolve(context.Background(), "Quercus robur")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestResolveEmptyName(t *testing.T) {
	client := newTestClient(t)

	_, _, err := client.Resolve(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

// Package taxonomy resolves taxon names to external taxonomy ids through a
// remote esearch endpoint returning XML.
package taxonomy

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/logging"
	"github.com/patrickmn/go-cache"
)

// Package-level logger specific to the taxonomy service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "taxonomy.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "taxonomy", serviceLevelVar)
	if err != nil {
		// Fallback: disable service logging rather than panic on nil logger
		log.Printf("FATAL: Failed to initialize taxonomy file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "taxonomy")
		closeLogger = func() error { return nil }
	}
}

// Client resolves taxon names against the remote taxonomy service.
type Client struct {
	config      Config
	httpClient  *http.Client
	cache       *cache.Cache
	rateLimiter *time.Ticker
	mu          sync.Mutex
	lastRequest time.Time

	metrics struct {
		apiCalls      int64
		cacheHits     int64
		cacheMisses   int64
		apiErrors     int64
		totalDuration time.Duration
		mu            sync.RWMutex
	}
}

// cachedResolution distinguishes "resolved to id" from "looked up, no match".
type cachedResolution struct {
	ID    int64
	Found bool
}

// NewClient creates a new taxonomy lookup client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	if config.RateLimitMS == 0 {
		config.RateLimitMS = DefaultConfig().RateLimitMS
	}

	client := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		cache:       cache.New(config.CacheTTL, config.CacheTTL*2),
		rateLimiter: time.NewTicker(time.Duration(config.RateLimitMS) * time.Millisecond),
	}

	logger.Info("Taxonomy client initialized",
		"base_url", config.BaseURL,
		"cache_ttl", config.CacheTTL,
		"rate_limit_ms", config.RateLimitMS)

	return client, nil
}

// Close cleans up client resources.
func (c *Client) Close() {
	c.rateLimiter.Stop()
	logger.Info("Closing taxonomy client")

	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing taxonomy logger: %v", err)
		}
	}
}

// Resolve looks up the external taxonomy id for a clean name. A lookup that
// returns zero matches is not an error: it yields found=false. Transport
// and protocol failures are returned as taxonomy-lookup errors.
func (c *Client) Resolve(ctx context.Context, cleanName string) (id int64, found bool, err error) {
	if cleanName == "" {
		return 0, false, errors.Newf("taxonomy lookup requires a non-empty name").
			Category(errors.CategoryValidation).
			Component("taxonomy").
			Build()
	}

	cacheKey := fmt.Sprintf("resolve:%s", cleanName)

	if cached, ok := c.cache.Get(cacheKey); ok {
		if res, ok := cached.(cachedResolution); ok {
			c.metrics.mu.Lock()
			c.metrics.cacheHits++
			c.metrics.mu.Unlock()

			logger.Debug("Taxonomy cache hit",
				"name", cleanName,
				"tax_id", res.ID,
				"found", res.Found)
			return res.ID, res.Found, nil
		}
	}

	c.metrics.mu.Lock()
	c.metrics.cacheMisses++
	c.metrics.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	requestURL := fmt.Sprintf("%s/esearch.fcgi?db=taxonomy&term=%s",
		c.config.BaseURL, url.QueryEscape(cleanName))

	var result searchResult
	if err := c.doRequestWithRetry(reqCtx, requestURL, &result); err != nil {
		return 0, false, err
	}

	res := cachedResolution{}
	if result.Count > 0 && len(result.IDs) > 0 {
		res.ID = result.IDs[0]
		res.Found = true
	}
	c.cache.Set(cacheKey, res, cache.DefaultExpiration)

	logger.Debug("Taxonomy name resolved",
		"name", cleanName,
		"count", result.Count,
		"tax_id", res.ID,
		"found", res.Found)

	return res.ID, res.Found, nil
}

// doRequest performs a single rate-limited GET and decodes the XML payload.
func (c *Client) doRequest(ctx context.Context, requestURL string, result *searchResult) error {
	// Rate limiting
	c.mu.Lock()
	select {
	case <-c.rateLimiter.C:
	case <-ctx.Done():
		c.mu.Unlock()
		return ctx.Err()
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	start := time.Now()

	c.metrics.mu.Lock()
	c.metrics.apiCalls++
	c.metrics.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		c.metrics.mu.Lock()
		c.metrics.apiErrors++
		c.metrics.mu.Unlock()
		return errors.Newf("failed to create HTTP request: %w", err).
			Category(errors.CategoryTaxonomyLookup).
			Context("url", requestURL).
			Component("taxonomy").
			Build()
	}
	req.Header.Set("Accept", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.mu.Lock()
		c.metrics.apiErrors++
		c.metrics.mu.Unlock()

		logger.Error("Taxonomy request failed",
			"error", err,
			"url", requestURL)
		return errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryTaxonomyLookup).
			Context("url", requestURL).
			Component("taxonomy").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryTaxonomyLookup).
			Context("url", requestURL).
			Context("status_code", resp.StatusCode).
			Component("taxonomy").
			Build()
	}

	if resp.StatusCode >= 400 {
		c.metrics.mu.Lock()
		c.metrics.apiErrors++
		c.metrics.mu.Unlock()

		logger.Warn("Taxonomy service error response",
			"status_code", resp.StatusCode,
			"url", requestURL)
		return errors.Newf("taxonomy service error (status %d)", resp.StatusCode).
			Category(errors.CategoryTaxonomyLookup).
			Context("status_code", resp.StatusCode).
			Context("url", requestURL).
			Component("taxonomy").
			Build()
	}

	if err := xml.Unmarshal(bodyBytes, result); err != nil {
		responsePreview := string(bodyBytes)
		if len(responsePreview) > 500 {
			responsePreview = responsePreview[:500] + "..."
		}
		logger.Error("Failed to parse taxonomy response",
			"error", err,
			"url", requestURL,
			"response_preview", responsePreview)
		return errors.Newf("failed to parse response: %w", err).
			Category(errors.CategoryFileParsing).
			Context("url", requestURL).
			Context("response_size", len(bodyBytes)).
			Component("taxonomy").
			Build()
	}

	duration := time.Since(start)

	logger.Debug("Taxonomy request successful",
		"url", requestURL,
		"duration_ms", duration.Milliseconds())

	c.metrics.mu.Lock()
	c.metrics.totalDuration += duration
	c.metrics.mu.Unlock()

	return nil
}

// doRequestWithRetry wraps doRequest with retry for transient failures.
func (c *Client) doRequestWithRetry(ctx context.Context, requestURL string, result *searchResult) error {
	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.doRequest(ctx, requestURL, result)
		if err == nil {
			return nil
		}

		// Malformed payloads and validation failures won't improve on retry
		var enhancedErr *errors.EnhancedError
		if errors.As(err, &enhancedErr) {
			if enhancedErr.Category == errors.CategoryFileParsing ||
				enhancedErr.Category == errors.CategoryValidation {
				return err
			}
			if statusCode, ok := enhancedErr.Context["status_code"].(int); ok {
				if statusCode >= 400 && statusCode < 500 && statusCode != 429 {
					return err
				}
			}
		}

		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}

		delay := time.Duration(attempt+1) * 500 * time.Millisecond
		if attempt < maxRetries-1 {
			logger.Warn("Taxonomy request failed, retrying",
				"attempt", attempt+1,
				"max_retries", maxRetries,
				"delay_ms", delay.Milliseconds(),
				"url", requestURL,
				"error", err.Error())

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// ClearCache clears all cached resolutions.
func (c *Client) ClearCache() {
	c.cache.Flush()
	logger.Info("Taxonomy cache cleared")
}

// Metrics represents taxonomy client performance metrics.
type Metrics struct {
	APICalls      int64         `json:"api_calls"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	APIErrors     int64         `json:"api_errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// GetMetrics returns current client metrics.
func (c *Client) GetMetrics() Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	metrics := Metrics{
		APICalls:      c.metrics.apiCalls,
		CacheHits:     c.metrics.cacheHits,
		CacheMisses:   c.metrics.cacheMisses,
		APIErrors:     c.metrics.apiErrors,
		TotalDuration: c.metrics.totalDuration,
	}

	if metrics.APICalls > 0 {
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.APICalls)
	}

	return metrics
}

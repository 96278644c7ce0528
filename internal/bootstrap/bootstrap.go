// Package bootstrap assembles the application services from settings so
// every command wires them the same way.
package bootstrap

import (
	"github.com/acrenier/imagerie/internal/blobstore"
	"github.com/acrenier/imagerie/internal/classifier"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/datastore"
	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/jobqueue"
	"github.com/acrenier/imagerie/internal/notify"
	"github.com/acrenier/imagerie/internal/observability"
	"github.com/acrenier/imagerie/internal/taxonomy"
)

// Services is the assembled application runtime.
type Services struct {
	Settings *conf.Settings
	Store    datastore.Interface
	Blobs    *blobstore.Store
	Manager  *classifier.Manager
	Queue    *jobqueue.Queue
	Taxonomy *taxonomy.Client
	Metrics  *observability.Metrics
	Notifier *notify.Sender
}

// Build opens the datastore and constructs every service. The caller owns
// the result and must Close it.
func Build(settings *conf.Settings) (*Services, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, errors.Newf("no datastore backend is enabled").
			Category(errors.CategoryConfiguration).
			Component("bootstrap").
			Build()
	}
	if err := store.Open(); err != nil {
		return nil, err
	}

	blobs, err := blobstore.New(settings.Media.Root)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	notifier, err := notify.NewSender(&settings.Notification)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	taxonomyClient, err := taxonomy.NewClient(taxonomy.Config{
		BaseURL:     settings.Taxonomy.BaseURL,
		Timeout:     settings.Taxonomy.Timeout,
		CacheTTL:    settings.Taxonomy.CacheTTL,
		RateLimitMS: settings.Taxonomy.RateLimitMS,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	manager := classifier.NewManager(store, blobs, classifier.Config{
		ArtifactsRoot:   settings.Training.ArtifactsRoot,
		Epochs:          settings.Training.Epochs,
		TestFraction:    settings.Training.TestFraction,
		MinSupport:      settings.Training.MinSupport,
		ReportThreshold: settings.Training.ReportThreshold,
	}, metrics.Classifier, notifier)

	return &Services{
		Settings: settings,
		Store:    store,
		Blobs:    blobs,
		Manager:  manager,
		Queue:    jobqueue.New(),
		Taxonomy: taxonomyClient,
		Metrics:  metrics,
		Notifier: notifier,
	}, nil
}

// Close releases the services in reverse construction order.
func (s *Services) Close() {
	if s.Queue != nil {
		s.Queue.Stop()
	}
	if s.Taxonomy != nil {
		s.Taxonomy.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

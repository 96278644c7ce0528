// Package classifier orchestrates the training and inference lifecycle of
// catalog classifiers: dataset building, model fitting, weights
// persistence, promotion, and scored prediction of submitted images.
package classifier

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	stdlog "log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/acrenier/imagerie/internal/dataset"
	"github.com/acrenier/imagerie/internal/datastore"
	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/imagery"
	"github.com/acrenier/imagerie/internal/logging"
	"github.com/acrenier/imagerie/internal/network"
	"github.com/acrenier/imagerie/internal/observability/metrics"
)

var serviceLog *slog.Logger

func init() {
	var err error
	serviceLog, _, err = logging.NewFileLogger("logs/classifier.log", "classifier", slog.LevelInfo)
	if err != nil || serviceLog == nil {
		stdlog.Printf("Failed to initialize classifier file logger: %v", err)
		serviceLog = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Store is the slice of the datastore the manager depends on.
type Store interface {
	GetClassifier(id uint) (datastore.Classifier, error)
	GetGroundTruthImages() ([]datastore.Image, error)
	GetImage(id uint) (datastore.Image, error)
	GetSpecies(id uint) (datastore.Species, error)
	CompleteTraining(classifierID uint, accuracy float64, weightsPath string, trainedAt time.Time, classes []datastore.ClassCode) error
	GetClassCodes(classifierID uint) ([]datastore.ClassCode, error)
	BestClassifierFor(contentID, typeID uint) (datastore.Classifier, error)
	SavePredictions(predictions []datastore.Prediction) error
	AggregatedSpecies(imageID uint) (*datastore.SpeciesConfidence, error)
}

// BlobReader resolves blob references to stored image bytes.
type BlobReader interface {
	Read(ref string) ([]byte, error)
}

// Notifier delivers out-of-band messages about training outcomes.
type Notifier interface {
	Send(title, message string) error
}

// Config carries the training and reporting parameters.
type Config struct {
	ArtifactsRoot   string  // root directory for persisted weights
	Epochs          int     // training passes over the dataset
	TestFraction    float64 // held-out share per class, in [0, 1)
	MinSupport      int     // species admitted only above this trustworthy count
	ReportThreshold float64 // minimum confidence for persisted predictions
}

// TrainingResult summarizes a committed training cycle.
type TrainingResult struct {
	ClassifierID uint
	Architecture string
	Accuracy     float64
	WeightsPath  string
	NumClasses   int
	TrainSamples int
	TestSamples  int
	Duration     time.Duration
}

// Manager owns the classifier lifecycle. Training runs are serialized per
// classifier; loaded models are cached until the classifier is retrained.
type Manager struct {
	store   Store
	blobs   BlobReader
	cfg     Config
	metrics *metrics.ClassifierMetrics
	notify  Notifier

	lockMu     sync.Mutex
	trainLocks map[uint]*sync.Mutex

	modelsMu sync.RWMutex
	models   map[uint]network.Model
}

// NewManager creates a Manager. Metrics and notifier may be nil.
func NewManager(store Store, blobs BlobReader, cfg Config, m *metrics.ClassifierMetrics, notifier Notifier) *Manager {
	return &Manager{
		store:      store,
		blobs:      blobs,
		cfg:        cfg,
		metrics:    m,
		notify:     notifier,
		trainLocks: make(map[uint]*sync.Mutex),
		models:     make(map[uint]network.Model),
	}
}

// trainLock returns the mutex serializing training for one classifier.
func (m *Manager) trainLock(classifierID uint) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.trainLocks[classifierID]
	if !ok {
		lock = &sync.Mutex{}
		m.trainLocks[classifierID] = lock
	}
	return lock
}

// Train runs a full training cycle for one classifier: build the dataset
// from trustworthy ground-truth images, fit the architecture, evaluate on
// the held-out set, persist the weights and commit the promotion.
func (m *Manager) Train(ctx context.Context, classifierID uint) (*TrainingResult, error) {
	lock := m.trainLock(classifierID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	result, err := m.train(ctx, classifierID)

	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordTraining("unknown", "error")
		}
		serviceLog.Error("Training failed", "classifier_id", classifierID, "error", err)
		if m.notify != nil {
			_ = m.notify.Send("Training failed",
				fmt.Sprintf("Classifier %d training failed: %v", classifierID, err))
		}
		return nil, err
	}

	result.Duration = time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordTraining(result.Architecture, "success")
		m.metrics.RecordTrainingDuration(result.Architecture, result.Duration.Seconds())
	}
	serviceLog.Info("Training completed",
		"classifier_id", classifierID,
		"architecture", result.Architecture,
		"accuracy", result.Accuracy,
		"classes", result.NumClasses,
		"duration", result.Duration)
	if m.notify != nil {
		_ = m.notify.Send("Training completed",
			fmt.Sprintf("Classifier %d (%s) trained with accuracy %.3f over %d classes",
				classifierID, result.Architecture, result.Accuracy, result.NumClasses))
	}
	return result, nil
}

func (m *Manager) train(ctx context.Context, classifierID uint) (*TrainingResult, error) {
	classifier, err := m.store.GetClassifier(classifierID)
	if err != nil {
		return nil, err
	}
	spec := specFor(&classifier)

	model, err := network.Compile(spec)
	if err != nil {
		return nil, err
	}

	images, err := m.store.GetGroundTruthImages()
	if err != nil {
		return nil, err
	}
	labeled := make([]dataset.LabeledImage, 0, len(images))
	byID := make(map[uint]datastore.Image, len(images))
	for i := range images {
		img := images[i]
		if img.SpeciesID == nil {
			continue
		}
		labeled = append(labeled, dataset.LabeledImage{
			ImageID:     img.ID,
			SpeciesID:   *img.SpeciesID,
			Trustworthy: img.Trustworthy,
		})
		byID[img.ID] = img
	}

	splits, err := dataset.NewBuilder(m.cfg.MinSupport, serviceLog).BuildSplits(labeled, m.cfg.TestFraction)
	if err != nil {
		return nil, err
	}

	trainSamples, err := m.loadSamples(splits.Train, byID)
	if err != nil {
		return nil, err
	}
	testSamples, err := m.loadSamples(splits.Test, byID)
	if err != nil {
		return nil, err
	}

	if err := model.Fit(ctx, trainSamples, splits.NumClasses(), m.cfg.Epochs); err != nil {
		return nil, err
	}

	// A tiny dataset can leave the held-out set empty; fall back to the
	// training set so accuracy is still defined.
	evalSet := testSamples
	if len(evalSet) == 0 {
		evalSet = trainSamples
	}
	accuracy, err := model.Evaluate(evalSet)
	if err != nil {
		return nil, err
	}

	trainedAt := time.Now()
	weightsPath := m.weightsPath(spec.Name, classifier.ID, trainedAt)
	if err := os.MkdirAll(filepath.Dir(weightsPath), 0o755); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryPersist).
			Component("classifier").
			Context("operation", "create_weights_dir").
			FileContext(weightsPath, 0).
			Build()
	}
	if err := model.SaveWeights(weightsPath); err != nil {
		return nil, err
	}

	classes := make([]datastore.ClassCode, 0, len(splits.Classes))
	for _, class := range splits.Classes {
		classes = append(classes, datastore.ClassCode{
			Position:  class.Position,
			SpeciesID: class.SpeciesID,
		})
	}
	if err := m.store.CompleteTraining(classifier.ID, accuracy, weightsPath, trainedAt, classes); err != nil {
		return nil, err
	}

	m.modelsMu.Lock()
	m.models[classifier.ID] = model
	m.modelsMu.Unlock()

	return &TrainingResult{
		ClassifierID: classifier.ID,
		Architecture: spec.Name,
		Accuracy:     accuracy,
		WeightsPath:  weightsPath,
		NumClasses:   splits.NumClasses(),
		TrainSamples: len(trainSamples),
		TestSamples:  len(testSamples),
	}, nil
}

// weightsPath lays out weights as
// <root>/training_datas/<arch>_<year>_<month>_<day>_<hour>/classifier-<id>.weights
func (m *Manager) weightsPath(architecture string, classifierID uint, at time.Time) string {
	dir := fmt.Sprintf("%s_%d_%d_%d_%d", architecture, at.Year(), int(at.Month()), at.Day(), at.Hour())
	file := fmt.Sprintf("classifier-%d.weights", classifierID)
	return filepath.Join(m.cfg.ArtifactsRoot, "training_datas", dir, file)
}

// loadSamples reads and preprocesses the blobs behind a sample set.
func (m *Manager) loadSamples(samples []dataset.Sample, byID map[uint]datastore.Image) ([]network.TrainingSample, error) {
	out := make([]network.TrainingSample, 0, len(samples))
	for _, sample := range samples {
		img, ok := byID[sample.ImageID]
		if !ok {
			return nil, errors.Newf("image %d in split has no record", sample.ImageID).
				Category(errors.CategoryState).
				Component("classifier").
				Build()
		}
		data, err := m.blobs.Read(img.BlobRef)
		if err != nil {
			return nil, err
		}
		input, err := imagery.Preprocess(data)
		if err != nil {
			return nil, err
		}
		out = append(out, network.TrainingSample{Input: input, Position: sample.Position})
	}
	return out, nil
}

// Classify scores one image with one classifier and persists every
// candidate above the reporting threshold. The returned predictions are
// sorted by descending confidence.
func (m *Manager) Classify(ctx context.Context, imageID, classifierID uint) ([]datastore.Prediction, error) {
	classifier, err := m.store.GetClassifier(classifierID)
	if err != nil {
		return nil, err
	}
	image, err := m.store.GetImage(imageID)
	if err != nil {
		return nil, err
	}
	return m.classify(ctx, &image, &classifier)
}

// ClassifyAuto routes the image to the best-suited available classifier
// based on its content and type annotations.
func (m *Manager) ClassifyAuto(ctx context.Context, imageID uint) ([]datastore.Prediction, error) {
	image, err := m.store.GetImage(imageID)
	if err != nil {
		return nil, err
	}
	classifier, err := m.store.BestClassifierFor(image.ContentID, image.TypeID)
	if err != nil {
		return nil, err
	}
	return m.classify(ctx, &image, &classifier)
}

func (m *Manager) classify(ctx context.Context, image *datastore.Image, classifier *datastore.Classifier) ([]datastore.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryCancellation).
			Component("classifier").
			Build()
	}
	if !classifier.Available {
		m.recordClassification(classifier, "not_ready")
		return nil, errors.Newf("classifier %d (%s) is not available for classification", classifier.ID, classifier.Name).
			Category(errors.CategoryNotReady).
			ClassifierContext(classifier.ID, classifier.Architecture.Name).
			Component("classifier").
			Build()
	}

	data, err := m.blobs.Read(image.BlobRef)
	if err != nil {
		m.recordClassification(classifier, "error")
		return nil, err
	}
	input, err := imagery.Preprocess(data)
	if err != nil {
		m.recordClassification(classifier, "error")
		return nil, err
	}

	model, err := m.loadModel(classifier)
	if err != nil {
		m.recordClassification(classifier, "error")
		return nil, err
	}

	start := time.Now()
	scores, err := model.Predict([]*imagery.Tensor{input})
	if err != nil {
		m.recordClassification(classifier, "error")
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordInferenceDuration(classifier.Architecture.Name, time.Since(start).Seconds())
	}

	codes, err := m.store.GetClassCodes(classifier.ID)
	if err != nil {
		return nil, err
	}
	byPosition := make(map[int]uint, len(codes))
	for _, code := range codes {
		byPosition[code.Position] = code.SpeciesID
	}

	var predictions []datastore.Prediction
	for i, score := range scores[0] {
		confidence := float64(score)
		if confidence < m.cfg.ReportThreshold {
			continue
		}
		speciesID, ok := byPosition[i+1]
		if !ok {
			serviceLog.Warn("Output position has no class code",
				"classifier_id", classifier.ID, "position", i+1)
			continue
		}
		predictions = append(predictions, datastore.Prediction{
			ClassifierID: classifier.ID,
			ImageID:      image.ID,
			SpeciesID:    speciesID,
			Confidence:   confidence,
		})
	}

	sort.SliceStable(predictions, func(a, b int) bool {
		if predictions[a].Confidence != predictions[b].Confidence {
			return predictions[a].Confidence > predictions[b].Confidence
		}
		return predictions[a].SpeciesID < predictions[b].SpeciesID
	})

	if err := m.store.SavePredictions(predictions); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.RecordPredictionsSaved(len(predictions))
	}
	m.recordClassification(classifier, "success")

	return predictions, nil
}

func (m *Manager) recordClassification(classifier *datastore.Classifier, status string) {
	if m.metrics != nil {
		m.metrics.RecordClassification(classifier.Architecture.Name, status)
	}
}

// loadModel returns the cached model for a classifier, compiling and
// loading its weights on first use.
func (m *Manager) loadModel(classifier *datastore.Classifier) (network.Model, error) {
	m.modelsMu.RLock()
	model, ok := m.models[classifier.ID]
	m.modelsMu.RUnlock()
	if ok {
		return model, nil
	}

	m.modelsMu.Lock()
	defer m.modelsMu.Unlock()
	if model, ok := m.models[classifier.ID]; ok {
		return model, nil
	}

	spec := specFor(classifier)
	model, err := network.Compile(spec)
	if err != nil {
		return nil, err
	}

	if classifier.WeightsPath == "" {
		return nil, weightsMissing(classifier, nil)
	}
	if err := model.LoadWeights(classifier.WeightsPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.IsNotFound(err) {
			return nil, weightsMissing(classifier, err)
		}
		return nil, err
	}

	m.models[classifier.ID] = model
	return model, nil
}

// InvalidateModel drops a cached model, forcing a reload on next use.
func (m *Manager) InvalidateModel(classifierID uint) {
	m.modelsMu.Lock()
	delete(m.models, classifierID)
	m.modelsMu.Unlock()
}

func specFor(classifier *datastore.Classifier) network.Spec {
	return network.Spec{
		Name:      classifier.Architecture.Name,
		Optimizer: classifier.Architecture.Optimizer.Name,
		Loss:      classifier.Architecture.Loss.Name,
	}
}

func weightsMissing(classifier *datastore.Classifier, cause error) error {
	builder := errors.Newf("weights for classifier %d (%s) are missing at %q",
		classifier.ID, classifier.Name, classifier.WeightsPath)
	if cause != nil {
		builder = errors.Newf("weights for classifier %d (%s) are missing at %q: %w",
			classifier.ID, classifier.Name, classifier.WeightsPath, cause)
	}
	return builder.
		Category(errors.CategoryWeightsMissing).
		ClassifierContext(classifier.ID, classifier.Architecture.Name).
		Component("classifier").
		Build()
}

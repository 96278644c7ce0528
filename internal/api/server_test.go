package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/acrenier/imagerie/internal/blobstore"
	"github.com/acrenier/imagerie/internal/classifier"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/datastore"
	"github.com/acrenier/imagerie/internal/jobqueue"
	"github.com/acrenier/imagerie/internal/network"
	"github.com/acrenier/imagerie/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	network.RegisterBuiltins()
	os.Exit(m.Run())
}

// fakeResolver resolves a fixed set of clean names.
type fakeResolver struct {
	ids map[string]int64
}

func (r *fakeResolver) Resolve(ctx context.Context, cleanName string) (int64, bool, error) {
	id, ok := r.ids[cleanName]
	return id, ok, nil
}

func newTestServer(t *testing.T) (*Server, *datastore.SQLiteStore) {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = t.TempDir() + "/api.db"
	settings.WebServer.Port = "0"
	settings.Training = conf.TrainingSettings{
		ArtifactsRoot:   t.TempDir(),
		Epochs:          3,
		TestFraction:    0.2,
		MinSupport:      10,
		ReportThreshold: 0.1,
	}

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := blobstore.New(t.TempDir())
	require.NoError(t, err)

	manager := classifier.NewManager(store, blobs, classifier.Config{
		ArtifactsRoot:   settings.Training.ArtifactsRoot,
		Epochs:          settings.Training.Epochs,
		TestFraction:    settings.Training.TestFraction,
		MinSupport:      settings.Training.MinSupport,
		ReportThreshold: settings.Training.ReportThreshold,
	}, nil, nil)

	queue := jobqueue.New()
	ctx, cancel := context.WithCancel(context.Background())
	queue.Start(ctx)
	t.Cleanup(func() {
		cancel()
		queue.Stop()
	})

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	resolver := &fakeResolver{ids: map[string]int64{"Quercus robur": 38942}}
	return New(settings, store, blobs, manager, queue, resolver, metrics), store
}

// multipartImage builds a multipart body with a small PNG plus form fields.
func multipartImage(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.SetRGBA(x, y, color.RGBA{R: 120, G: 180, B: 60, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "leaf.png")
	require.NoError(t, err)
	_, err = part.Write(pngBuf.Bytes())
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doRequest(server *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	server.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitImage(t *testing.T) {
	server, store := newTestServer(t)

	body, contentType := multipartImage(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set(echoHeaderContentType, contentType)

	rec := doRequest(server, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp submittedImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, datastore.ImageKindSubmitted, resp.Kind)
	assert.NotEmpty(t, resp.BlobRef)

	saved, err := store.GetImage(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, resp.BlobRef, saved.BlobRef)
}

const echoHeaderContentType = "Content-Type"

func TestSubmitGroundTruthRequiresSpecies(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartImage(t, map[string]string{"kind": datastore.ImageKindGroundTruth})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set(echoHeaderContentType, contentType)

	rec := doRequest(server, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "species_id")
}

func TestSubmitRejectsSpeciesOnSubmittedKind(t *testing.T) {
	server, _ := newTestServer(t)

	body, contentType := multipartImage(t, map[string]string{"species_id": "3"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set(echoHeaderContentType, contentType)

	rec := doRequest(server, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyUnknownImage(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/v1/images/999/classify", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImageSpeciesWithoutPredictions(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/images/1/species", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainUnknownClassifier(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodPost, "/api/v1/classifiers/42/train", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrainEnqueuesJob(t *testing.T) {
	server, store := newTestServer(t)

	arch := datastore.Architecture{
		Name:      network.PooledSoftmaxName,
		Optimizer: datastore.Optimizer{Name: "sgd"},
		Loss:      datastore.Loss{Name: "categorical_crossentropy"},
	}
	require.NoError(t, store.SaveArchitecture(&arch))
	c := datastore.Classifier{Name: "empty", ArchitectureID: arch.ID}
	require.NoError(t, store.SaveClassifier(&c))

	url := fmt.Sprintf("/api/v1/classifiers/%d/train", c.ID)
	rec := doRequest(server, httptest.NewRequest(http.MethodPost, url, http.NoBody))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp trainEnqueued
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)

	// No ground-truth images exist, so the run ends in failure
	require.Eventually(t, func() bool {
		statusRec := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+resp.JobID, http.NoBody))
		return statusRec.Code == http.StatusOK && bytes.Contains(statusRec.Body.Bytes(), []byte("Failed"))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestJobStatusUnknown(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaxonomyResolve(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet,
		"/api/v1/taxonomy/resolve?name=Quercus+robur+var.+pedunculata", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp taxonomyResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Quercus robur", resp.CleanName)
	assert.True(t, resp.Found)
	assert.Equal(t, int64(38942), resp.ExternalID)
}

func TestTaxonomyResolveGenusLevel(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet,
		"/api/v1/taxonomy/resolve?name=Quercus+robur&species_level=false", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp taxonomyResolveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Quercus", resp.CleanName)
	assert.False(t, resp.Found)
}

func TestTaxonomyResolveRequiresName(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/taxonomy/resolve", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/acrenier/imagerie/internal/classifier"
	"github.com/acrenier/imagerie/internal/datastore"
	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/jobqueue"
	"github.com/acrenier/imagerie/internal/taxonomy"
	"github.com/labstack/echo/v4"
)

// Uploads above this size are rejected before buffering.
const maxUploadBytes = 32 << 20

// httpStatusFor maps internal error categories onto HTTP status codes.
func httpStatusFor(err error) int {
	switch {
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsConfiguration(err):
		return http.StatusBadRequest
	case errors.IsNotReady(err), errors.IsWeightsMissing(err):
		return http.StatusConflict
	case errors.IsInsufficientData(err):
		return http.StatusUnprocessableEntity
	case errors.IsCategory(err, errors.CategoryImageDecode):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func jsonError(c echo.Context, err error) error {
	status := httpStatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func parseIDParam(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, errors.Newf("invalid id %q", c.Param("id")).
			Category(errors.CategoryValidation).
			Component("api").
			Build()
	}
	return uint(id), nil
}

type submittedImage struct {
	ID      uint   `json:"id"`
	BlobRef string `json:"blob_ref"`
	Kind    string `json:"kind"`
}

// handleSubmitImage accepts a multipart upload and registers the image.
// Ground-truth uploads must carry a species id; submitted images must not.
func (s *Server) handleSubmitImage(c echo.Context) error {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		return jsonError(c, errors.Newf("missing image file: %w", err).
			Category(errors.CategoryValidation).
			Component("api").
			Build())
	}
	if fileHeader.Size > maxUploadBytes {
		return jsonError(c, errors.Newf("image exceeds maximum upload size of %d bytes", maxUploadBytes).
			Category(errors.CategoryValidation).
			Component("api").
			Build())
	}

	file, err := fileHeader.Open()
	if err != nil {
		return jsonError(c, err)
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		return jsonError(c, err)
	}

	image := datastore.Image{Kind: datastore.ImageKindSubmitted}

	if v := c.FormValue("content_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return jsonError(c, validationf("invalid content_id %q", v))
		}
		image.ContentID = uint(id)
	}
	if v := c.FormValue("type_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return jsonError(c, validationf("invalid type_id %q", v))
		}
		image.TypeID = uint(id)
	}

	if kind := c.FormValue("kind"); kind != "" {
		if kind != datastore.ImageKindSubmitted && kind != datastore.ImageKindGroundTruth {
			return jsonError(c, validationf("unknown image kind %q", kind))
		}
		image.Kind = kind
	}

	if v := c.FormValue("species_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return jsonError(c, validationf("invalid species_id %q", v))
		}
		speciesID := uint(id)
		image.SpeciesID = &speciesID
	}
	if v := c.FormValue("trustworthy"); v != "" {
		trustworthy, err := strconv.ParseBool(v)
		if err != nil {
			return jsonError(c, validationf("invalid trustworthy value %q", v))
		}
		image.Trustworthy = trustworthy
	}

	if image.Kind == datastore.ImageKindGroundTruth && image.SpeciesID == nil {
		return jsonError(c, validationf("ground-truth images require a species_id"))
	}
	if image.Kind == datastore.ImageKindSubmitted && image.SpeciesID != nil {
		return jsonError(c, validationf("submitted images cannot carry a species_id"))
	}

	ref, err := s.blobs.Save(data, fileHeader.Filename)
	if err != nil {
		return jsonError(c, err)
	}
	image.BlobRef = ref

	if err := s.store.SaveImage(&image); err != nil {
		// Orphan blobs are cleaned up eagerly, not by a sweeper
		_ = s.blobs.Remove(ref)
		return jsonError(c, err)
	}

	log.Info("Image submitted", "image_id", image.ID, "kind", image.Kind)
	return c.JSON(http.StatusCreated, submittedImage{ID: image.ID, BlobRef: ref, Kind: image.Kind})
}

func validationf(format string, args ...any) error {
	return errors.Newf(format, args...).
		Category(errors.CategoryValidation).
		Component("api").
		Build()
}

type predictionResponse struct {
	ClassifierID uint    `json:"classifier_id"`
	SpeciesID    uint    `json:"species_id"`
	Confidence   float64 `json:"confidence"`
}

// handleClassify scores an image. With ?classifier=<id> the named
// classifier is used; otherwise routing picks the best available one.
func (s *Server) handleClassify(c echo.Context) error {
	imageID, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	var predictions []datastore.Prediction
	if v := c.QueryParam("classifier"); v != "" {
		classifierID, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return jsonError(c, validationf("invalid classifier id %q", v))
		}
		predictions, err = s.manager.Classify(c.Request().Context(), imageID, uint(classifierID))
		if err != nil {
			return jsonError(c, err)
		}
	} else {
		predictions, err = s.manager.ClassifyAuto(c.Request().Context(), imageID)
		if err != nil {
			return jsonError(c, err)
		}
	}

	out := make([]predictionResponse, 0, len(predictions))
	for _, p := range predictions {
		out = append(out, predictionResponse{
			ClassifierID: p.ClassifierID,
			SpeciesID:    p.SpeciesID,
			Confidence:   p.Confidence,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type speciesTotalResponse struct {
	SpeciesID       uint    `json:"species_id"`
	TotalConfidence float64 `json:"total_confidence"`
}

// handleImagePredictions lists per-species summed confidence for an image.
func (s *Server) handleImagePredictions(c echo.Context) error {
	imageID, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	totals, err := s.store.SpeciesTotals(imageID)
	if err != nil {
		return jsonError(c, err)
	}
	out := make([]speciesTotalResponse, 0, len(totals))
	for _, total := range totals {
		out = append(out, speciesTotalResponse{
			SpeciesID:       total.SpeciesID,
			TotalConfidence: total.TotalConfidence,
		})
	}
	return c.JSON(http.StatusOK, out)
}

type bestSpeciesResponse struct {
	SpeciesID       uint    `json:"species_id"`
	LatinName       string  `json:"latin_name"`
	VernacularName  string  `json:"vernacular_name,omitempty"`
	TotalConfidence float64 `json:"total_confidence"`
}

// handleImageSpecies returns the consensus species for an image, or 404
// when nothing has scored it yet.
func (s *Server) handleImageSpecies(c echo.Context) error {
	imageID, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}
	result, err := s.manager.BestSpecies(imageID)
	if err != nil {
		return jsonError(c, err)
	}
	if result == nil {
		return jsonError(c, errors.Newf("image %d has no predictions yet", imageID).
			Category(errors.CategoryNotFound).
			Component("api").
			Build())
	}
	return c.JSON(http.StatusOK, bestSpeciesResponse{
		SpeciesID:       result.Species.TaxonID,
		LatinName:       result.Species.LatinName,
		VernacularName:  result.Species.VernacularName,
		TotalConfidence: result.TotalConfidence,
	})
}

type classifierResponse struct {
	ID           uint       `json:"id"`
	Name         string     `json:"name"`
	Architecture string     `json:"architecture"`
	Accuracy     float64    `json:"accuracy"`
	TrainedAt    *time.Time `json:"trained_at,omitempty"`
}

func (s *Server) handleListClassifiers(c echo.Context) error {
	classifiers, err := s.store.GetAvailableClassifiers()
	if err != nil {
		return jsonError(c, err)
	}
	out := make([]classifierResponse, 0, len(classifiers))
	for i := range classifiers {
		out = append(out, classifierResponse{
			ID:           classifiers[i].ID,
			Name:         classifiers[i].Name,
			Architecture: classifiers[i].Architecture.Name,
			Accuracy:     classifiers[i].Accuracy,
			TrainedAt:    classifiers[i].TrainedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// managerTrainAction adapts a training run to the job queue.
type managerTrainAction struct {
	manager      *classifier.Manager
	classifierID uint
}

func (a *managerTrainAction) Execute(ctx context.Context) error {
	_, err := a.manager.Train(ctx, a.classifierID)
	return err
}

func (a *managerTrainAction) Description() string {
	return fmt.Sprintf("train classifier %d", a.classifierID)
}

type trainEnqueued struct {
	JobID        string `json:"job_id"`
	ClassifierID uint   `json:"classifier_id"`
}

// handleTrain enqueues an asynchronous training run and returns the job id.
func (s *Server) handleTrain(c echo.Context) error {
	classifierID, err := parseIDParam(c)
	if err != nil {
		return jsonError(c, err)
	}

	// Fail fast on unknown classifiers instead of burying the error in
	// the job log.
	if _, err := s.store.GetClassifier(classifierID); err != nil {
		return jsonError(c, err)
	}

	job, err := s.queue.Enqueue(&managerTrainAction{manager: s.manager, classifierID: classifierID}, jobqueue.RetryConfig{})
	if err != nil {
		return jsonError(c, err)
	}

	log.Info("Training enqueued", "classifier_id", classifierID, "job_id", job.ID)
	return c.JSON(http.StatusAccepted, trainEnqueued{JobID: job.ID, ClassifierID: classifierID})
}

type jobStatusResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleJobStatus(c echo.Context) error {
	status, err := s.queue.JobStatusByID(c.Param("id"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, jobStatusResponse{JobID: c.Param("id"), Status: status.String()})
}

type taxonomyResolveResponse struct {
	Query      string `json:"query"`
	CleanName  string `json:"clean_name"`
	Found      bool   `json:"found"`
	ExternalID int64  `json:"external_id,omitempty"`
}

// handleTaxonomyResolve cleans a raw taxon name and looks up its external
// id. Species-level names keep two tokens, others one.
func (s *Server) handleTaxonomyResolve(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return jsonError(c, validationf("name query parameter is required"))
	}
	speciesLevel := true
	if v := c.QueryParam("species_level"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return jsonError(c, validationf("invalid species_level value %q", v))
		}
		speciesLevel = parsed
	}

	cleanName := taxonomy.CleanName(name, speciesLevel)
	id, found, err := s.resolver.Resolve(c.Request().Context(), cleanName)
	if err != nil {
		return jsonError(c, err)
	}

	resp := taxonomyResolveResponse{Query: name, CleanName: cleanName, Found: found}
	if found {
		resp.ExternalID = id
	}
	return c.JSON(http.StatusOK, resp)
}

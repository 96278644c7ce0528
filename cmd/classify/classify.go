// Package classify implements the command scoring an image with a
// classifier and reporting the aggregated species.
package classify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/acrenier/imagerie/internal/bootstrap"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/datastore"
	"github.com/spf13/cobra"
)

// Command creates the classify command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		imageID      uint
		classifierID uint
		filePath     string
		contentID    uint
		typeID       uint
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a stored or local image and print scored species",
		Long: `Classify scores an image against a trained classifier. Use --image to
score an already-submitted image, or --file to submit a local file first.
Without --classifier the best-suited available classifier is chosen from
the image's content and type annotations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(cmd, settings, imageID, classifierID, filePath, contentID, typeID)
		},
	}

	cmd.Flags().UintVarP(&imageID, "image", "i", 0, "ID of a stored image to classify")
	cmd.Flags().UintVarP(&classifierID, "classifier", "c", 0, "ID of the classifier to use (default: automatic routing)")
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "Path of a local image to submit and classify")
	cmd.Flags().UintVar(&contentID, "content", 0, "Content tag ID for a submitted file")
	cmd.Flags().UintVar(&typeID, "type", 0, "Type tag ID for a submitted file")
	cmd.MarkFlagsOneRequired("image", "file")
	cmd.MarkFlagsMutuallyExclusive("image", "file")

	return cmd
}

func runClassify(cmd *cobra.Command, settings *conf.Settings, imageID, classifierID uint, filePath string, contentID, typeID uint) error {
	services, err := bootstrap.Build(settings)
	if err != nil {
		return err
	}
	defer services.Close()

	if filePath != "" {
		imageID, err = submitFile(services, filePath, contentID, typeID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s as image %d\n", filepath.Base(filePath), imageID)
	}

	var predictions []datastore.Prediction
	if classifierID != 0 {
		predictions, err = services.Manager.Classify(cmd.Context(), imageID, classifierID)
	} else {
		predictions, err = services.Manager.ClassifyAuto(cmd.Context(), imageID)
	}
	if err != nil {
		return err
	}

	if len(predictions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No species scored above the reporting threshold")
		return nil
	}

	for _, p := range predictions {
		species, err := services.Store.GetSpecies(p.SpeciesID)
		name := fmt.Sprintf("species %d", p.SpeciesID)
		if err == nil {
			name = species.LatinName
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-40s %.3f (classifier %d)\n", name, p.Confidence, p.ClassifierID)
	}

	best, err := services.Manager.BestSpecies(imageID)
	if err != nil {
		return err
	}
	if best != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Consensus: %s (summed confidence %.3f)\n",
			best.Species.LatinName, best.TotalConfidence)
	}
	return nil
}

// submitFile stores a local image as a submitted catalog entry.
func submitFile(services *bootstrap.Services, filePath string, contentID, typeID uint) (uint, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return 0, err
	}

	ref, err := services.Blobs.Save(data, filepath.Base(filePath))
	if err != nil {
		return 0, err
	}

	image := datastore.Image{
		BlobRef:   ref,
		ContentID: contentID,
		TypeID:    typeID,
		Kind:      datastore.ImageKindSubmitted,
	}
	if err := services.Store.SaveImage(&image); err != nil {
		_ = services.Blobs.Remove(ref)
		return 0, err
	}
	return image.ID, nil
}

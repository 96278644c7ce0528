// Package train implements the command running a training cycle for one
// classifier.
package train

import (
	"fmt"
	"time"

	"github.com/acrenier/imagerie/internal/bootstrap"
	"github.com/acrenier/imagerie/internal/conf"
	"github.com/spf13/cobra"
)

// Command creates the train command.
func Command(settings *conf.Settings) *cobra.Command {
	var classifierID uint

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier on the trustworthy ground-truth images",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, settings, classifierID)
		},
	}

	cmd.Flags().UintVarP(&classifierID, "classifier", "c", 0, "ID of the classifier to train")
	_ = cmd.MarkFlagRequired("classifier")

	return cmd
}

func runTrain(cmd *cobra.Command, settings *conf.Settings, classifierID uint) error {
	services, err := bootstrap.Build(settings)
	if err != nil {
		return err
	}
	defer services.Close()

	result, err := services.Manager.Train(cmd.Context(), classifierID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Classifier %d (%s) trained in %s\n  classes:  %d\n  samples:  %d train / %d test\n  accuracy: %.3f\n  weights:  %s\n",
		result.ClassifierID, result.Architecture, result.Duration.Round(time.Millisecond),
		result.NumClasses, result.TrainSamples, result.TestSamples,
		result.Accuracy, result.WeightsPath)
	return nil
}

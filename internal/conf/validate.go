package conf

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidateSettings checks the loaded configuration for values the rest of
// the application cannot work with. It collects all problems instead of
// stopping at the first one.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if err := validateOutput(&settings.Output); err != nil {
		errs = append(errs, err)
	}
	if err := validateTraining(&settings.Training); err != nil {
		errs = append(errs, err)
	}
	if err := validateTaxonomy(&settings.Taxonomy); err != nil {
		errs = append(errs, err)
	}
	if err := validateWebServer(&settings.WebServer); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateOutput(output *OutputSettings) error {
	if !output.SQLite.Enabled && !output.MySQL.Enabled {
		return errors.New("output: either sqlite or mysql must be enabled")
	}
	if output.SQLite.Enabled && output.SQLite.Path == "" {
		return errors.New("output.sqlite.path must not be empty")
	}
	if output.MySQL.Enabled {
		if output.MySQL.Host == "" || output.MySQL.Database == "" {
			return errors.New("output.mysql requires host and database")
		}
	}
	return nil
}

func validateTraining(training *TrainingSettings) error {
	if training.TestFraction < 0 || training.TestFraction >= 1 {
		return fmt.Errorf("training.testfraction must be in [0, 1), got %g", training.TestFraction)
	}
	if training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be positive, got %d", training.Epochs)
	}
	if training.MinSupport < 0 {
		return fmt.Errorf("training.minsupport must not be negative, got %d", training.MinSupport)
	}
	if training.ReportThreshold < 0 || training.ReportThreshold > 1 {
		return fmt.Errorf("training.reportthreshold must be in [0, 1], got %g", training.ReportThreshold)
	}
	if training.ArtifactsRoot == "" {
		return errors.New("training.artifactsroot must not be empty")
	}
	return nil
}

func validateTaxonomy(taxonomy *TaxonomySettings) error {
	if taxonomy.BaseURL == "" {
		return errors.New("taxonomy.baseurl must not be empty")
	}
	if taxonomy.RateLimitMS < 0 {
		return fmt.Errorf("taxonomy.ratelimitms must not be negative, got %d", taxonomy.RateLimitMS)
	}
	return nil
}

func validateWebServer(ws *WebServerSettings) error {
	if !ws.Enabled {
		return nil
	}
	port, err := strconv.Atoi(ws.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be a valid port number, got %q", ws.Port)
	}
	return nil
}

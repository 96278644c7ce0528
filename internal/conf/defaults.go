package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers default values with viper so a partial config
// file still unmarshals into a complete Settings struct.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "imagerie")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "imagerie.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10*1024*1024)

	// Output
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "imagerie.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "imagerie")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "imagerie")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	// Media
	viper.SetDefault("media.root", "media")

	// Taxonomy
	viper.SetDefault("taxonomy.baseurl", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	viper.SetDefault("taxonomy.timeout", 30*time.Second)
	viper.SetDefault("taxonomy.cachettl", 24*time.Hour)
	viper.SetDefault("taxonomy.ratelimitms", 350)

	// Training
	viper.SetDefault("training.artifactsroot", "media")
	viper.SetDefault("training.epochs", 10)
	viper.SetDefault("training.testfraction", 0.2)
	viper.SetDefault("training.minsupport", 10)
	viper.SetDefault("training.reportthreshold", 0.1)

	// Web server
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")

	// Notification
	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.urls", []string{})
}

// defaultSettings returns a Settings struct populated with the default
// values, used when creating the initial config file.
func defaultSettings() *Settings {
	return &Settings{
		Main: MainSettings{
			Name: "imagerie",
			Log: LogConfig{
				Enabled:  true,
				Path:     "imagerie.log",
				Rotation: RotationDaily,
				MaxSize:  10 * 1024 * 1024,
			},
		},
		Output: OutputSettings{
			SQLite: SQLiteSettings{Enabled: true, Path: "imagerie.db"},
			MySQL: MySQLSettings{
				Username: "imagerie",
				Password: "secret",
				Database: "imagerie",
				Host:     "localhost",
				Port:     "3306",
			},
		},
		Media: MediaSettings{Root: "media"},
		Taxonomy: TaxonomySettings{
			BaseURL:     "https://eutils.ncbi.nlm.nih.gov/entrez/eutils",
			Timeout:     30 * time.Second,
			CacheTTL:    24 * time.Hour,
			RateLimitMS: 350,
		},
		Training: TrainingSettings{
			ArtifactsRoot:   "media",
			Epochs:          10,
			TestFraction:    0.2,
			MinSupport:      10,
			ReportThreshold: 0.1,
		},
		WebServer: WebServerSettings{Enabled: true, Port: "8080"},
	}
}

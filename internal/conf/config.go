// Package conf loads and validates the application configuration.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Log rotation types for file loggers.
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// LogConfig holds settings for a rotating log file.
type LogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Rotation string `yaml:"rotation"`
	MaxSize  int64  `yaml:"maxsize"` // bytes, for size-based rotation
}

// MainSettings holds node-level settings.
type MainSettings struct {
	Name string    `yaml:"name"` // node name, used to identify this instance
	Log  LogConfig `yaml:"log"`
}

// SQLiteSettings holds SQLite output settings.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MySQLSettings holds MySQL output settings.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
}

// OutputSettings selects and configures the datastore backend.
type OutputSettings struct {
	SQLite SQLiteSettings `yaml:"sqlite"`
	MySQL  MySQLSettings  `yaml:"mysql"`
}

// MediaSettings configures the blob store holding image bytes.
type MediaSettings struct {
	Root string `yaml:"root"` // root directory for stored images
}

// TaxonomySettings configures the external taxonomy lookup client.
type TaxonomySettings struct {
	BaseURL     string        `yaml:"baseurl"`
	Timeout     time.Duration `yaml:"timeout"`
	CacheTTL    time.Duration `yaml:"cachettl"`
	RateLimitMS int           `yaml:"ratelimitms"`
}

// TrainingSettings configures dataset building and model training.
type TrainingSettings struct {
	ArtifactsRoot   string  `yaml:"artifactsroot"` // root for persisted weights
	Epochs          int     `yaml:"epochs"`
	TestFraction    float64 `yaml:"testfraction"`
	MinSupport      int     `yaml:"minsupport"`      // species admitted only when trustworthy count exceeds this
	ReportThreshold float64 `yaml:"reportthreshold"` // minimum confidence for persisted predictions
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// NotificationSettings configures push notifications on training events.
type NotificationSettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"` // shoutrrr service URLs
}

// Settings is the root configuration structure.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main         MainSettings         `yaml:"main"`
	Output       OutputSettings       `yaml:"output"`
	Media        MediaSettings        `yaml:"media"`
	Taxonomy     TaxonomySettings     `yaml:"taxonomy"`
	Training     TrainingSettings     `yaml:"training"`
	WebServer    WebServerSettings    `yaml:"webserver"`
	Notification NotificationSettings `yaml:"notification"`
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into the package-level Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets up viper, creating a default config file on first run.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file yet, write the defaults to the first config path
		configPath := filepath.Join(configPaths[0], "config.yaml")
		if err := createDefaultConfig(configPath); err != nil {
			return err
		}
		viper.SetConfigFile(configPath)
		return viper.ReadInConfig()
	}

	return nil
}

// createDefaultConfig writes the default settings as a YAML config file.
func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	settings := defaultSettings()
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling default settings: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Printf("Created default config file at %v", configPath)
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml,
// working directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	configDir, err := os.UserConfigDir()
	if err == nil {
		paths = append(paths, filepath.Join(configDir, "imagerie"))
	}

	return paths, nil
}

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetTestSettings sets the settings instance directly, for tests only.
func SetTestSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}

// Package config loads the shared configuration of the trainer and the
// estimate server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Http     HttpConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	ML       MLConfig       `yaml:"ml"`
}

type HttpConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	CacheSize      int           `yaml:"cache_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type MLConfig struct {
	ArtifactPath  string         `yaml:"artifact_path"`
	WatchArtifact bool           `yaml:"watch_artifact"`
	Training      TrainingConfig `yaml:"training"`
}

type TrainingConfig struct {
	DataPath       string  `yaml:"data_path"`
	Sheet          string  `yaml:"sheet"`
	PriceScale     float64 `yaml:"price_scale"`
	TestRatio      float64 `yaml:"test_ratio"`
	Seed           int64   `yaml:"seed"`
	MaxRejectRatio float64 `yaml:"max_reject_ratio"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Http: HttpConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			CacheSize:      1024,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Database: DatabaseConfig{Path: "data/knowyourcar.db"},
		ML: MLConfig{
			ArtifactPath:  "models/pipeline.kyc",
			WatchArtifact: true,
			Training: TrainingConfig{
				PriceScale: 1e-5,
				TestRatio:  0.2,
				Seed:       42,
			},
		},
	}
}

// Load reads path over the defaults, then applies a .env file if present
// and KYC_* environment overrides. An empty path skips the yaml file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("KYC_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KYC_HTTP_PORT: %w", err)
		}
		cfg.Http.Port = port
	}
	if v := os.Getenv("KYC_ARTIFACT_PATH"); v != "" {
		cfg.ML.ArtifactPath = v
	}
	if v := os.Getenv("KYC_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("KYC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("KYC_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	return nil
}

// Validate rejects values neither binary can run with.
func (c *Config) Validate() error {
	if c.Http.Port <= 0 || c.Http.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.Http.Port)
	}
	if c.Http.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.ML.ArtifactPath == "" {
		return errors.New("ml.artifact_path is required")
	}
	t := c.ML.Training
	if t.PriceScale <= 0 {
		return errors.New("ml.training.price_scale must be positive")
	}
	if t.TestRatio <= 0 || t.TestRatio >= 1 {
		return errors.New("ml.training.test_ratio must be in (0, 1)")
	}
	if t.MaxRejectRatio < 0 || t.MaxRejectRatio >= 1 {
		return errors.New("ml.training.max_reject_ratio must be in [0, 1)")
	}
	return nil
}

package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nndrao/stern-sub001/internal/platform/envutil"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
)

type Config struct {
	Addr            string
	RetentionDays   int
	StorageTimeout  time.Duration
	CleanupInterval time.Duration
}

// settingsFile is the optional YAML file named by CONFIG_SETTINGS_FILE.
// Environment variables override anything it sets.
type settingsFile struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Retention struct {
		Days int `yaml:"days"`
	} `yaml:"retention"`
	Storage struct {
		TimeoutMS int `yaml:"timeoutMs"`
	} `yaml:"storage"`
	Cleanup struct {
		IntervalHours int `yaml:"intervalHours"`
	} `yaml:"cleanup"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Addr:            ":8080",
		RetentionDays:   30,
		StorageTimeout:  5 * time.Second,
		CleanupInterval: 24 * time.Hour,
	}

	if path := envutil.String("CONFIG_SETTINGS_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read settings file %s: %w", path, err)
		}
		var sf settingsFile
		if err := yaml.Unmarshal(raw, &sf); err != nil {
			return Config{}, fmt.Errorf("parse settings file %s: %w", path, err)
		}
		if sf.Server.Addr != "" {
			cfg.Addr = sf.Server.Addr
		}
		if sf.Retention.Days > 0 {
			cfg.RetentionDays = sf.Retention.Days
		}
		if sf.Storage.TimeoutMS > 0 {
			cfg.StorageTimeout = time.Duration(sf.Storage.TimeoutMS) * time.Millisecond
		}
		if sf.Cleanup.IntervalHours > 0 {
			cfg.CleanupInterval = time.Duration(sf.Cleanup.IntervalHours) * time.Hour
		}
		log.Info("Loaded settings file", "path", path)
	}

	if port := envutil.String("PORT", ""); port != "" {
		cfg.Addr = ":" + port
	}
	cfg.RetentionDays = envutil.Int("CONFIG_RETENTION_DAYS", cfg.RetentionDays)
	cfg.StorageTimeout = envutil.DurationMS("CONFIG_STORAGE_TIMEOUT_MS", cfg.StorageTimeout)
	if hours := envutil.Int("CONFIG_CLEANUP_INTERVAL_HOURS", -1); hours >= 0 {
		cfg.CleanupInterval = time.Duration(hours) * time.Hour
	}

	log.Info("Configuration loaded",
		"addr", cfg.Addr,
		"retention_days", cfg.RetentionDays,
		"storage_timeout", cfg.StorageTimeout,
		"cleanup_interval", cfg.CleanupInterval,
	)
	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "TRACKER_CONFIG_FILE"
	defaultConfigFileName   = "config.yaml"
	alternateConfigFileName = "config.yml"
)

type fileConfig struct {
	HTTPAddr        string   `yaml:"http_addr"`
	DBDriver        string   `yaml:"db_driver"`
	DBDSN           string   `yaml:"db_dsn"`
	StoreTimeout    string   `yaml:"store_timeout"`
	ObjectStoreURL  string   `yaml:"object_store_url"`
	UploadFolder    string   `yaml:"upload_folder"`
	WebhookURLs     []string `yaml:"webhook_urls"`
	EnableEventFeed *bool    `yaml:"enable_event_feed"`
}

func loadFile() (fileConfig, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigFile))
	explicit := path != ""
	if !explicit {
		path = defaultConfigFileName
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = alternateConfigFileName
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return fileConfig{}, nil
		}
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var out fileConfig
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return out, nil
}

func applyFile(cfg *Config, src fileConfig) {
	if v := strings.TrimSpace(src.HTTPAddr); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(src.DBDriver); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(src.DBDSN); v != "" {
		cfg.DBDSN = v
	}
	if v := strings.TrimSpace(src.StoreTimeout); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.StoreTimeout = parsed
		}
	}
	if v := strings.TrimSpace(src.ObjectStoreURL); v != "" {
		cfg.ObjectStoreURL = v
	}
	if v := strings.TrimSpace(src.UploadFolder); v != "" {
		cfg.UploadFolder = v
	}
	if len(src.WebhookURLs) > 0 {
		urls := make([]string, 0, len(src.WebhookURLs))
		for _, u := range src.WebhookURLs {
			if value := strings.TrimSpace(u); value != "" {
				urls = append(urls, value)
			}
		}
		cfg.WebhookURLs = urls
	}
	if src.EnableEventFeed != nil {
		cfg.EnableEventFeed = *src.EnableEventFeed
	}
}

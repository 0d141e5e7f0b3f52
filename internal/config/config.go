package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	EnvHTTPAddr        = "TRACKER_HTTP_ADDR"
	EnvDBDriver        = "TRACKER_DB_DRIVER"
	EnvDBDSN           = "TRACKER_DB_DSN"
	EnvStoreTimeout    = "TRACKER_STORE_TIMEOUT"
	EnvObjectStoreURL  = "TRACKER_OBJECT_STORE_URL"
	EnvUploadFolder    = "TRACKER_UPLOAD_FOLDER"
	EnvWebhookURLs     = "TRACKER_WEBHOOK_URLS"
	EnvEnableEventFeed = "TRACKER_ENABLE_EVENT_FEED"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultDBDriver     = "sqlite"
	defaultDBDSN        = "tracker.db"
	defaultStoreTimeout = 15 * time.Second
	defaultUploadFolder = "screenshots"
)

type Config struct {
	HTTPAddr        string
	DBDriver        string
	DBDSN           string
	StoreTimeout    time.Duration
	ObjectStoreURL  string
	UploadFolder    string
	WebhookURLs     []string
	EnableEventFeed bool
}

// FromFileAndEnv builds the configuration in precedence order: compiled-in
// defaults, then the optional YAML file, then environment overrides.
func FromFileAndEnv() (Config, error) {
	cfg := defaults()

	fileCfg, err := loadFile()
	if err != nil {
		return Config{}, err
	}
	applyFile(&cfg, fileCfg)
	applyEnv(&cfg)

	return cfg, nil
}

func FromEnv() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

func defaults() Config {
	return Config{
		HTTPAddr:        defaultHTTPAddr,
		DBDriver:        defaultDBDriver,
		DBDSN:           defaultDBDSN,
		StoreTimeout:    defaultStoreTimeout,
		UploadFolder:    defaultUploadFolder,
		EnableEventFeed: true,
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvHTTPAddr)); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDriver)); v != "" {
		cfg.DBDriver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvDBDSN)); v != "" {
		cfg.DBDSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStoreTimeout)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.StoreTimeout = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvObjectStoreURL)); v != "" {
		cfg.ObjectStoreURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvUploadFolder)); v != "" {
		cfg.UploadFolder = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWebhookURLs)); v != "" {
		cfg.WebhookURLs = splitList(v)
	}
	cfg.EnableEventFeed = parseBoolEnv(EnvEnableEventFeed, cfg.EnableEventFeed)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	switch strings.ToLower(strings.TrimSpace(c.DBDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%s must be sqlite or postgres", EnvDBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("%s must not be empty", EnvDBDSN)
	}
	if c.StoreTimeout < 10*time.Second || c.StoreTimeout > 30*time.Second {
		return fmt.Errorf("%s must be between 10s and 30s", EnvStoreTimeout)
	}
	if strings.TrimSpace(c.UploadFolder) == "" {
		return fmt.Errorf("%s must not be empty", EnvUploadFolder)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func parseBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

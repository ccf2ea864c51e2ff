package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"` // debug|info|warn|error
	LogJSON  bool   `yaml:"log_json"`
	DataDir  string `yaml:"data_dir"` // system id, locks, default catalog location

	CatalogDriver string `yaml:"catalog_driver"` // document|relational
	CatalogPath   string `yaml:"catalog_path"`   // badger directory when CatalogDriver=document
	DBDriver      string `yaml:"db_driver"`      // sqlite|postgres when CatalogDriver=relational
	DBPath        string `yaml:"db_path"`        // used when DBDriver=sqlite
	DBDsn         string `yaml:"db_dsn"`         // used when DBDriver=postgres (e.g., DATABASE_URL)

	SystemID string `yaml:"system_id"`

	MetadataRoot        string `yaml:"metadata_root"`
	ArchiveMetadataRoot string `yaml:"archive_metadata_root"`
	DataRoot            string `yaml:"data_root"`
	ArchiveDataRoot     string `yaml:"archive_data_root"`

	MetricsPushURL string `yaml:"metrics_push_url"`
	SealKeyFile    string `yaml:"seal_key_file"`
}

func defaults() *Config {
	return &Config{
		Env:                 "prod",
		LogLevel:            "info",
		LogJSON:             false,
		DataDir:             "data",
		CatalogDriver:       "document",
		DBDriver:            "sqlite",
		MetadataRoot:        "metadata/",
		ArchiveMetadataRoot: "archive_metadata/",
		DataRoot:            "volumes/",
		ArchiveDataRoot:     "archive_volumes/",
	}
}

// Load reads configuration from the environment only.
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	cfg.finish()
	return cfg
}

// LoadFile reads a YAML file and then lets the environment override it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	applyEnv(cfg)
	cfg.finish()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1"
	}
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.CatalogDriver = getEnv("CATALOG_DRIVER", cfg.CatalogDriver)
	cfg.CatalogPath = getEnv("CATALOG_PATH", cfg.CatalogPath)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.DBDsn = getEnv("DATABASE_URL", getEnv("DB_DSN", cfg.DBDsn))
	cfg.SystemID = getEnv("SYSTEM_ID", cfg.SystemID)
	cfg.MetadataRoot = getEnv("METADATA_ROOT", cfg.MetadataRoot)
	cfg.ArchiveMetadataRoot = getEnv("ARCHIVE_METADATA_ROOT", cfg.ArchiveMetadataRoot)
	cfg.DataRoot = getEnv("DATA_ROOT", cfg.DataRoot)
	cfg.ArchiveDataRoot = getEnv("ARCHIVE_DATA_ROOT", cfg.ArchiveDataRoot)
	cfg.MetricsPushURL = getEnv("METRICS_PUSH_URL", cfg.MetricsPushURL)
	cfg.SealKeyFile = getEnv("SEAL_KEY_FILE", cfg.SealKeyFile)
}

// finish fills paths derived from DataDir and normalizes bucket roots.
func (c *Config) finish() {
	if strings.HasPrefix(c.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, c.DataDir[2:])
		}
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(c.DataDir, "catalog")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "snapkeeper.db")
	}
	c.CatalogDriver = strings.ToLower(strings.TrimSpace(c.CatalogDriver))
	c.MetadataRoot = dirPrefix(c.MetadataRoot)
	c.ArchiveMetadataRoot = dirPrefix(c.ArchiveMetadataRoot)
	c.DataRoot = dirPrefix(c.DataRoot)
	c.ArchiveDataRoot = dirPrefix(c.ArchiveDataRoot)
}

// ResolveSystemID returns the local owner system ID. When none is configured one is
// generated and persisted under DataDir so later runs keep the same identity.
func (c *Config) ResolveSystemID() (string, error) {
	if c.SystemID != "" {
		if err := checkSystemID(c.SystemID); err != nil {
			return "", err
		}
		return c.SystemID, nil
	}
	path := filepath.Join(c.DataDir, "system_id")
	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			if err := checkSystemID(id); err != nil {
				return "", fmt.Errorf("%s: %w", path, err)
			}
			c.SystemID = id
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read system id: %w", err)
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write system id: %w", err)
	}
	c.SystemID = id
	return id, nil
}

// checkSystemID rejects IDs that would break <owner>-<suffix> tag keys.
func checkSystemID(id string) error {
	if strings.Contains(id, "-") {
		return fmt.Errorf("system id %q must not contain '-'", id)
	}
	return nil
}

func dirPrefix(p string) string {
	p = strings.TrimLeft(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

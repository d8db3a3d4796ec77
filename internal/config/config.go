// Package config loads taskbridge configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for the LeadConnector-style CRM API.
const (
	DefaultBaseURL    = "https://services.leadconnectorhq.com"
	DefaultAuthURL    = "https://marketplace.gohighlevel.com/oauth/chooselocation"
	DefaultAPIVersion = "2021-07-28"
)

// CRMConfig holds credentials and endpoints for the remote CRM.
type CRMConfig struct {
	BaseURL      string `yaml:"base_url"`
	AuthURL      string `yaml:"auth_url"`
	APIVersion   string `yaml:"api_version"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	LocationID   string `yaml:"location_id"`
}

// Config is the full application configuration.
type Config struct {
	ListenAddr string    `yaml:"listen_addr"`
	DBPath     string    `yaml:"db_path"`
	CRM        CRMConfig `yaml:"crm"`
}

// Load reads the YAML config file at path (missing file is not an error),
// applies defaults, then applies environment overrides. Environment
// variables win so deployments can keep secrets out of the config file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ListenAddr: "127.0.0.1:8090",
		DBPath:     "taskbridge.db",
		CRM: CRMConfig{
			BaseURL:    DefaultBaseURL,
			AuthURL:    DefaultAuthURL,
			APIVersion: DefaultAPIVersion,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.CRM.BaseURL == "" {
		cfg.CRM.BaseURL = DefaultBaseURL
	}
	if cfg.CRM.APIVersion == "" {
		cfg.CRM.APIVersion = DefaultAPIVersion
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKBRIDGE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TASKBRIDGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CRM_BASE_URL"); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := os.Getenv("CRM_AUTH_URL"); v != "" {
		cfg.CRM.AuthURL = v
	}
	if v := os.Getenv("CRM_CLIENT_ID"); v != "" {
		cfg.CRM.ClientID = v
	}
	if v := os.Getenv("CRM_CLIENT_SECRET"); v != "" {
		cfg.CRM.ClientSecret = v
	}
	if v := os.Getenv("CRM_LOCATION_ID"); v != "" {
		cfg.CRM.LocationID = v
	}
}

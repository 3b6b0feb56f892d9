// Package config layers the effective server configuration from a YAML
// file, PARLEY_* environment variables and command-line flags. Flags win
// over env, env wins over the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
		TLS     struct {
			CertFile string `yaml:"cert_file"`
			KeyFile  string `yaml:"key_file"`
		} `yaml:"tls"`
	} `yaml:"server"`
	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`
	Logging struct {
		Level string `yaml:"level"`
		Sink  string `yaml:"sink"` // empty for stderr, or file:<path>
	} `yaml:"logging"`
	Log struct {
		GroupCap  int `yaml:"group_cap"`
		DirectCap int `yaml:"direct_cap"`
	} `yaml:"log"`
	Window struct {
		Size int `yaml:"size"`
	} `yaml:"window"`
	Presence struct {
		Grace               Duration `yaml:"grace"`
		SweepInterval       Duration `yaml:"sweep_interval"`
		InactivityThreshold Duration `yaml:"inactivity_threshold"`
	} `yaml:"presence"`
	Notify struct {
		Window Duration `yaml:"window"`
	} `yaml:"notify"`
	Queue struct {
		Capacity      int       `yaml:"capacity"`
		SendBuffer    int       `yaml:"send_buffer"`
		MaxFrameBytes SizeBytes `yaml:"max_frame_bytes"`
	} `yaml:"queue"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Retention struct {
		Enabled bool     `yaml:"enabled"`
		Cron    string   `yaml:"cron"`
		MaxAge  Duration `yaml:"max_age"`
		DryRun  bool     `yaml:"dry_run"`
	} `yaml:"retention"`
	Bus struct {
		Mode string `yaml:"mode"` // inmem | nats
		NATS struct {
			URL      string `yaml:"url"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
		} `yaml:"nats"`
	} `yaml:"bus"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveConfigPath decides the config file path using the flag-provided value
// and the environment variable `PARLEY_CONFIG` when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

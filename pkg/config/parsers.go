package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ParseConfigFile resolves the config path and loads the YAML file. A
// missing file is not fatal; callers proceed on env and flags alone.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if os.IsNotExist(err) || strings.Contains(err.Error(), "not found") {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnvOverrides mutates cfg with PARLEY_* environment values and
// reports whether any were present.
func ApplyEnvOverrides(cfg *Config) bool {
	used := false
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			used = true
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				used = true
				*dst = n
			}
		}
	}
	dur := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				used = true
				*dst = Duration(d)
			}
		}
	}

	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	str("PARLEY_DB_PATH", &cfg.Storage.DBPath)
	str("PARLEY_LOG_LEVEL", &cfg.Logging.Level)
	str("PARLEY_LOG_SINK", &cfg.Logging.Sink)
	num("PARLEY_GROUP_CAP", &cfg.Log.GroupCap)
	num("PARLEY_DIRECT_CAP", &cfg.Log.DirectCap)
	num("PARLEY_WINDOW_SIZE", &cfg.Window.Size)
	dur("PARLEY_PRESENCE_GRACE", &cfg.Presence.Grace)
	dur("PARLEY_PRESENCE_SWEEP", &cfg.Presence.SweepInterval)
	dur("PARLEY_PRESENCE_INACTIVITY", &cfg.Presence.InactivityThreshold)
	dur("PARLEY_NOTIFY_WINDOW", &cfg.Notify.Window)
	num("PARLEY_QUEUE_CAPACITY", &cfg.Queue.Capacity)
	num("PARLEY_SEND_BUFFER", &cfg.Queue.SendBuffer)
	if v := os.Getenv("PARLEY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			used = true
			cfg.RateLimit.RPS = f
		}
	}
	num("PARLEY_RATE_BURST", &cfg.RateLimit.Burst)
	str("PARLEY_BUS_MODE", &cfg.Bus.Mode)
	str("PARLEY_NATS_URL", &cfg.Bus.NATS.URL)
	str("PARLEY_NATS_USER", &cfg.Bus.NATS.User)
	str("PARLEY_NATS_PASSWORD", &cfg.Bus.NATS.Password)
	str("PARLEY_RETENTION_CRON", &cfg.Retention.Cron)
	dur("PARLEY_RETENTION_MAX_AGE", &cfg.Retention.MaxAge)
	if v := os.Getenv("PARLEY_RETENTION_ENABLED"); v != "" {
		used = true
		vl := strings.ToLower(strings.TrimSpace(v))
		cfg.Retention.Enabled = vl == "1" || vl == "true" || vl == "yes"
	}
	str("PARLEY_TLS_CERT", &cfg.Server.TLS.CertFile)
	str("PARLEY_TLS_KEY", &cfg.Server.TLS.KeyFile)
	return used
}

// LoadEffective builds the final configuration: file, then env, then
// explicit flags.
func LoadEffective(flags Flags) (*Config, error) {
	cfg, _, err := ParseConfigFile(flags)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)
	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if flags.Set["db"] || cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = flags.DB
	}
	return cfg, nil
}

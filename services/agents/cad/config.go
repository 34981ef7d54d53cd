package cad

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"runtime"
	"strings"
	"time"
)

const (
	defaultInterval          = 30 * time.Second
	defaultInactivityMinutes = 15
	defaultClientTimeout     = 15 * time.Second
)

// DefaultTargetApps are the executable names that count as CAD activity.
var DefaultTargetApps = []string{"rhino.exe", "rhino5.exe", "rhino6.exe", "rhino7.exe", "rhino8.exe", "rhino"}

// ConfigPath is where the agent expects its configuration file on this OS.
func ConfigPath() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\SLS\agent.json`
	}
	return "/etc/sls-agent/agent.json"
}

// Config is the agent configuration. The file is optional; SLS_* environment
// variables override whatever it sets.
type Config struct {
	API               string   `json:"api"`
	Token             string   `json:"token"`
	AgentID           string   `json:"agent_id"`
	User              string   `json:"user"`
	Hostname          string   `json:"hostname"`
	JobRoot           string   `json:"job_root"`
	TargetApps        []string `json:"target_apps"`
	InactivityMinutes int      `json:"inactivity_minutes"`
	AllowInsecureHTTP bool     `json:"allow_insecure_http"`

	Interval time.Duration `json:"-"`
}

// LoadConfig reads path (a missing file is fine), applies env overrides and
// defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if strings.TrimSpace(cfg.API) == "" {
		return Config{}, fmt.Errorf("config missing api field")
	}
	if err := ensureHTTPS(cfg.API, cfg.AllowInsecureHTTP); err != nil {
		return Config{}, err
	}
	cfg.API = strings.TrimRight(cfg.API, "/")
	return cfg, nil
}

func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.API, "SLS_BASE")
	set(&cfg.Token, "SLS_TOKEN")
	set(&cfg.AgentID, "SLS_AGENT_ID")
	set(&cfg.JobRoot, "JOB_ROOT")
	if isTruthy(os.Getenv("SLS_ALLOW_INSECURE_HTTP")) {
		cfg.AllowInsecureHTTP = true
	}
}

func applyDefaults(cfg *Config) {
	host, _ := os.Hostname()
	if cfg.Hostname == "" {
		cfg.Hostname = host
	}
	if cfg.AgentID == "" {
		cfg.AgentID = cfg.Hostname
	}
	if cfg.User == "" {
		if u, err := user.Current(); err == nil {
			cfg.User = u.Username
		}
	}
	if len(cfg.TargetApps) == 0 {
		cfg.TargetApps = DefaultTargetApps
	}
	if cfg.InactivityMinutes <= 0 {
		cfg.InactivityMinutes = defaultInactivityMinutes
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "":
		return fmt.Errorf("api url must include https scheme")
	default:
		if allowInsecure {
			return nil
		}
		return fmt.Errorf("api url must use https: %s", raw)
	}
}

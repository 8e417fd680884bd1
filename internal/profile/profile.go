// Package profile holds the process configuration for the fincue server and CLI.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the router, server and CLI.
type Profile struct {
	Mode    string // demo, dev, prod
	Data    string
	Driver  string // sqlite, postgres, memory
	DSN     string
	Addr    string
	Port    int
	Version string

	LogLevel  string
	LogFormat string

	// Remote backend (OpenAI-compatible protocol)
	RemoteProvider      string // openai, deepseek, siliconflow, dashscope, openrouter, ollama
	RemoteAPIKey        string
	RemoteBaseURL       string
	RemoteModel         string
	RemoteVisionModel   string // defaults to RemoteModel
	RemoteSpeechModel   string
	RemoteTimeout       int     // seconds
	RemoteRateLimit     float64 // requests per second, 0 disables pacing
	RemoteMaxConcurrent int
	RemoteBudgetUSD     float64
	AlertWebhookURL     string

	// On-device models served over an OpenAI-compatible endpoint; empty disables.
	LocalTextBaseURL   string
	LocalTextModel     string
	LocalVisionBaseURL string
	LocalVisionModel   string
	LocalSpeechBaseURL string
	LocalSpeechModel   string
	DefaultCurrency    string

	// Routing and monitoring
	ProbeURL              string
	ProbeInterval         int // seconds
	MonitorInterval       int // seconds
	AdapterTimeout        int // seconds, 0 disables
	SnapshotRetentionDays int
	LowPower              bool
}

// Default models per provider, used when no model is configured.
var remoteModelDefaults = map[string]string{
	"openai":      "gpt-4o-mini",
	"deepseek":    "deepseek-chat",
	"siliconflow": "Qwen/Qwen2.5-VL-72B-Instruct",
	"dashscope":   "qwen-vl-max",
	"openrouter":  "openai/gpt-4o-mini",
	"ollama":      "llama3.2-vision",
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRemoteEnabled returns true if a remote API key is configured or the provider needs none.
func (p *Profile) IsRemoteEnabled() bool {
	return p.RemoteAPIKey != "" || p.RemoteProvider == "ollama"
}

// RemoteTimeoutDuration returns the remote request timeout.
func (p *Profile) RemoteTimeoutDuration() time.Duration {
	return time.Duration(p.RemoteTimeout) * time.Second
}

// AdapterTimeoutDuration returns the per-adapter-call timeout; 0 disables it.
func (p *Profile) AdapterTimeoutDuration() time.Duration {
	return time.Duration(p.AdapterTimeout) * time.Second
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

// FromEnv loads configuration from FINCUE_* environment variables.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("FINCUE_MODE", "dev")
	p.Data = getEnvOrDefault("FINCUE_DATA", "")
	p.Driver = getEnvOrDefault("FINCUE_DRIVER", "sqlite")
	p.DSN = getEnvOrDefault("FINCUE_DSN", "")
	p.Addr = getEnvOrDefault("FINCUE_ADDR", "")
	p.Port = getEnvOrDefaultInt("FINCUE_PORT", 8081)
	p.LogLevel = getEnvOrDefault("FINCUE_LOG_LEVEL", "info")
	p.LogFormat = getEnvOrDefault("FINCUE_LOG_FORMAT", "text")

	p.RemoteProvider = getEnvOrDefault("FINCUE_REMOTE_PROVIDER", "openai")
	p.RemoteAPIKey = getEnvOrDefault("FINCUE_REMOTE_API_KEY", "")
	p.RemoteBaseURL = getEnvOrDefault("FINCUE_REMOTE_BASE_URL", "")
	p.RemoteModel = getEnvOrDefault("FINCUE_REMOTE_MODEL", "")
	p.RemoteVisionModel = getEnvOrDefault("FINCUE_REMOTE_VISION_MODEL", "")
	p.RemoteSpeechModel = getEnvOrDefault("FINCUE_REMOTE_SPEECH_MODEL", "whisper-1")
	p.RemoteTimeout = getEnvOrDefaultInt("FINCUE_REMOTE_TIMEOUT_SECONDS", 60)
	p.RemoteRateLimit = getEnvOrDefaultFloat("FINCUE_REMOTE_RATE_LIMIT", 5)
	p.RemoteMaxConcurrent = getEnvOrDefaultInt("FINCUE_REMOTE_MAX_CONCURRENT", 4)
	p.RemoteBudgetUSD = getEnvOrDefaultFloat("FINCUE_REMOTE_BUDGET_USD", 0)
	p.AlertWebhookURL = getEnvOrDefault("FINCUE_ALERT_WEBHOOK_URL", "")

	p.LocalTextBaseURL = getEnvOrDefault("FINCUE_LOCAL_TEXT_BASE_URL", "")
	p.LocalTextModel = getEnvOrDefault("FINCUE_LOCAL_TEXT_MODEL", "")
	p.LocalVisionBaseURL = getEnvOrDefault("FINCUE_LOCAL_VISION_BASE_URL", "")
	p.LocalVisionModel = getEnvOrDefault("FINCUE_LOCAL_VISION_MODEL", "")
	p.LocalSpeechBaseURL = getEnvOrDefault("FINCUE_LOCAL_SPEECH_BASE_URL", "")
	p.LocalSpeechModel = getEnvOrDefault("FINCUE_LOCAL_SPEECH_MODEL", "whisper-1")
	p.DefaultCurrency = getEnvOrDefault("FINCUE_DEFAULT_CURRENCY", "USD")

	p.ProbeURL = getEnvOrDefault("FINCUE_PROBE_URL", "")
	p.ProbeInterval = getEnvOrDefaultInt("FINCUE_PROBE_INTERVAL_SECONDS", 30)
	p.MonitorInterval = getEnvOrDefaultInt("FINCUE_MONITOR_INTERVAL_SECONDS", 60)
	p.AdapterTimeout = getEnvOrDefaultInt("FINCUE_ADAPTER_TIMEOUT_SECONDS", 0)
	p.SnapshotRetentionDays = getEnvOrDefaultInt("FINCUE_SNAPSHOT_RETENTION_DAYS", 30)
	p.LowPower = getEnvBool("FINCUE_LOW_POWER")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalises the profile and fills derived defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case "", "sqlite":
		p.Driver = "sqlite"
	case "postgres", "memory":
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Port < 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.RemoteTimeout <= 0 {
		p.RemoteTimeout = 60
	}
	if p.RemoteMaxConcurrent <= 0 {
		p.RemoteMaxConcurrent = 4
	}
	if p.RemoteRateLimit < 0 || p.RemoteBudgetUSD < 0 {
		return errors.New("remote rate limit and budget must not be negative")
	}
	if p.AdapterTimeout < 0 {
		return errors.Errorf("invalid adapter timeout %d", p.AdapterTimeout)
	}
	if p.RemoteProvider == "" {
		p.RemoteProvider = "openai"
	}
	if p.RemoteModel == "" {
		model, ok := remoteModelDefaults[p.RemoteProvider]
		if !ok {
			return errors.Errorf("remote model required for provider %q", p.RemoteProvider)
		}
		p.RemoteModel = model
	}
	if p.RemoteVisionModel == "" {
		p.RemoteVisionModel = p.RemoteModel
	}
	if p.DefaultCurrency == "" {
		p.DefaultCurrency = "USD"
	}
	p.DefaultCurrency = strings.ToUpper(p.DefaultCurrency)

	if p.Driver == "memory" {
		return nil
	}
	if p.Driver == "postgres" {
		if p.DSN == "" {
			return errors.New("postgres driver requires a DSN")
		}
		return nil
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "fincue")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/fincue"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("fincue_%s.db", p.Mode))
	}
	return nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hrygo/fincue/ai/observability/logging"
	"github.com/hrygo/fincue/internal/profile"
	"github.com/hrygo/fincue/internal/version"
)

var (
	rootCmd = &cobra.Command{
		Use:   "fincue",
		Short: `Routes transaction text, receipt images and voice notes between on-device and cloud models.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Only load .env for direct binary execution (not when running as systemd service)
			if !isRunningAsSystemdService() {
				// Try to load .env file from current directory (ignore error if file doesn't exist)
				_ = godotenv.Load()
			}
			return nil
		},
		RunE:         runServe,
		SilenceUsage: true,
	}
)

// Flags bound to profile fields. Keys double as FINCUE_* environment names.
var (
	stringFlags = []struct {
		key, def, usage string
	}{
		{"mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`},
		{"addr", "", "address of server"},
		{"data", "", "data directory"},
		{"driver", "sqlite", "database driver (sqlite, postgres, memory)"},
		{"dsn", "", "database source name(aka. DSN)"},
		{"log-level", "info", "log level (debug, info, warn, error)"},
		{"log-format", "text", "log format (text, json)"},
		{"remote-provider", "openai", "remote model provider"},
		{"remote-model", "", "remote chat model"},
		{"remote-base-url", "", "remote OpenAI-compatible base URL"},
		{"probe-url", "", "URL probed to track connectivity"},
	}
	intFlags = []struct {
		key   string
		def   int
		usage string
	}{
		{"port", 8081, "port of server"},
		{"adapter-timeout", 0, "per backend call timeout in seconds, 0 disables"},
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	for _, f := range stringFlags {
		flags.String(f.key, f.def, f.usage)
	}
	for _, f := range intFlags {
		flags.Int(f.key, f.def, f.usage)
	}
	flags.Bool("low-power", false, "treat the device as running on battery saver")

	flags.VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(f.Name, f); err != nil {
			panic(err)
		}
	})

	viper.SetEnvPrefix("fincue")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(serveCmd, processCmd, strategyCmd, capabilityCmd, versionCmd)
}

// loadProfile reads FINCUE_* variables, then applies changed flags on top. Flag defaults
// are not registered with viper so IsSet only reports explicit values.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{}
	p.FromEnv()

	stringFields := map[string]*string{
		"mode":            &p.Mode,
		"addr":            &p.Addr,
		"data":            &p.Data,
		"driver":          &p.Driver,
		"dsn":             &p.DSN,
		"log-level":       &p.LogLevel,
		"log-format":      &p.LogFormat,
		"remote-provider": &p.RemoteProvider,
		"remote-model":    &p.RemoteModel,
		"remote-base-url": &p.RemoteBaseURL,
		"probe-url":       &p.ProbeURL,
	}
	for key, dst := range stringFields {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	intFields := map[string]*int{
		"port":            &p.Port,
		"adapter-timeout": &p.AdapterTimeout,
	}
	for key, dst := range intFields {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}
	if viper.IsSet("low-power") {
		p.LowPower = viper.GetBool("low-power")
	}

	p.Version = version.GetCurrentVersion(p.Mode)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// setupLogger builds the process logger from the profile and installs it as the default.
func setupLogger(p *profile.Profile) *slog.Logger {
	level, err := logging.ParseLevel(p.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v, using info\n", err)
	}
	format, err := logging.ParseFormat(p.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v, using text\n", err)
	}
	logger := logging.New(logging.Options{Level: level, Format: format})
	slog.SetDefault(logger)
	return logger
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	// Check if invoked by systemd (environment variables set by systemd)
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

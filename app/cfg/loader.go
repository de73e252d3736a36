package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

// ErrHelp is returned when --help was requested and printed.
var ErrHelp = errors.New("help requested")

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./rss-tag.db" description:"Path to the SQLite database file"`

	// Application configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount  int    `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of task dispatcher workers"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the admin API (optional)"`
	SettingsFile string `long:"settings" env:"SETTINGS_FILE" description:"YAML file with scheduler settings (optional)"`
	FetchTimeout int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Feed download timeout in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RSS Tag/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load parses the process arguments and environment and stores the result for Get.
func Load() (*Cfg, error) {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, ErrHelp) {
			return nil, nil
		}
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

// Parse builds a configuration from args and the environment without touching global state.
func Parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, ErrHelp
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.WorkerCount < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", raw.WorkerCount)
	}
	if raw.FetchTimeout < 1 {
		return nil, fmt.Errorf("fetch timeout must be at least 1 second, got %d", raw.FetchTimeout)
	}

	return &Cfg{
		DBPath:       raw.DBPath,
		Port:         raw.Port,
		WorkerCount:  raw.WorkerCount,
		APIAccessKey: raw.APIAccessKey,
		SettingsFile: raw.SettingsFile,
		FetchTimeout: raw.FetchTimeout,
		UserAgent:    raw.UserAgent,
		Timezone:     raw.Timezone,
		Debug:        raw.Debug,
		Version:      GetVersion(),
	}, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration; tests use it instead of Load.
func Set(cfg *Cfg) {
	globalCfg = cfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}

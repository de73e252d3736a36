package cfg

import (
	"fmt"

	"github.com/jessevdk/go-flags"
)

// WorkerCfg holds the environment defaults of the worker CLI. Command line
// flags given to a cobra command override these values.
type WorkerCfg struct {
	Server string `long:"server" env:"RSSTAG_SERVER" description:"Server base URL"`
	Token  string `long:"token" env:"RSSTAG_TOKEN" description:"Worker token"`
	DBPath string `long:"db-path" env:"DB_PATH" default:"./rss-tag.db" description:"Path to the SQLite database file"`
}

// WorkerDefaults reads the worker CLI settings from the environment only.
func WorkerDefaults() (*WorkerCfg, error) {
	var c WorkerCfg

	parser := flags.NewParser(&c, flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(nil); err != nil {
		return nil, fmt.Errorf("failed to read worker environment: %w", err)
	}

	return &c, nil
}

package app

import "errors"

// Config holds everything an App instance needs to run.
type Config struct {
	// WorkingDir is the root package directory; the process must be started
	// there or point here explicitly.
	WorkingDir string

	LogFormat string
	LogLevel  string
	Verbose   bool

	DeleteConflictingOutputs bool
	LowResourcesMode         bool
	BuildFilters             []string
	BuildDirs                []string

	// OutputDir, when set, receives the merged source+generated tree after
	// a successful build.
	OutputDir string

	// ServeAddr is the listen address of serve mode, e.g. ":8080".
	ServeAddr string
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkingDir == "" {
		return nil, errors.New("WorkingDir is a required configuration field and cannot be empty")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	return &cfg, nil
}

// Package cli is the cobra front end of the assetforge binary.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vk/assetforge/internal/app"
	"github.com/vk/assetforge/internal/builders"
	"github.com/vk/assetforge/internal/phase"
)

// Exit codes of the assetforge binary.
const (
	ExitOK          = 0
	ExitBuildFailed = 1
	ExitConfig      = 2
)

// ExitError carries a specific process exit code through cobra.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string { return e.Message }

var rootCmd = &cobra.Command{
	Use:          "assetforge",
	Short:        "Incremental multi-phase code generation",
	Long:         `assetforge runs ordered builder phases over a package tree and rebuilds only what changed.`,
	SilenceUsage: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}
		return ExitConfig
	}
	return ExitOK
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Named configuration: reads assetforge.<name>.yaml")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.Bool("delete-conflicting-outputs", false, "Treat pre-existing files that collide with declared outputs as absent")
	pf.Bool("low-resources-mode", false, "Serialize work further on constrained machines")
	pf.StringSlice("build-filter", nil, "Limit which outputs must be produced (repeatable)")
	pf.StringSlice("build-dir", nil, "Scope eager output production to these directories (repeatable)")
	pf.StringP("output", "o", "", "Materialize the merged tree into this directory after a successful build")
	pf.String("log-format", "", "Log output format: 'text' or 'json'")
	pf.String("log-level", "", "Log level: 'debug', 'info', 'warn', 'error'")

	rootCmd.AddCommand(buildCmd, serveCmd, watchCmd, testCmd)

	viper.SetDefault("log_format", "text")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("serve_address", ":8080")
}

// loadConfig merges the optional user config file and the command flags
// into an app configuration.
func loadConfig(cmd *cobra.Command) (*app.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	name, _ := cmd.Flags().GetString("config")
	configFile := "assetforge.yaml"
	if name != "" {
		configFile = fmt.Sprintf("assetforge.%s.yaml", name)
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		var notFound *os.PathError
		if name != "" && errors.As(err, &notFound) {
			return nil, &ExitError{Code: ExitConfig, Message: fmt.Sprintf("named configuration %q not found: %v", name, err)}
		}
		// The default config file is optional.
	}

	for flagName, key := range map[string]string{
		"log-format": "log_format",
		"log-level":  "log_level",
	} {
		if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
			viper.Set(key, f.Value.String())
		}
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	deleteConflicting, _ := cmd.Flags().GetBool("delete-conflicting-outputs")
	lowResources, _ := cmd.Flags().GetBool("low-resources-mode")
	filters, _ := cmd.Flags().GetStringSlice("build-filter")
	buildDirs, _ := cmd.Flags().GetStringSlice("build-dir")
	outputDir, _ := cmd.Flags().GetString("output")

	return app.NewConfig(app.Config{
		WorkingDir:               cwd,
		LogFormat:                viper.GetString("log_format"),
		LogLevel:                 viper.GetString("log_level"),
		Verbose:                  verbose,
		DeleteConflictingOutputs: deleteConflicting,
		LowResourcesMode:         lowResources,
		BuildFilters:             filters,
		BuildDirs:                buildDirs,
		OutputDir:                outputDir,
		ServeAddr:                viper.GetString("serve_address"),
	})
}

// newApp builds the App with the built-in builder set. Configuration
// problems map to exit code 2.
func newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(os.Stderr, cfg, defaultApplications(), nil)
	if err != nil {
		return nil, asConfigError(err)
	}
	return a, nil
}

func defaultApplications() []*phase.BuilderApplication {
	return builders.Defaults()
}

// asConfigError wraps setup failures so the process exits with code 2.
func asConfigError(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: ExitConfig, Message: err.Error()}
}

// runBuild is the shared body of `build` and `test`.
func runBuild(cmd *cobra.Command) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	result, err := a.Build(cmd.Context())
	if err != nil {
		// Anything that prevents the build from running at all (extension
		// conflicts, conflicting outputs, unreadable configuration) is a
		// configuration error.
		return asConfigError(err)
	}
	if !result.Succeeded {
		return &ExitError{Code: ExitBuildFailed, Message: fmt.Sprintf("build failed with %d step failure(s)", len(result.Failures))}
	}
	return nil
}

var buildCmd = &cobra.Command{
	Use:          "build",
	Short:        "Run a single build",
	Long:         `Run all builder phases once, incrementally when a previous build's graph is present.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd)
	},
}

var watchCmd = &cobra.Command{
	Use:          "watch",
	Short:        "Build continuously on file changes",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		return a.Watch(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Serve the built tree with live reload",
	Long:         `Serve the merged source and generated tree over HTTP, rebuilding on changes and notifying live-reload clients.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		return a.Serve(cmd.Context())
	},
}

var testCmd = &cobra.Command{
	Use:          "test [-- command args...]",
	Short:        "Build, then run a test command against the built tree",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runBuild(cmd); err != nil {
			return err
		}
		if len(args) == 0 {
			return nil
		}
		c := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return &ExitError{Code: ExitBuildFailed, Message: err.Error()}
			}
			return err
		}
		return nil
	},
}

// Package commands implements the compflow command line.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/compflow/pkg/compflow/config"
)

// DefaultConfigPath is read when --config is not given.
const DefaultConfigPath = "compflow.yaml"

// VersionInfo is stamped into the binary at build time.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// app carries the global flags shared by every subcommand.
type app struct {
	cfgPath string
	debug   bool

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the command tree.
func NewRootCommand(v VersionInfo) *cobra.Command {
	a := &app{stdout: os.Stdout, stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "compflow",
		Short: "Convert captured web UI into component code",
		Long: `compflow runs captured markup through a cached, retrying generation
pipeline and prints the resulting component.

Settings are read from a YAML or JSON file. Environment references in the
file are expanded, and a .env file in the working directory is loaded first.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", v.Version, v.Commit, v.Date),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "config file (default is $COMPFLOW_CONFIG or "+DefaultConfigPath+")")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCommand(a),
		newKeyCommand(a),
		newCacheCommand(a),
	)
	return root
}

// settings loads the config file named by the flags or environment.
func (a *app) settings() (config.Settings, error) {
	_ = godotenv.Load()

	path := a.cfgPath
	if path == "" {
		path = os.Getenv("COMPFLOW_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	s, err := config.LoadSettings(path)
	if err != nil {
		return config.Settings{}, configError(path, err)
	}
	return s, nil
}

// logger writes colored logs to stderr at the configured level.
func (a *app) logger(s config.Settings) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if a.debug {
		level = slog.LevelDebug
	}

	return slog.New(tint.NewHandler(a.stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

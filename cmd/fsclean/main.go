package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/logging"
	"freespace_cleaner/internal/reporting"
	"freespace_cleaner/internal/system"
)

const AppName = "Free Space Cleaner"

var (
	cfg        *config.Config
	logger     *logging.EnterpriseLogger
	dryRun     bool
	verbose    bool
	configPath string
	profile    string
)

// Subcommands
var rootCmd = &cobra.Command{
	Use:           "fsclean",
	Short:         AppName + " - overwrite free space and stale filesystem metadata",
	Long:          "Overwrites the free space of a mounted volume with filler files and churns NTFS/exFAT metadata so deleted entries are no longer recoverable.",
	Version:       reporting.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would be done without writing anything")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose log output on stderr")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Performance profile (safe/balanced/fast)")

	rootCmd.AddCommand(drivesCmd, infoCmd, scanCmd, wipeCmd, cleanMetadataCmd, diagnoseCmd, cleanupCmd)
}

// setup loads the config, applies the profile and creates the logger.
func setup() error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return withExitCode(reporting.ExitError, errors.Wrap(err, "failed to load configuration"))
	}

	if profile != "" {
		if err := config.ApplyProfile(cfg, profile); err != nil {
			return withExitCode(reporting.ExitError, err)
		}
		if err := config.Validate(cfg); err != nil {
			return withExitCode(reporting.ExitError, errors.Wrapf(err, "profile %s produced an invalid configuration", profile))
		}
	}

	logger, err = logging.NewEnterpriseLogger(cfg, verbose)
	if err != nil {
		return withExitCode(reporting.ExitError, errors.Wrap(err, "failed to initialise logger"))
	}
	if profile != "" {
		logger.Log("INFO", "Profile applied", "profile", profile)
	}
	return nil
}

func newRunner() system.Runner {
	return &system.ExecRunner{Logger: logger}
}

func newProber() *system.Prober {
	p := system.NewProber()
	p.Runner = newRunner()
	return p
}

// exitError carries the process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(reporting.ExitSuccess)
	}

	code := reporting.ExitError
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	switch code {
	case reporting.ExitError:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
		}
	case reporting.ExitWarning:
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	os.Exit(code)
}

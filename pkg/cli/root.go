// Package cli implements the uiverify command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"dev/bravebird/uiverify/pkg/verify"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // At least one scenario did not complete
	ExitCommandError = 2 // Bad flags, config or environment
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
	History    string

	// Pages overrides the browser (for testing). If nil a Chrome instance
	// is launched from the configuration.
	Pages verify.PageFactory
}

// NewRootCommand creates the uiverify command. Run without a subcommand it
// verifies the configured scenarios.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	vopts := &VerifyOptions{RootOptions: opts}

	cmd := &cobra.Command{
		Use:   "uiverify",
		Short: "Verify the product management UI",
		Long: `uiverify drives a browser through declarative scenarios against the
product management UI and reports every step that did not hold.

Example:
  uiverify --base-url http://localhost:8080/
  uiverify --scenario search-filter --scenario price-filter --parallel 2
  uiverify --format json --collect-all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(opts.Verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, vopts)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.History, "history", "", "SQLite file recording runs")

	vopts.bindFlags(cmd)

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// setupLogging sends structured logs to stderr so stdout stays a clean report.
func setupLogging(verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

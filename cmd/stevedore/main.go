package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/artpar/stevedore/internal/core/pipeline"
)

// Version information (set by build)
var version = "dev"

// =============================================================================
// Exit Codes
// =============================================================================

// One exit code per failure category, so callers scripting around the binary
// can tell a typo from a dead host from a broken build.
const (
	ExitSuccess       = 0
	ExitInvalidInput  = 1
	ExitNetwork       = 2
	ExitRemoteCommand = 3
	ExitValidation    = 4
	ExitInternal      = 5
)

// exitCodeFor maps a classified error to its exit code. Anything without a
// classification is a bug in this program, not in the operator's input.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, pipeline.ErrInvalidInput):
		return ExitInvalidInput
	case errors.Is(err, pipeline.ErrNetworkFailure):
		return ExitNetwork
	case errors.Is(err, pipeline.ErrRemoteCommandFailure):
		return ExitRemoteCommand
	case errors.Is(err, pipeline.ErrValidationFailure):
		return ExitValidation
	default:
		return ExitInternal
	}
}

// =============================================================================
// Root Command
// =============================================================================

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stevedore",
	Short: "Single-host application deployment",
	Long: `Stevedore deploys a containerized application from a Git repository to a
remote Linux host over SSH: it provisions Docker and nginx, rolls out the
container, fronts it with a reverse proxy site, and validates the result.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a stevedore config file")

	// Flag mistakes are operator input, not internal errors.
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", pipeline.ErrInvalidInput, err)
	})

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("✗"), err)
		return exitCodeFor(err)
	}
	return ExitSuccess
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	awsProfile string
	verbosity  int

	rootCmd = &cobra.Command{
		Use:   "nuker",
		Short: "Policy-driven cloud resource cleanup",
		Long: `Nuker - Policy-driven cloud resource cleanup

Nuker scans your AWS account across regions and resource types,
evaluates each resource against your cleanup policy (required tags,
idle metrics, runtime limits, type-specific rules), and deletes what
matched - in dependency order, behind a dry-run default and an
explicit force gate.`,
		Version: version,
	}
)

// Execute runs the root command. An interrupt cancels the run's context so
// in-flight work finishes and nothing new is spawned.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Nuker {{.Version}} - Policy-driven cloud resource cleanup
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nuker.yaml", "Path to the policy config file")
	rootCmd.PersistentFlags().StringVar(&awsProfile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug, -vvv trace)")
}

// newLogger builds the process logger. Output goes to stderr so report
// output on stdout stays pipeable.
func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	switch verbosity {
	case 1:
		level = zerolog.InfoLevel
	case 2:
		level = zerolog.DebugLevel
	}
	if verbosity >= 3 {
		level = zerolog.TraceLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

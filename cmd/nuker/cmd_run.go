package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nuker/executor"
	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/orchestrator"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers/aws"
	"github.com/yairfalse/nuker/report"
	"github.com/yairfalse/nuker/types"
)

var (
	runRegions  []string
	runTarget   []string
	runExclude  []string
	runNoDryRun bool
	runForce    bool
	runOutput   string
	runWorkers  int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan, evaluate and clean up resources",
	Long: `Scan every configured region and resource type, evaluate the
cleanup policy, and report (or delete) what matched.

Dry-run is the default: nothing is deleted until you pass both
--no-dry-run and --force.`,
	Example: `  nuker run                                  # Dry run with nuker.yaml
  nuker run -c prod.yaml --region eu-west-1  # One region only
  nuker run --target ec2-instance,ebs-volume # Only these types
  nuker run --exclude s3-bucket              # Everything but buckets
  nuker run --no-dry-run --force             # Actually delete`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runRegions, "region", nil, "Regions to scan (overrides config)")
	runCmd.Flags().StringSliceVar(&runTarget, "target", nil, "Only these resource types")
	runCmd.Flags().StringSliceVar(&runExclude, "exclude", nil, "Skip these resource types")
	runCmd.Flags().BoolVar(&runNoDryRun, "no-dry-run", false, "Disable dry-run mode")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Confirm real deletions (required with --no-dry-run)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Output format: text, json")
	runCmd.Flags().IntVar(&runWorkers, "max-workers", 0, "Concurrent scan workers (overrides config)")
	runCmd.MarkFlagsMutuallyExclusive("target", "exclude")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runOutput != "text" && runOutput != "json" {
		return fmt.Errorf("invalid output format: %s (must be text or json)", runOutput)
	}
	if runNoDryRun && !runForce {
		return executor.ErrForceRequired
	}

	logger := newLogger()
	ctx := cmd.Context()

	set, err := policy.Load(configPath)
	if err != nil {
		return err
	}

	regions := set.Regions
	if len(runRegions) > 0 {
		regions = runRegions
	}

	target, err := parseTypes(runTarget)
	if err != nil {
		return err
	}
	exclude, err := parseTypes(runExclude)
	if err != nil {
		return err
	}

	// The factory runs once per region; keep the scanners it builds so
	// the executor deletes through the same clients that scanned.
	deleters := executor.Deleters{}
	factory := func(ctx context.Context, region string) (*orchestrator.RegionClients, error) {
		clients, err := aws.NewClients(ctx, aws.Options{
			Region:    region,
			Profile:   awsProfile,
			RateLimit: set.RateLimit,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		scanners := clients.Scanners(set)
		deleters[region] = scanners
		return &orchestrator.RegionClients{
			Scanners: scanners,
			Detector: metrics.NewDetector(clients.CloudWatch(), logger),
		}, nil
	}

	orch := orchestrator.New(factory, set, logger)
	runReport, err := orch.Discover(ctx, orchestrator.Options{
		Regions:    regions,
		Target:     target,
		Exclude:    exclude,
		MaxWorkers: runWorkers,
	})
	if err != nil {
		return err
	}

	exec := executor.New(deleters, logger)
	if err := exec.Execute(ctx, runReport, executor.Options{
		DryRun:     !runNoDryRun,
		Force:      runForce,
		MaxWorkers: runWorkers,
	}); err != nil {
		return err
	}

	if runOutput == "json" {
		return report.WriteJSON(os.Stdout, runReport)
	}
	return report.Write(os.Stdout, runReport)
}

func parseTypes(raw []string) ([]types.ResourceType, error) {
	supported := aws.SupportedTypes()
	var out []types.ResourceType
	for _, s := range raw {
		t := types.ResourceType(strings.TrimSpace(s))
		found := false
		for _, st := range supported {
			if st == t {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown resource type %q (see 'nuker resource-types')", s)
		}
		out = append(out, t)
	}
	return out, nil
}

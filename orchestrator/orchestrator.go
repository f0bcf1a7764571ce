// Package orchestrator fans the scan out across regions and resource types,
// evaluates policy on everything found, and assembles the run report.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

// Orchestrator coordinates scan → idle detection → policy evaluation.
type Orchestrator struct {
	factory RegionFactory
	set     policy.Set
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an orchestrator over a region factory and a policy set.
func New(factory RegionFactory, set policy.Set, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		factory: factory,
		set:     set,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		now:     time.Now,
	}
}

// result is one unit of collector input: a candidate or a scan failure.
type result struct {
	candidate *types.CleanupCandidate
	failure   *types.ScanFailure
}

// Discover scans every (region, type) pair in scope and returns the report
// with all candidates and scan failures recorded. A failing pair never
// stops its siblings; a failing region is recorded and skipped whole.
func (o *Orchestrator) Discover(ctx context.Context, opts Options) (*types.RunReport, error) {
	report := &types.RunReport{
		StartedAt: o.now(),
		Regions:   opts.Regions,
	}

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = o.set.MaxWorkers
	}
	sem := make(chan struct{}, maxWorkers)
	results := make(chan result)

	var collectorDone sync.WaitGroup
	collectorDone.Add(1)
	go func() {
		defer collectorDone.Done()
		for r := range results {
			if r.candidate != nil {
				report.Candidates = append(report.Candidates, *r.candidate)
			}
			if r.failure != nil {
				report.Failures = append(report.Failures, *r.failure)
			}
		}
	}()

	var tasks sync.WaitGroup
	failedRegions := 0
	for _, region := range opts.Regions {
		if ctx.Err() != nil {
			o.logger.Warn().Str("region", region).Msg("run canceled, not scanning")
			break
		}
		clients, err := o.factory(ctx, region)
		if err != nil {
			o.logger.Error().Err(err).Str("region", region).Msg("region setup failed")
			results <- result{failure: &types.ScanFailure{Region: region, Error: err.Error()}}
			failedRegions++
			continue
		}

		for t, scanner := range clients.Scanners {
			if !opts.wants(t) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			tasks.Add(1)
			go func(region string, t types.ResourceType, scanner providers.Scanner, detector IdleDetector) {
				defer tasks.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				o.scanPair(ctx, region, t, scanner, detector, results)
			}(region, t, scanner, clients.Detector)
		}
	}

	tasks.Wait()
	close(results)
	collectorDone.Wait()

	report.FinishedAt = o.now()
	report.Sort()

	// One broken region is a partial result; all of them broken means the
	// run never got off the ground.
	if len(opts.Regions) > 0 && failedRegions == len(opts.Regions) {
		return report, fmt.Errorf("every region failed setup: %s", report.Failures[0].Error)
	}
	return report, nil
}

// scanPair handles one (region, type): scan, idle-check, evaluate. A panic
// in a scanner is contained here and recorded as a scan failure.
func (o *Orchestrator) scanPair(ctx context.Context, region string, t types.ResourceType, scanner providers.Scanner, detector IdleDetector, results chan<- result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("region", region).
				Str("type", string(t)).
				Interface("panic", r).
				Msg("scanner panicked")
			results <- result{failure: &types.ScanFailure{
				Region: region,
				Type:   t,
				Error:  fmt.Sprintf("panic: %v", r),
			}}
		}
	}()

	logger := o.logger.With().Str("region", region).Str("type", string(t)).Logger()

	pol, ok := o.set.Enabled(t)
	if !ok {
		return
	}

	resources, err := scanner.Scan(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("scan failed")
		results <- result{failure: &types.ScanFailure{Region: region, Type: t, Error: err.Error()}}
		return
	}
	logger.Info().Int("count", len(resources)).Msg("scan complete")

	now := o.now()
	for _, r := range resources {
		verdict := o.idleVerdict(ctx, logger, r, pol, scanner, detector)

		var extras []types.RuleKind
		if evaluator, ok := scanner.(providers.ExtraRuleEvaluator); ok {
			extras = evaluator.ExtraRules(r)
		}

		candidate := policy.Evaluate(r, pol, verdict, extras, now)
		if !candidate.Marked() {
			continue
		}
		logger.Debug().
			Str("resource_id", r.ID).
			Interface("matched", candidate.Matched).
			Bool("whitelisted", candidate.Whitelisted).
			Msg("cleanup candidate")
		results <- result{candidate: &candidate}
	}
}

// idleVerdict runs the idle rule when the type supports it. A failed
// metrics query never marks a resource; it is logged and treated as not
// idle.
func (o *Orchestrator) idleVerdict(ctx context.Context, logger zerolog.Logger, r types.Resource, pol policy.Policy, scanner providers.Scanner, detector IdleDetector) *types.IdleVerdict {
	if pol.Idle == nil || detector == nil {
		return nil
	}
	dimensioner, ok := scanner.(providers.IdleDimensioner)
	if !ok {
		return nil
	}

	verdict, err := detector.EvaluateIdle(ctx, r, *pol.Idle, dimensioner.IdleDimensions(r))
	if err != nil {
		logger.Warn().Err(err).Str("resource_id", r.ID).Msg("idle query failed, treating as not idle")
		return nil
	}
	return &verdict
}

// Package executor turns cleanup candidates into deletions, honoring
// dry-run, the force gate, dependency tiers, and the whitelist.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

// Deleters resolves the scanner that owns a candidate: region → type.
type Deleters map[string]map[types.ResourceType]providers.Scanner

func (d Deleters) lookup(region string, t types.ResourceType) (providers.Scanner, bool) {
	byType, ok := d[region]
	if !ok {
		return nil, false
	}
	s, ok := byType[t]
	return s, ok
}

// Options controls execution mode.
type Options struct {
	// DryRun reports what would be deleted without issuing any call.
	DryRun bool
	// Force is the second confirmation required once dry-run is off.
	Force      bool
	MaxWorkers int
}

// ErrForceRequired is returned when dry-run is disabled without force.
var ErrForceRequired = errors.New("deletions require both --no-dry-run and --force")

// Executor applies the execution phase to a run report.
type Executor struct {
	deleters Deleters
	logger   zerolog.Logger
}

// New creates an executor over the per-region deleters.
func New(deleters Deleters, logger zerolog.Logger) *Executor {
	return &Executor{
		deleters: deleters,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute records an outcome for every candidate in the report.
//
// Whitelisted candidates are never passed to a deleter. In dry-run mode
// nothing is deleted and every remaining candidate is reported as
// would-delete. In apply mode deletion proceeds tier by tier; when a
// deletion fails, everything it references is skipped in later tiers
// rather than risking a dangling dependency. Candidates whose policy
// targets the stopped state are stopped in place instead of deleted.
func (e *Executor) Execute(ctx context.Context, report *types.RunReport, opts Options) error {
	if !opts.DryRun && !opts.Force {
		return ErrForceRequired
	}

	for _, c := range report.Candidates {
		if c.Marked() && c.Whitelisted {
			report.Outcomes = append(report.Outcomes, types.Outcome{
				ResourceID: c.Resource.ID,
				Type:       c.Resource.Type,
				Region:     c.Resource.Region,
				Status:     types.OutcomeSkippedWhitelisted,
				Reason:     "whitelisted",
			})
		}
	}

	input := report.ExecutionInput()

	if opts.DryRun {
		for _, c := range input {
			status := types.OutcomeWouldDelete
			if c.Target == types.TargetStopped {
				status = types.OutcomeWouldStop
			}
			report.Outcomes = append(report.Outcomes, types.Outcome{
				ResourceID: c.Resource.ID,
				Type:       c.Resource.Type,
				Region:     c.Resource.Region,
				Status:     status,
			})
		}
		e.logger.Info().Int("candidates", len(input)).Msg("dry run, no deletions issued")
		return nil
	}

	e.logger.Warn().Int("candidates", len(input)).Msg("apply mode, deleting resources")

	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	blocked := newBlockedSet()
	for tier := 0; tier <= lastTier; tier++ {
		var candidates []types.CleanupCandidate
		for _, c := range input {
			if tierOf(c.Resource.Type) == tier {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		e.runTier(ctx, tier, candidates, blocked, maxWorkers, report)
	}
	return nil
}

// runTier deletes one tier's candidates with bounded workers and waits for
// all of them before returning.
func (e *Executor) runTier(ctx context.Context, tier int, candidates []types.CleanupCandidate, blocked *blockedSet, maxWorkers int, report *types.RunReport) {
	sem := make(chan struct{}, maxWorkers)
	outcomes := make(chan types.Outcome)

	var collectorDone sync.WaitGroup
	collectorDone.Add(1)
	go func() {
		defer collectorDone.Done()
		for o := range outcomes {
			report.Outcomes = append(report.Outcomes, o)
		}
	}()

	var wg sync.WaitGroup
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			outcomes <- types.Outcome{
				ResourceID: c.Resource.ID,
				Type:       c.Resource.Type,
				Region:     c.Resource.Region,
				Status:     types.OutcomeFailed,
				Reason:     err.Error(),
			}
			continue
		}
		wg.Add(1)
		go func(c types.CleanupCandidate) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes <- e.deleteOne(ctx, c, blocked)
		}(c)
	}

	wg.Wait()
	close(outcomes)
	collectorDone.Wait()

	e.logger.Debug().Int("tier", tier).Int("count", len(candidates)).Msg("tier settled")
}

func (e *Executor) deleteOne(ctx context.Context, c types.CleanupCandidate, blocked *blockedSet) types.Outcome {
	r := c.Resource
	outcome := types.Outcome{
		ResourceID: r.ID,
		Type:       r.Type,
		Region:     r.Region,
	}

	if blocked.contains(r.ID) {
		// Something that references this resource failed to delete, so
		// removing it now could strand the dependent.
		blocked.add(r.Refs)
		outcome.Status = types.OutcomeSkippedBlocked
		outcome.Reason = "a dependent resource failed to delete"
		return outcome
	}

	scanner, ok := e.deleters.lookup(r.Region, r.Type)
	if !ok {
		blocked.add(r.Refs)
		outcome.Status = types.OutcomeFailed
		outcome.Reason = fmt.Sprintf("no deleter for %s in %s", r.Type, r.Region)
		return outcome
	}

	if c.Target == types.TargetStopped {
		return e.stopOne(ctx, scanner, r, blocked, outcome)
	}

	err := scanner.Delete(ctx, r)
	switch {
	case err == nil:
		outcome.Status = types.OutcomeDeleted
		e.logger.Info().Str("resource_id", r.ID).Str("type", string(r.Type)).Msg("deleted")
	case errors.Is(err, providers.ErrNotFound):
		outcome.Status = types.OutcomeAlreadyGone
		e.logger.Info().Str("resource_id", r.ID).Msg("already gone")
	default:
		blocked.add(r.Refs)
		outcome.Status = types.OutcomeFailed
		outcome.Reason = err.Error()
		e.logger.Error().Err(err).Str("resource_id", r.ID).Str("type", string(r.Type)).Msg("delete failed")
	}
	return outcome
}

// stopOne powers a resource off instead of deleting it. A stopped resource
// still exists, so anything it references stays blocked from deletion.
func (e *Executor) stopOne(ctx context.Context, scanner providers.Scanner, r types.Resource, blocked *blockedSet, outcome types.Outcome) types.Outcome {
	stopper, ok := scanner.(providers.Stopper)
	if !ok {
		blocked.add(r.Refs)
		outcome.Status = types.OutcomeFailed
		outcome.Reason = fmt.Sprintf("%s cannot be stopped", r.Type)
		return outcome
	}

	err := stopper.Stop(ctx, r)
	switch {
	case err == nil:
		blocked.add(r.Refs)
		outcome.Status = types.OutcomeStopped
		e.logger.Info().Str("resource_id", r.ID).Str("type", string(r.Type)).Msg("stopped")
	case errors.Is(err, providers.ErrNotFound):
		outcome.Status = types.OutcomeAlreadyGone
		e.logger.Info().Str("resource_id", r.ID).Msg("already gone")
	default:
		blocked.add(r.Refs)
		outcome.Status = types.OutcomeFailed
		outcome.Reason = err.Error()
		e.logger.Error().Err(err).Str("resource_id", r.ID).Str("type", string(r.Type)).Msg("stop failed")
	}
	return outcome
}

type blockedSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newBlockedSet() *blockedSet {
	return &blockedSet{ids: make(map[string]bool)}
}

func (b *blockedSet) add(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		b.ids[id] = true
	}
}

func (b *blockedSet) contains(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ids[id]
}

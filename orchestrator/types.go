package orchestrator

import (
	"context"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

// RegionClients is everything the orchestrator needs for one region: the
// scanner set and the idle detector bound to that region's metrics client.
type RegionClients struct {
	Scanners map[types.ResourceType]providers.Scanner
	Detector IdleDetector
}

// RegionFactory builds per-region clients. Called once per target region.
type RegionFactory func(ctx context.Context, region string) (*RegionClients, error)

// IdleDetector is the metrics capability the orchestrator consumes.
type IdleDetector interface {
	EvaluateIdle(ctx context.Context, r types.Resource, rule policy.IdleRule, dims metrics.Dimensions) (types.IdleVerdict, error)
}

// Options scopes one run.
type Options struct {
	Regions    []string
	Target     []types.ResourceType // empty means all enabled types
	Exclude    []types.ResourceType
	MaxWorkers int
}

func (o Options) wants(t types.ResourceType) bool {
	for _, ex := range o.Exclude {
		if ex == t {
			return false
		}
	}
	if len(o.Target) == 0 {
		return true
	}
	for _, want := range o.Target {
		if want == t {
			return true
		}
	}
	return false
}

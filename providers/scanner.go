// Package providers defines the boundary between the cleanup engine and a
// cloud provider: what a scanner must produce, and which error classes the
// engine reacts to.
package providers

import (
	"context"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/types"
)

// Scanner lists and deletes resources of one type in one region.
type Scanner interface {
	// Type returns the resource type the scanner handles.
	Type() types.ResourceType

	// Scan lists all resources of the type in the scanner's region,
	// normalized and with policy-relevant attributes populated.
	Scan(ctx context.Context) ([]types.Resource, error)

	// Delete removes one resource. Implementations return ErrNotFound
	// (wrapped) when the resource is already gone.
	Delete(ctx context.Context, r types.Resource) error
}

// Stopper is implemented by scanners whose resources can be stopped in
// place instead of deleted, for policies with a stopped target state.
type Stopper interface {
	Stop(ctx context.Context, r types.Resource) error
}

// IdleDimensioner is implemented by scanners whose type supports idle
// rules. It maps a resource to its CloudWatch metric stream.
type IdleDimensioner interface {
	IdleDimensions(r types.Resource) metrics.Dimensions
}

// ExtraRuleEvaluator is implemented by scanners whose type carries rules
// that depend on provider-side facts (open ingress, public access,
// attachment state). The returned kinds are merged into the candidate's
// matched set by the evaluation engine.
type ExtraRuleEvaluator interface {
	ExtraRules(r types.Resource) []types.RuleKind
}

package aws

import (
	"sort"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

type scannerFactory func(c *Clients, p policy.Policy) providers.Scanner

var scannerFactories = map[types.ResourceType]scannerFactory{}

// register adds a scanner factory for a resource type. Called from init()
// in each scanner file.
func register(t types.ResourceType, f scannerFactory) {
	scannerFactories[t] = f
}

// Scanners builds the scanner set for every type the policy set enables.
func (c *Clients) Scanners(set policy.Set) map[types.ResourceType]providers.Scanner {
	scanners := make(map[types.ResourceType]providers.Scanner)
	for t, factory := range scannerFactories {
		p, ok := set.Enabled(t)
		if !ok {
			continue
		}
		scanners[t] = factory(c, p)
	}
	return scanners
}

// SupportedTypes lists every registered resource type, sorted.
func SupportedTypes() []types.ResourceType {
	out := make([]types.ResourceType, 0, len(scannerFactories))
	for t := range scannerFactories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Package policy holds the typed rule model and the pure evaluation engine
// that turns a scanned resource into a cleanup decision.
package policy

import (
	"path"
	"strings"
	"time"

	"github.com/yairfalse/nuker/types"
)

// Statistic selects how a metric period is summarized.
type Statistic string

const (
	StatAverage     Statistic = "Average"
	StatMaximum     Statistic = "Maximum"
	StatMinimum     Statistic = "Minimum"
	StatSum         Statistic = "Sum"
	StatSampleCount Statistic = "SampleCount"
)

// CompareOp is the comparison applied per period against the threshold.
type CompareOp string

const (
	OpLt CompareOp = "lt"
	OpLe CompareOp = "le"
	OpGt CompareOp = "gt"
	OpGe CompareOp = "ge"
)

// IdleRule declares a resource cleanable when the chosen statistic of a
// metric satisfies the comparison for every period in the lookback window.
type IdleRule struct {
	Metric    string
	Statistic Statistic
	Op        CompareOp
	Threshold float64
	Period    time.Duration
	Lookback  time.Duration
}

// Periods is the number of datapoints a full lookback window yields.
func (r IdleRule) Periods() int {
	if r.Period <= 0 {
		return 0
	}
	return int(r.Lookback / r.Period)
}

// Compare applies the configured operator to one period value.
func (r IdleRule) Compare(value float64) bool {
	switch r.Op {
	case OpLt:
		return value < r.Threshold
	case OpLe:
		return value <= r.Threshold
	case OpGt:
		return value > r.Threshold
	case OpGe:
		return value >= r.Threshold
	default:
		return false
	}
}

// IngressRule flags security groups whose ingress is open to the given
// source CIDRs on ports overlapping [FromPort, ToPort].
type IngressRule struct {
	CIDRs    []string
	FromPort int32
	ToPort   int32
}

// WhitelistEntry excludes a resource from cleanup unconditionally. Exactly
// one of the matchers is set.
type WhitelistEntry struct {
	ID   string // exact resource ID
	Tag  string // key=value
	Name string // glob pattern against the resource name
}

// Matches reports whether the entry matches the resource.
func (w WhitelistEntry) Matches(r types.Resource) bool {
	switch {
	case w.ID != "":
		return r.ID == w.ID
	case w.Tag != "":
		key, value, found := strings.Cut(w.Tag, "=")
		if !found {
			return r.HasTag(key)
		}
		return r.TagEquals(key, value)
	case w.Name != "":
		ok, err := path.Match(w.Name, r.Name)
		return err == nil && ok
	default:
		return false
	}
}

// Policy is the full rule set for one resource type. Pure data, no I/O.
type Policy struct {
	Enabled       bool
	RequiredTags  []string // "key" or "key=value"
	ApprovedTypes []string // allowed instance classes / node types
	Idle          *IdleRule
	MaxRuntime    time.Duration
	ManageStopped time.Duration

	// Target selects what execution does to a match: delete (default) or
	// stop in place. Stopping is only supported for EC2 and RDS instances.
	Target types.TargetState

	// Type-specific rules. Only the ones meaningful for the resource type
	// are consulted by its scanner.
	Unattached  bool         // EBS volumes and elastic IPs without an attachment
	OpenIngress *IngressRule // security groups
	Empty       bool         // autoscaling groups with no instances
	DNSNaming   bool         // S3 bucket names that are not DNS compliant
	DenyPublic  bool         // publicly accessible S3 buckets

	// IgnoreTerminationProtection disables API termination protection
	// before deleting, instead of failing on protected instances.
	IgnoreTerminationProtection bool

	Whitelist []WhitelistEntry
}

// Whitelisted reports whether any whitelist entry matches the resource.
func (p Policy) Whitelisted(r types.Resource) bool {
	for _, w := range p.Whitelist {
		if w.Matches(r) {
			return true
		}
	}
	return false
}

// Set is the whole loaded configuration: run scope plus one policy per
// resource type.
type Set struct {
	Regions    []string
	MaxWorkers int
	RateLimit  float64 // provider calls per second
	ByType     map[types.ResourceType]Policy
}

// Enabled returns the enabled policy for a type, if any.
func (s Set) Enabled(t types.ResourceType) (Policy, bool) {
	p, ok := s.ByType[t]
	if !ok || !p.Enabled {
		return Policy{}, false
	}
	return p, true
}

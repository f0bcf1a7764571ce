package policy

import (
	"strings"
	"time"

	"github.com/yairfalse/nuker/types"
)

// Evaluate applies one type's policy to a scanned resource. It is a pure
// function of its inputs: the idle verdict comes from the caller (nil when
// no idle rule is configured or the query failed), and extras carries
// type-specific rule kinds the scanner already determined from attributes.
//
// Every configured rule kind is evaluated and recorded even after the first
// match, so the report shows the full set of reasons. The whitelist is
// checked last and overrides everything for execution purposes.
func Evaluate(r types.Resource, p Policy, verdict *types.IdleVerdict, extras []types.RuleKind, now time.Time) types.CleanupCandidate {
	c := types.CleanupCandidate{Resource: r, Target: p.Target}

	if len(p.RequiredTags) > 0 && !tagsSatisfied(r, p.RequiredTags) {
		c.Matched = append(c.Matched, types.RuleRequiredTags)
	}

	if len(p.ApprovedTypes) > 0 {
		if class, ok := r.Attrs["instance_type"]; ok && !contains(p.ApprovedTypes, class) {
			c.Matched = append(c.Matched, types.RuleApprovedTypes)
		}
	}

	if p.Idle != nil && verdict != nil && verdict.Idle {
		c.Matched = append(c.Matched, types.RuleIdle)
	}

	if p.MaxRuntime > 0 && !r.CreatedAt.IsZero() && r.Age(now) > p.MaxRuntime {
		c.Matched = append(c.Matched, types.RuleMaxRuntime)
	}

	if p.ManageStopped > 0 && r.State == "stopped" && !r.StoppedAt.IsZero() &&
		now.Sub(r.StoppedAt) > p.ManageStopped {
		c.Matched = append(c.Matched, types.RuleManageStopped)
	}

	c.Matched = append(c.Matched, extras...)

	if p.Whitelisted(r) {
		c.Whitelisted = true
	}
	return c
}

// tagsSatisfied reports whether every required tag is present, and where a
// required tag is "key=value", also equal.
func tagsSatisfied(r types.Resource, required []string) bool {
	for _, want := range required {
		key, value, exact := strings.Cut(want, "=")
		if exact {
			if !r.TagEquals(key, value) {
				return false
			}
			continue
		}
		if !r.HasTag(key) {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

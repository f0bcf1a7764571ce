package types

import (
	"sort"
	"time"
)

// RuleKind names one policy predicate. A resource may match several kinds in
// the same run; all matches are recorded.
type RuleKind string

const (
	RuleRequiredTags    RuleKind = "required-tags"
	RuleApprovedTypes   RuleKind = "approved-types"
	RuleIdle            RuleKind = "idle"
	RuleMaxRuntime      RuleKind = "max-runtime"
	RuleManageStopped   RuleKind = "manage-stopped"
	RuleUnassociated    RuleKind = "unassociated"
	RuleOpenIngress     RuleKind = "open-ingress"
	RuleNamingViolation RuleKind = "naming-violation"
	RulePublic          RuleKind = "public"
)

// TargetState is what execution does to a matched resource. The zero value
// means delete.
type TargetState string

const (
	TargetDeleted TargetState = "deleted"
	TargetStopped TargetState = "stopped"
)

// CleanupCandidate is a resource that matched at least one rule kind.
// Whitelisted candidates stay in the report for visibility but are never
// handed to the execution engine for real deletion.
type CleanupCandidate struct {
	Resource    Resource    `json:"resource"`
	Matched     []RuleKind  `json:"matched"`
	Whitelisted bool        `json:"whitelisted"`
	Target      TargetState `json:"target,omitempty"`
}

// Marked reports whether any rule kind matched.
func (c CleanupCandidate) Marked() bool {
	return len(c.Matched) > 0
}

// MatchedKind reports whether the given rule kind is among the matches.
func (c CleanupCandidate) MatchedKind(kind RuleKind) bool {
	for _, k := range c.Matched {
		if k == kind {
			return true
		}
	}
	return false
}

// OutcomeStatus is the final disposition of a candidate after execution.
type OutcomeStatus string

const (
	OutcomeWouldDelete        OutcomeStatus = "would-delete"
	OutcomeWouldStop          OutcomeStatus = "would-stop"
	OutcomeDeleted            OutcomeStatus = "deleted"
	OutcomeStopped            OutcomeStatus = "stopped"
	OutcomeAlreadyGone        OutcomeStatus = "already-gone"
	OutcomeSkippedWhitelisted OutcomeStatus = "skipped-whitelisted"
	OutcomeSkippedBlocked     OutcomeStatus = "skipped-blocked"
	OutcomeFailed             OutcomeStatus = "failed"
)

// Outcome records what happened to one candidate.
type Outcome struct {
	ResourceID string        `json:"resource_id"`
	Type       ResourceType  `json:"type"`
	Region     string        `json:"region"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
}

// ScanFailure records a (region, type) scan that could not complete. Sibling
// scans keep going.
type ScanFailure struct {
	Region string       `json:"region"`
	Type   ResourceType `json:"type,omitempty"` // empty means the whole region failed
	Error  string       `json:"error"`
}

// RunReport aggregates one run: candidates grouped by region then type, scan
// failures, and execution outcomes.
type RunReport struct {
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Regions    []string           `json:"regions"`
	Candidates []CleanupCandidate `json:"candidates"`
	Failures   []ScanFailure      `json:"failures,omitempty"`
	Outcomes   []Outcome          `json:"outcomes,omitempty"`
}

// Sort orders candidates by region, then type, then ID. Aggregation is
// order-independent; callers sort once after collection.
func (r *RunReport) Sort() {
	sort.Slice(r.Candidates, func(i, j int) bool {
		a, b := r.Candidates[i].Resource, r.Candidates[j].Resource
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	sort.Slice(r.Failures, func(i, j int) bool {
		if r.Failures[i].Region != r.Failures[j].Region {
			return r.Failures[i].Region < r.Failures[j].Region
		}
		return r.Failures[i].Type < r.Failures[j].Type
	})
}

// ExecutionInput returns the candidates eligible for deletion: marked and not
// whitelisted.
func (r *RunReport) ExecutionInput() []CleanupCandidate {
	var out []CleanupCandidate
	for _, c := range r.Candidates {
		if c.Marked() && !c.Whitelisted {
			out = append(out, c)
		}
	}
	return out
}

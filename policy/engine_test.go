package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nuker/types"
)

var evalNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func prodInstance() types.Resource {
	return types.Resource{
		ID:        "i-0abc123",
		Type:      types.TypeEC2Instance,
		Region:    "us-east-1",
		Name:      "api-server",
		State:     "running",
		Tags:      map[string]string{"env": "prod"},
		CreatedAt: evalNow.Add(-30 * 24 * time.Hour),
		Attrs:     map[string]string{"instance_type": "m5.large"},
	}
}

func TestEvaluateRequiredTagsMissing(t *testing.T) {
	p := Policy{Enabled: true, RequiredTags: []string{"env", "owner"}}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	require.True(t, c.Marked())
	assert.Equal(t, []types.RuleKind{types.RuleRequiredTags}, c.Matched)
	assert.False(t, c.Whitelisted)
}

func TestEvaluateRequiredTagsSatisfied(t *testing.T) {
	p := Policy{Enabled: true, RequiredTags: []string{"env"}}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	assert.False(t, c.Marked())
}

func TestEvaluateRequiredTagsExactValue(t *testing.T) {
	p := Policy{Enabled: true, RequiredTags: []string{"env=staging"}}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	require.True(t, c.Marked())
	assert.Equal(t, []types.RuleKind{types.RuleRequiredTags}, c.Matched)
}

func TestEvaluateApprovedTypes(t *testing.T) {
	p := Policy{Enabled: true, ApprovedTypes: []string{"t3.micro", "t3.small"}}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	require.True(t, c.Marked())
	assert.True(t, c.MatchedKind(types.RuleApprovedTypes))
}

func TestEvaluateIdleVerdict(t *testing.T) {
	p := Policy{Enabled: true, Idle: &IdleRule{
		Metric: "CPUUtilization", Statistic: StatMaximum, Op: OpLe,
		Threshold: 5, Period: time.Hour, Lookback: 14 * 24 * time.Hour,
	}}
	verdict := &types.IdleVerdict{ResourceID: "i-0abc123", Metric: "CPUUtilization", Idle: true}

	c := Evaluate(prodInstance(), p, verdict, nil, evalNow)

	require.True(t, c.Marked())
	assert.Equal(t, []types.RuleKind{types.RuleIdle}, c.Matched)
}

func TestEvaluateNilVerdictNeverIdle(t *testing.T) {
	p := Policy{Enabled: true, Idle: &IdleRule{Metric: "CPUUtilization", Op: OpLe, Threshold: 5}}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	assert.False(t, c.Marked())
}

func TestEvaluateMaxRuntime(t *testing.T) {
	p := Policy{Enabled: true, MaxRuntime: 7 * 24 * time.Hour}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	require.True(t, c.Marked())
	assert.True(t, c.MatchedKind(types.RuleMaxRuntime))
}

func TestEvaluateMaxRuntimeUnknownCreation(t *testing.T) {
	r := prodInstance()
	r.CreatedAt = time.Time{}
	p := Policy{Enabled: true, MaxRuntime: time.Hour}

	c := Evaluate(r, p, nil, nil, evalNow)

	assert.False(t, c.Marked())
}

func TestEvaluateManageStopped(t *testing.T) {
	r := prodInstance()
	r.State = "stopped"
	r.StoppedAt = evalNow.Add(-72 * time.Hour)
	p := Policy{Enabled: true, ManageStopped: 24 * time.Hour}

	c := Evaluate(r, p, nil, nil, evalNow)

	require.True(t, c.Marked())
	assert.True(t, c.MatchedKind(types.RuleManageStopped))
}

func TestEvaluateAllKindsRecorded(t *testing.T) {
	p := Policy{
		Enabled:       true,
		RequiredTags:  []string{"owner"},
		ApprovedTypes: []string{"t3.micro"},
		MaxRuntime:    24 * time.Hour,
	}

	c := Evaluate(prodInstance(), p, nil, []types.RuleKind{types.RuleOpenIngress}, evalNow)

	// No short-circuit: every matching kind shows up in the report.
	assert.ElementsMatch(t, []types.RuleKind{
		types.RuleRequiredTags,
		types.RuleApprovedTypes,
		types.RuleMaxRuntime,
		types.RuleOpenIngress,
	}, c.Matched)
}

func TestEvaluateWhitelistOverrides(t *testing.T) {
	p := Policy{
		Enabled:      true,
		RequiredTags: []string{"owner"},
		Whitelist:    []WhitelistEntry{{ID: "i-0abc123"}},
	}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	require.True(t, c.Marked())
	assert.True(t, c.Whitelisted)
}

func TestEvaluateWhitelistByTag(t *testing.T) {
	p := Policy{
		Enabled:      true,
		RequiredTags: []string{"owner"},
		Whitelist:    []WhitelistEntry{{Tag: "env=prod"}},
	}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	assert.True(t, c.Whitelisted)
}

func TestEvaluateWhitelistByNameGlob(t *testing.T) {
	p := Policy{
		Enabled:      true,
		RequiredTags: []string{"owner"},
		Whitelist:    []WhitelistEntry{{Name: "api-*"}},
	}

	c := Evaluate(prodInstance(), p, nil, nil, evalNow)

	assert.True(t, c.Whitelisted)
}

func TestEvaluateIdempotent(t *testing.T) {
	r := prodInstance()
	p := Policy{Enabled: true, RequiredTags: []string{"owner"}, MaxRuntime: 24 * time.Hour}

	first := Evaluate(r, p, nil, nil, evalNow)
	second := Evaluate(r, p, nil, nil, evalNow)

	assert.Equal(t, first.Matched, second.Matched)
	assert.Equal(t, first.Whitelisted, second.Whitelisted)
}

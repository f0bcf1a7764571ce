package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nuker/types"
)

const sampleConfig = `
regions:
  - us-east-1
  - eu-west-1
max_workers: 4
rate_limit: 20

ec2-instance:
  enabled: true
  required_tags:
    - owner
    - env=prod
  approved_types:
    - t3.micro
    - m5.large
  idle:
    metric: CPUUtilization
    statistic: Maximum
    op: le
    threshold: 5
    period: 1h
    lookback: 14d
  max_runtime: 30d
  manage_stopped: 7d
  ignore_termination_protection: true
  whitelist:
    - id: i-0deadbeef
    - tag: keep=true
    - name: "bastion-*"

security-group:
  enabled: true
  open_ingress:
    from_port: 22
    to_port: 22

ebs-volume:
  enabled: true
  unattached: true

s3-bucket:
  enabled: false
  deny_public: true
`

func TestParseConfig(t *testing.T) {
	set, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, set.Regions)
	assert.Equal(t, 4, set.MaxWorkers)
	assert.Equal(t, 20.0, set.RateLimit)

	ec2, ok := set.Enabled(types.TypeEC2Instance)
	require.True(t, ok)
	assert.Equal(t, []string{"owner", "env=prod"}, ec2.RequiredTags)
	assert.True(t, ec2.IgnoreTerminationProtection)
	assert.Equal(t, 30*24*time.Hour, ec2.MaxRuntime)
	assert.Equal(t, 7*24*time.Hour, ec2.ManageStopped)
	require.Len(t, ec2.Whitelist, 3)

	require.NotNil(t, ec2.Idle)
	assert.Equal(t, "CPUUtilization", ec2.Idle.Metric)
	assert.Equal(t, StatMaximum, ec2.Idle.Statistic)
	assert.Equal(t, OpLe, ec2.Idle.Op)
	assert.Equal(t, 5.0, ec2.Idle.Threshold)
	assert.Equal(t, time.Hour, ec2.Idle.Period)
	assert.Equal(t, 14*24*time.Hour, ec2.Idle.Lookback)
	assert.Equal(t, 336, ec2.Idle.Periods())
}

func TestParseConfigDefaultCIDRs(t *testing.T) {
	set, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	sg, ok := set.Enabled(types.TypeSecurityGroup)
	require.True(t, ok)
	require.NotNil(t, sg.OpenIngress)
	assert.Equal(t, []string{"0.0.0.0/0", "::/0"}, sg.OpenIngress.CIDRs)
	assert.Equal(t, int32(22), sg.OpenIngress.FromPort)
}

func TestParseConfigDisabledType(t *testing.T) {
	set, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	_, ok := set.Enabled(types.TypeS3Bucket)
	assert.False(t, ok)
}

func TestParseConfigNoRegions(t *testing.T) {
	_, err := Parse([]byte("max_workers: 2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestParseConfigBadIdleOp(t *testing.T) {
	cfg := `
regions: [us-east-1]
ec2-instance:
  enabled: true
  idle:
    metric: CPUUtilization
    op: between
    threshold: 5
`
	_, err := Parse([]byte(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
}

func TestParseConfigAmbiguousWhitelist(t *testing.T) {
	cfg := `
regions: [us-east-1]
ec2-instance:
  enabled: true
  whitelist:
    - id: i-123
      tag: keep=true
`
	_, err := Parse([]byte(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestParseConfigTargetState(t *testing.T) {
	cfg := `
regions: [us-east-1]
ec2-instance:
  enabled: true
  target_state: stopped
rds-instance:
  enabled: true
`
	set, err := Parse([]byte(cfg))
	require.NoError(t, err)
	assert.Equal(t, types.TargetStopped, set.ByType[types.TypeEC2Instance].Target)
	assert.Empty(t, set.ByType[types.TypeRDSInstance].Target, "delete is the default")
}

func TestParseConfigTargetStateUnsupportedType(t *testing.T) {
	cfg := `
regions: [us-east-1]
s3-bucket:
  enabled: true
  target_state: stopped
`
	_, err := Parse([]byte(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only supported")
}

func TestParseConfigUnknownTargetState(t *testing.T) {
	cfg := `
regions: [us-east-1]
ec2-instance:
  enabled: true
  target_state: hibernated
`
	_, err := Parse([]byte(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target_state")
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"14d", 14 * 24 * time.Hour},
		{"1.5d", 36 * time.Hour},
		{"6h", 6 * time.Hour},
		{"30m", 30 * time.Minute},
		{"", 0},
	}
	for _, tc := range cases {
		got, err := parseDuration(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := parseDuration("fortnight")
	assert.Error(t, err)
}

func TestIdleRuleCompare(t *testing.T) {
	rule := IdleRule{Op: OpLe, Threshold: 5}
	assert.True(t, rule.Compare(5))
	assert.True(t, rule.Compare(3))
	assert.False(t, rule.Compare(5.1))

	rule.Op = OpLt
	assert.False(t, rule.Compare(5))

	rule.Op = OpGt
	assert.True(t, rule.Compare(6))
	assert.False(t, rule.Compare(5))

	rule.Op = OpGe
	assert.True(t, rule.Compare(5))
}

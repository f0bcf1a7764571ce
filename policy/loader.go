package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/nuker/types"
)

// Duration unmarshals YAML strings like "14d", "6h" or "30m". Days are
// accepted on top of time.ParseDuration units because lookback windows are
// usually expressed in days.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	// "14d" -> 14 * 24h
	if last := raw[len(raw)-1]; last == 'd' {
		var days float64
		if _, err := fmt.Sscanf(raw[:len(raw)-1], "%g", &days); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	return parsed, nil
}

type fileConfig struct {
	Regions    []string `yaml:"regions"`
	MaxWorkers int      `yaml:"max_workers"`
	RateLimit  float64  `yaml:"rate_limit"`

	// Per-type sections are keyed by the resource type name.
	EC2Instance      *typeConfig `yaml:"ec2-instance"`
	EBSVolume        *typeConfig `yaml:"ebs-volume"`
	ElasticIP        *typeConfig `yaml:"elastic-ip"`
	SecurityGroup    *typeConfig `yaml:"security-group"`
	RDSInstance      *typeConfig `yaml:"rds-instance"`
	S3Bucket         *typeConfig `yaml:"s3-bucket"`
	AutoScalingGroup *typeConfig `yaml:"autoscaling-group"`
	LoadBalancer     *typeConfig `yaml:"load-balancer"`
	RedshiftCluster  *typeConfig `yaml:"redshift-cluster"`
}

type typeConfig struct {
	Enabled       bool      `yaml:"enabled"`
	RequiredTags  []string  `yaml:"required_tags"`
	ApprovedTypes []string  `yaml:"approved_types"`
	Idle          *idleRule `yaml:"idle"`
	MaxRuntime    Duration  `yaml:"max_runtime"`
	ManageStopped Duration  `yaml:"manage_stopped"`
	TargetState   string    `yaml:"target_state"`

	Unattached  bool         `yaml:"unattached"`
	OpenIngress *ingressRule `yaml:"open_ingress"`
	Empty       bool         `yaml:"empty"`
	DNSNaming   bool         `yaml:"dns_naming"`
	DenyPublic  bool         `yaml:"deny_public"`

	IgnoreTerminationProtection bool `yaml:"ignore_termination_protection"`

	Whitelist []whitelistEntry `yaml:"whitelist"`
}

type idleRule struct {
	Metric    string   `yaml:"metric"`
	Statistic string   `yaml:"statistic"`
	Op        string   `yaml:"op"`
	Threshold float64  `yaml:"threshold"`
	Period    Duration `yaml:"period"`
	Lookback  Duration `yaml:"lookback"`
}

type ingressRule struct {
	CIDRs    []string `yaml:"cidrs"`
	FromPort int32    `yaml:"from_port"`
	ToPort   int32    `yaml:"to_port"`
}

type whitelistEntry struct {
	ID   string `yaml:"id"`
	Tag  string `yaml:"tag"`
	Name string `yaml:"name"`
}

// Load reads a YAML config file, validates it and returns the policy set.
func Load(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse builds a policy set from raw YAML.
func Parse(data []byte) (Set, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Set{}, fmt.Errorf("parsing config: %w", err)
	}

	set := Set{
		Regions:    fc.Regions,
		MaxWorkers: fc.MaxWorkers,
		RateLimit:  fc.RateLimit,
		ByType:     make(map[types.ResourceType]Policy),
	}
	if set.MaxWorkers <= 0 {
		set.MaxWorkers = 8
	}
	if set.RateLimit <= 0 {
		set.RateLimit = 10
	}

	for t, tc := range map[types.ResourceType]*typeConfig{
		types.TypeEC2Instance:      fc.EC2Instance,
		types.TypeEBSVolume:        fc.EBSVolume,
		types.TypeElasticIP:        fc.ElasticIP,
		types.TypeSecurityGroup:    fc.SecurityGroup,
		types.TypeRDSInstance:      fc.RDSInstance,
		types.TypeS3Bucket:         fc.S3Bucket,
		types.TypeAutoScalingGroup: fc.AutoScalingGroup,
		types.TypeLoadBalancer:     fc.LoadBalancer,
		types.TypeRedshiftCluster:  fc.RedshiftCluster,
	} {
		if tc == nil {
			continue
		}
		p, err := tc.toPolicy()
		if err != nil {
			return Set{}, fmt.Errorf("policy for %s: %w", t, err)
		}
		set.ByType[t] = p
	}

	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

func (tc *typeConfig) toPolicy() (Policy, error) {
	p := Policy{
		Enabled:                     tc.Enabled,
		RequiredTags:                tc.RequiredTags,
		ApprovedTypes:               tc.ApprovedTypes,
		MaxRuntime:                  time.Duration(tc.MaxRuntime),
		ManageStopped:               time.Duration(tc.ManageStopped),
		Unattached:                  tc.Unattached,
		Empty:                       tc.Empty,
		DNSNaming:                   tc.DNSNaming,
		DenyPublic:                  tc.DenyPublic,
		IgnoreTerminationProtection: tc.IgnoreTerminationProtection,
	}

	switch tc.TargetState {
	case "", string(types.TargetDeleted):
	case string(types.TargetStopped):
		p.Target = types.TargetStopped
	default:
		return Policy{}, fmt.Errorf("unknown target_state %q", tc.TargetState)
	}

	if tc.Idle != nil {
		rule := IdleRule{
			Metric:    tc.Idle.Metric,
			Statistic: Statistic(tc.Idle.Statistic),
			Op:        CompareOp(tc.Idle.Op),
			Threshold: tc.Idle.Threshold,
			Period:    time.Duration(tc.Idle.Period),
			Lookback:  time.Duration(tc.Idle.Lookback),
		}
		if rule.Statistic == "" {
			rule.Statistic = StatAverage
		}
		if rule.Op == "" {
			rule.Op = OpLe
		}
		if rule.Period <= 0 {
			rule.Period = time.Hour
		}
		if rule.Lookback <= 0 {
			rule.Lookback = 24 * time.Hour
		}
		p.Idle = &rule
	}

	if tc.OpenIngress != nil {
		p.OpenIngress = &IngressRule{
			CIDRs:    tc.OpenIngress.CIDRs,
			FromPort: tc.OpenIngress.FromPort,
			ToPort:   tc.OpenIngress.ToPort,
		}
		if len(p.OpenIngress.CIDRs) == 0 {
			p.OpenIngress.CIDRs = []string{"0.0.0.0/0", "::/0"}
		}
	}

	for i, w := range tc.Whitelist {
		set := 0
		for _, v := range []string{w.ID, w.Tag, w.Name} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			return Policy{}, fmt.Errorf("whitelist entry %d: exactly one of id, tag, name must be set", i)
		}
		p.Whitelist = append(p.Whitelist, WhitelistEntry{ID: w.ID, Tag: w.Tag, Name: w.Name})
	}

	return p, nil
}

// Validate checks the set for contradictions a run cannot recover from.
func (s Set) Validate() error {
	if len(s.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	for t, p := range s.ByType {
		if !p.Enabled {
			continue
		}
		if p.Idle != nil {
			if err := p.Idle.validate(); err != nil {
				return fmt.Errorf("%s idle rule: %w", t, err)
			}
		}
		if p.OpenIngress != nil && p.OpenIngress.FromPort > p.OpenIngress.ToPort {
			return fmt.Errorf("%s open_ingress: from_port %d exceeds to_port %d",
				t, p.OpenIngress.FromPort, p.OpenIngress.ToPort)
		}
		if p.Target == types.TargetStopped &&
			t != types.TypeEC2Instance && t != types.TypeRDSInstance {
			return fmt.Errorf("%s: target_state stopped is only supported for %s and %s",
				t, types.TypeEC2Instance, types.TypeRDSInstance)
		}
	}
	return nil
}

func (r IdleRule) validate() error {
	if r.Metric == "" {
		return fmt.Errorf("metric is required")
	}
	switch r.Statistic {
	case StatAverage, StatMaximum, StatMinimum, StatSum, StatSampleCount:
	default:
		return fmt.Errorf("unknown statistic %q", r.Statistic)
	}
	switch r.Op {
	case OpLt, OpLe, OpGt, OpGe:
	default:
		return fmt.Errorf("unknown op %q", r.Op)
	}
	if r.Lookback < r.Period {
		return fmt.Errorf("lookback %s shorter than period %s", r.Lookback, r.Period)
	}
	return nil
}

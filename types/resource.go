// Package types defines the normalized resource model shared by the
// scanners, the rule engine, and the execution engine.
package types

import "time"

// ResourceType identifies a kind of cloud resource. New kinds are added by
// registering a scanner for them, not by branching on the type elsewhere.
type ResourceType string

const (
	TypeEC2Instance      ResourceType = "ec2-instance"
	TypeEBSVolume        ResourceType = "ebs-volume"
	TypeElasticIP        ResourceType = "elastic-ip"
	TypeSecurityGroup    ResourceType = "security-group"
	TypeRDSInstance      ResourceType = "rds-instance"
	TypeS3Bucket         ResourceType = "s3-bucket"
	TypeAutoScalingGroup ResourceType = "autoscaling-group"
	TypeLoadBalancer     ResourceType = "load-balancer"
	TypeRedshiftCluster  ResourceType = "redshift-cluster"
)

// Resource is the normalized record every scanner produces. It is immutable
// once scanned within a run.
type Resource struct {
	ID        string            `json:"id"`
	Type      ResourceType      `json:"type"`
	Region    string            `json:"region"`
	Name      string            `json:"name,omitempty"`
	State     string            `json:"state"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"` // zero value means unknown
	StoppedAt time.Time         `json:"stopped_at,omitempty"` // transition into stopped, when known
	Attrs     map[string]string `json:"attrs,omitempty"`
	Refs      []string          `json:"refs,omitempty"` // IDs of resources this resource references
}

// Age returns how long the resource has existed, or zero when the creation
// time is unknown.
func (r Resource) Age(now time.Time) time.Duration {
	if r.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(r.CreatedAt)
}

// HasTag reports whether the tag key exists, regardless of value.
func (r Resource) HasTag(key string) bool {
	_, ok := r.Tags[key]
	return ok
}

// TagEquals reports whether the tag key exists with exactly the given value.
func (r Resource) TagEquals(key, value string) bool {
	v, ok := r.Tags[key]
	return ok && v == value
}

// IdleVerdict is the outcome of an idle check for one resource. Derived per
// run, never persisted.
type IdleVerdict struct {
	ResourceID string    `json:"resource_id"`
	Metric     string    `json:"metric"`
	Values     []float64 `json:"values,omitempty"` // observed statistic per period
	Idle       bool      `json:"idle"`
}

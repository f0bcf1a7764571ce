package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeAutoScalingGroup, func(c *Clients, p policy.Policy) providers.Scanner {
		return &asgScanner{clients: c, policy: p}
	})
}

type asgScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *asgScanner) Type() types.ResourceType {
	return types.TypeAutoScalingGroup
}

func (s *asgScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var groups []asgtypes.AutoScalingGroup
	var nextToken *string

	for {
		var output *autoscaling.DescribeAutoScalingGroupsOutput
		err := s.clients.call(ctx, "autoscaling.DescribeAutoScalingGroups", func(ctx context.Context) error {
			var err error
			output, err = s.clients.asgClient.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{NextToken: nextToken})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe autoscaling groups: %w", err)
		}

		groups = append(groups, output.AutoScalingGroups...)

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	balancers, err := s.balancerARNs(ctx, groups)
	if err != nil {
		s.clients.logger.Warn().Err(err).Msg("skipping load balancer resolution")
	}

	resources := make([]types.Resource, 0, len(groups))
	for _, group := range groups {
		resources = append(resources, convertASG(s.clients.region, group, balancers))
	}
	return resources, nil
}

// balancerARNs maps each target group the scanned groups attach to onto the
// load balancer ARNs it fronts. ALB and NLB attachments only surface through
// target groups, and load balancer resources are identified by ARN.
func (s *asgScanner) balancerARNs(ctx context.Context, groups []asgtypes.AutoScalingGroup) (map[string][]string, error) {
	var arns []string
	seen := map[string]bool{}
	for _, group := range groups {
		for _, arn := range group.TargetGroupARNs {
			if !seen[arn] {
				seen[arn] = true
				arns = append(arns, arn)
			}
		}
	}

	byGroup := make(map[string][]string, len(arns))
	// DescribeTargetGroups takes at most 20 ARNs per call.
	for start := 0; start < len(arns); start += 20 {
		end := start + 20
		if end > len(arns) {
			end = len(arns)
		}
		var output *elasticloadbalancingv2.DescribeTargetGroupsOutput
		err := s.clients.call(ctx, "elbv2.DescribeTargetGroups", func(ctx context.Context) error {
			var err error
			output, err = s.clients.elbClient.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
				TargetGroupArns: arns[start:end],
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe target groups: %w", err)
		}
		for _, tg := range output.TargetGroups {
			byGroup[aws.ToString(tg.TargetGroupArn)] = tg.LoadBalancerArns
		}
	}
	return byGroup, nil
}

func convertASG(region string, group asgtypes.AutoScalingGroup, balancers map[string][]string) types.Resource {
	tags := asgTags(group.Tags)
	r := types.Resource{
		ID:     aws.ToString(group.AutoScalingGroupName),
		Type:   types.TypeAutoScalingGroup,
		Region: region,
		Name:   aws.ToString(group.AutoScalingGroupName),
		State:  "available",
		Tags:   tags,
		Attrs: map[string]string{
			"instances":        fmt.Sprintf("%d", len(group.Instances)),
			"desired_capacity": fmt.Sprintf("%d", aws.ToInt32(group.DesiredCapacity)),
		},
	}
	if group.CreatedTime != nil {
		r.CreatedAt = *group.CreatedTime
	}
	// The group's deletion must land before its members and load
	// balancers are touched.
	for _, instance := range group.Instances {
		r.Refs = append(r.Refs, aws.ToString(instance.InstanceId))
	}
	r.Refs = append(r.Refs, group.LoadBalancerNames...)
	for _, tg := range group.TargetGroupARNs {
		r.Refs = append(r.Refs, balancers[tg]...)
	}
	return r
}

// ExtraRules marks groups that hold no instances when the policy asks.
func (s *asgScanner) ExtraRules(r types.Resource) []types.RuleKind {
	if s.policy.Empty && r.Attrs["instances"] == "0" {
		return []types.RuleKind{types.RuleUnassociated}
	}
	return nil
}

func (s *asgScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "autoscaling.DeleteAutoScalingGroup", func(ctx context.Context) error {
		_, err := s.clients.asgClient.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
			AutoScalingGroupName: aws.String(r.ID),
			ForceDelete:          aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete autoscaling group %s: %w", r.ID, err)
	}
	return nil
}

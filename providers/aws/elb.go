package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeLoadBalancer, func(c *Clients, p policy.Policy) providers.Scanner {
		return &elbScanner{clients: c, policy: p}
	})
}

type elbScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *elbScanner) Type() types.ResourceType {
	return types.TypeLoadBalancer
}

func (s *elbScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var balancers []elbtypes.LoadBalancer
	var marker *string

	for {
		var output *elasticloadbalancingv2.DescribeLoadBalancersOutput
		err := s.clients.call(ctx, "elbv2.DescribeLoadBalancers", func(ctx context.Context) error {
			var err error
			output, err = s.clients.elbClient.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{Marker: marker})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}

		balancers = append(balancers, output.LoadBalancers...)

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	tags, err := s.describeTags(ctx, balancers)
	if err != nil {
		return nil, err
	}

	resources := make([]types.Resource, 0, len(balancers))
	for _, lb := range balancers {
		r := convertLoadBalancer(s.clients.region, lb, tags[aws.ToString(lb.LoadBalancerArn)])
		if s.policy.Unattached {
			targets, err := s.countTargets(ctx, aws.ToString(lb.LoadBalancerArn))
			if err != nil {
				s.clients.logger.Warn().Err(err).Str("load_balancer", r.Name).Msg("skipping target count")
			} else {
				r.Attrs["targets"] = fmt.Sprintf("%d", targets)
			}
		}
		resources = append(resources, r)
	}
	return resources, nil
}

// countTargets sums registered targets across the balancer's target groups.
func (s *elbScanner) countTargets(ctx context.Context, arn string) (int, error) {
	var groups *elasticloadbalancingv2.DescribeTargetGroupsOutput
	err := s.clients.call(ctx, "elbv2.DescribeTargetGroups", func(ctx context.Context) error {
		var err error
		groups, err = s.clients.elbClient.DescribeTargetGroups(ctx, &elasticloadbalancingv2.DescribeTargetGroupsInput{
			LoadBalancerArn: aws.String(arn),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("describe target groups for %s: %w", arn, err)
	}

	total := 0
	for _, tg := range groups.TargetGroups {
		var health *elasticloadbalancingv2.DescribeTargetHealthOutput
		err := s.clients.call(ctx, "elbv2.DescribeTargetHealth", func(ctx context.Context) error {
			var err error
			health, err = s.clients.elbClient.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
				TargetGroupArn: tg.TargetGroupArn,
			})
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("describe target health for %s: %w", aws.ToString(tg.TargetGroupArn), err)
		}
		total += len(health.TargetHealthDescriptions)
	}
	return total, nil
}

// ExtraRules marks balancers with no registered targets when the policy
// asks for it.
func (s *elbScanner) ExtraRules(r types.Resource) []types.RuleKind {
	if s.policy.Unattached && r.Attrs["targets"] == "0" {
		return []types.RuleKind{types.RuleUnassociated}
	}
	return nil
}

// describeTags fetches tags for all balancers, batched to the API's limit
// of 20 ARNs per call.
func (s *elbScanner) describeTags(ctx context.Context, balancers []elbtypes.LoadBalancer) (map[string]map[string]string, error) {
	tags := make(map[string]map[string]string, len(balancers))

	for start := 0; start < len(balancers); start += 20 {
		end := start + 20
		if end > len(balancers) {
			end = len(balancers)
		}
		arns := make([]string, 0, end-start)
		for _, lb := range balancers[start:end] {
			arns = append(arns, aws.ToString(lb.LoadBalancerArn))
		}

		var output *elasticloadbalancingv2.DescribeTagsOutput
		err := s.clients.call(ctx, "elbv2.DescribeTags", func(ctx context.Context) error {
			var err error
			output, err = s.clients.elbClient.DescribeTags(ctx, &elasticloadbalancingv2.DescribeTagsInput{ResourceArns: arns})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe load balancer tags: %w", err)
		}
		for _, desc := range output.TagDescriptions {
			tags[aws.ToString(desc.ResourceArn)] = elbTags(desc.Tags)
		}
	}
	return tags, nil
}

func convertLoadBalancer(region string, lb elbtypes.LoadBalancer, tags map[string]string) types.Resource {
	if tags == nil {
		tags = map[string]string{}
	}
	r := types.Resource{
		ID:     aws.ToString(lb.LoadBalancerArn),
		Type:   types.TypeLoadBalancer,
		Region: region,
		Name:   aws.ToString(lb.LoadBalancerName),
		Tags:   tags,
		Attrs: map[string]string{
			"lb_type": string(lb.Type),
			"scheme":  string(lb.Scheme),
		},
	}
	if lb.State != nil {
		r.State = string(lb.State.Code)
	}
	if lb.CreatedTime != nil {
		r.CreatedAt = *lb.CreatedTime
	}
	r.Refs = append(r.Refs, lb.SecurityGroups...)
	return r
}

// IdleDimensions uses the ARN suffix CloudWatch expects, e.g.
// app/my-alb/50dc6c495c0c9188.
func (s *elbScanner) IdleDimensions(r types.Resource) metrics.Dimensions {
	value := r.ID
	if idx := strings.Index(value, "loadbalancer/"); idx >= 0 {
		value = value[idx+len("loadbalancer/"):]
	}
	namespace := "AWS/ApplicationELB"
	if r.Attrs["lb_type"] == string(elbtypes.LoadBalancerTypeEnumNetwork) {
		namespace = "AWS/NetworkELB"
	}
	return metrics.Dimensions{
		Namespace: namespace,
		Name:      "LoadBalancer",
		Value:     value,
	}
}

func (s *elbScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "elbv2.DeleteLoadBalancer", func(ctx context.Context) error {
		_, err := s.clients.elbClient.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
			LoadBalancerArn: aws.String(r.ID),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete load balancer %s: %w", r.Name, err)
	}
	return nil
}

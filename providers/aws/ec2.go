package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeEC2Instance, func(c *Clients, p policy.Policy) providers.Scanner {
		return &ec2Scanner{clients: c, policy: p}
	})
}

type ec2Scanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *ec2Scanner) Type() types.ResourceType {
	return types.TypeEC2Instance
}

func (s *ec2Scanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var resources []types.Resource
	var nextToken *string

	for {
		var output *ec2.DescribeInstancesOutput
		err := s.clients.call(ctx, "ec2.DescribeInstances", func(ctx context.Context) error {
			var err error
			output, err = s.clients.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				if instance.State != nil && instance.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				resources = append(resources, convertInstance(s.clients.region, instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func convertInstance(region string, instance ec2types.Instance) types.Resource {
	tags := ec2Tags(instance.Tags)
	r := types.Resource{
		ID:     aws.ToString(instance.InstanceId),
		Type:   types.TypeEC2Instance,
		Region: region,
		Name:   nameTag(tags),
		Tags:   tags,
		Attrs: map[string]string{
			"instance_type": string(instance.InstanceType),
		},
	}
	if instance.State != nil {
		r.State = string(instance.State.Name)
	}
	if instance.LaunchTime != nil {
		r.CreatedAt = *instance.LaunchTime
	}
	if r.State == "stopped" {
		r.StoppedAt = parseStateTransition(aws.ToString(instance.StateTransitionReason))
	}
	for _, sg := range instance.SecurityGroups {
		r.Refs = append(r.Refs, aws.ToString(sg.GroupId))
	}
	return r
}

// parseStateTransition extracts the timestamp from reasons like
// "User initiated (2024-03-01 18:22:10 GMT)". Returns zero when the reason
// carries no timestamp.
func parseStateTransition(reason string) time.Time {
	start := strings.LastIndex(reason, "(")
	end := strings.LastIndex(reason, ")")
	if start < 0 || end <= start {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02 15:04:05 MST", reason[start+1:end])
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *ec2Scanner) IdleDimensions(r types.Resource) metrics.Dimensions {
	return metrics.Dimensions{
		Namespace: "AWS/EC2",
		Name:      "InstanceId",
		Value:     r.ID,
	}
}

func (s *ec2Scanner) Delete(ctx context.Context, r types.Resource) error {
	if s.policy.IgnoreTerminationProtection {
		if err := s.disableTerminationProtection(ctx, r.ID); err != nil {
			return err
		}
	}

	err := s.clients.call(ctx, "ec2.TerminateInstances", func(ctx context.Context) error {
		_, err := s.clients.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{r.ID},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("terminate instance %s: %w", r.ID, err)
	}
	return nil
}

// Stop powers the instance off in place, for policies whose target state is
// stopped rather than deleted.
func (s *ec2Scanner) Stop(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "ec2.StopInstances", func(ctx context.Context) error {
		_, err := s.clients.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{
			InstanceIds: []string{r.ID},
			Force:       aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("stop instance %s: %w", r.ID, err)
	}
	return nil
}

func (s *ec2Scanner) disableTerminationProtection(ctx context.Context, id string) error {
	var attr *ec2.DescribeInstanceAttributeOutput
	err := s.clients.call(ctx, "ec2.DescribeInstanceAttribute", func(ctx context.Context) error {
		var err error
		attr, err = s.clients.ec2Client.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
			InstanceId: aws.String(id),
			Attribute:  ec2types.InstanceAttributeNameDisableApiTermination,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("describe termination protection for %s: %w", id, err)
	}

	if attr.DisableApiTermination == nil || !aws.ToBool(attr.DisableApiTermination.Value) {
		return nil
	}

	err = s.clients.call(ctx, "ec2.ModifyInstanceAttribute", func(ctx context.Context) error {
		_, err := s.clients.ec2Client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId:            aws.String(id),
			DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(false)},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("disable termination protection for %s: %w", id, err)
	}
	return nil
}

package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeRDSInstance, func(c *Clients, p policy.Policy) providers.Scanner {
		return &rdsScanner{clients: c, policy: p}
	})
}

type rdsScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *rdsScanner) Type() types.ResourceType {
	return types.TypeRDSInstance
}

func (s *rdsScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var resources []types.Resource
	var marker *string

	for {
		var output *rds.DescribeDBInstancesOutput
		err := s.clients.call(ctx, "rds.DescribeDBInstances", func(ctx context.Context) error {
			var err error
			output, err = s.clients.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, instance := range output.DBInstances {
			resources = append(resources, convertDBInstance(s.clients.region, instance))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return resources, nil
}

func convertDBInstance(region string, instance rdstypes.DBInstance) types.Resource {
	tags := rdsTags(instance.TagList)
	r := types.Resource{
		ID:     aws.ToString(instance.DBInstanceIdentifier),
		Type:   types.TypeRDSInstance,
		Region: region,
		Name:   aws.ToString(instance.DBInstanceIdentifier),
		State:  aws.ToString(instance.DBInstanceStatus),
		Tags:   tags,
		Attrs: map[string]string{
			"instance_type": aws.ToString(instance.DBInstanceClass),
			"engine":        aws.ToString(instance.Engine),
		},
	}
	if instance.InstanceCreateTime != nil {
		r.CreatedAt = *instance.InstanceCreateTime
	}
	for _, sg := range instance.VpcSecurityGroups {
		r.Refs = append(r.Refs, aws.ToString(sg.VpcSecurityGroupId))
	}
	return r
}

func (s *rdsScanner) IdleDimensions(r types.Resource) metrics.Dimensions {
	return metrics.Dimensions{
		Namespace: "AWS/RDS",
		Name:      "DBInstanceIdentifier",
		Value:     r.ID,
	}
}

// Stop shuts the database down in place, for policies whose target state is
// stopped rather than deleted.
func (s *rdsScanner) Stop(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "rds.StopDBInstance", func(ctx context.Context) error {
		_, err := s.clients.rdsClient.StopDBInstance(ctx, &rds.StopDBInstanceInput{
			DBInstanceIdentifier: aws.String(r.ID),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("stop db instance %s: %w", r.ID, err)
	}
	return nil
}

func (s *rdsScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "rds.DeleteDBInstance", func(ctx context.Context) error {
		_, err := s.clients.rdsClient.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
			DBInstanceIdentifier: aws.String(r.ID),
			SkipFinalSnapshot:    aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete db instance %s: %w", r.ID, err)
	}
	return nil
}

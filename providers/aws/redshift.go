package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeRedshiftCluster, func(c *Clients, p policy.Policy) providers.Scanner {
		return &redshiftScanner{clients: c, policy: p}
	})
}

type redshiftScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *redshiftScanner) Type() types.ResourceType {
	return types.TypeRedshiftCluster
}

func (s *redshiftScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var resources []types.Resource
	var marker *string

	for {
		var output *redshift.DescribeClustersOutput
		err := s.clients.call(ctx, "redshift.DescribeClusters", func(ctx context.Context) error {
			var err error
			output, err = s.clients.redshiftClient.DescribeClusters(ctx, &redshift.DescribeClustersInput{Marker: marker})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe redshift clusters: %w", err)
		}

		for _, cluster := range output.Clusters {
			resources = append(resources, convertCluster(s.clients.region, cluster))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return resources, nil
}

func convertCluster(region string, cluster redshifttypes.Cluster) types.Resource {
	tags := redshiftTags(cluster.Tags)
	r := types.Resource{
		ID:     aws.ToString(cluster.ClusterIdentifier),
		Type:   types.TypeRedshiftCluster,
		Region: region,
		Name:   aws.ToString(cluster.ClusterIdentifier),
		State:  aws.ToString(cluster.ClusterStatus),
		Tags:   tags,
		Attrs: map[string]string{
			"instance_type": aws.ToString(cluster.NodeType),
			"nodes":         fmt.Sprintf("%d", aws.ToInt32(cluster.NumberOfNodes)),
		},
	}
	if cluster.ClusterCreateTime != nil {
		r.CreatedAt = *cluster.ClusterCreateTime
	}
	for _, sg := range cluster.VpcSecurityGroups {
		r.Refs = append(r.Refs, aws.ToString(sg.VpcSecurityGroupId))
	}
	return r
}

func (s *redshiftScanner) IdleDimensions(r types.Resource) metrics.Dimensions {
	return metrics.Dimensions{
		Namespace: "AWS/Redshift",
		Name:      "ClusterIdentifier",
		Value:     r.ID,
	}
}

func (s *redshiftScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "redshift.DeleteCluster", func(ctx context.Context) error {
		_, err := s.clients.redshiftClient.DeleteCluster(ctx, &redshift.DeleteClusterInput{
			ClusterIdentifier:        aws.String(r.ID),
			SkipFinalClusterSnapshot: aws.Bool(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete redshift cluster %s: %w", r.ID, err)
	}
	return nil
}

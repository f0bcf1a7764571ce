package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/nuker/metrics"
	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeEBSVolume, func(c *Clients, p policy.Policy) providers.Scanner {
		return &volumeScanner{clients: c, policy: p}
	})
}

type volumeScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *volumeScanner) Type() types.ResourceType {
	return types.TypeEBSVolume
}

func (s *volumeScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var resources []types.Resource
	var nextToken *string

	for {
		var output *ec2.DescribeVolumesOutput
		err := s.clients.call(ctx, "ec2.DescribeVolumes", func(ctx context.Context) error {
			var err error
			output, err = s.clients.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{NextToken: nextToken})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe volumes: %w", err)
		}

		for _, volume := range output.Volumes {
			resources = append(resources, convertVolume(s.clients.region, volume))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func convertVolume(region string, volume ec2types.Volume) types.Resource {
	tags := ec2Tags(volume.Tags)
	r := types.Resource{
		ID:     aws.ToString(volume.VolumeId),
		Type:   types.TypeEBSVolume,
		Region: region,
		Name:   nameTag(tags),
		State:  string(volume.State),
		Tags:   tags,
		Attrs: map[string]string{
			"size_gb":     fmt.Sprintf("%d", aws.ToInt32(volume.Size)),
			"volume_type": string(volume.VolumeType),
		},
	}
	if volume.CreateTime != nil {
		r.CreatedAt = *volume.CreateTime
	}
	if len(volume.Attachments) > 0 {
		r.Attrs["attached"] = "true"
		for _, att := range volume.Attachments {
			r.Refs = append(r.Refs, aws.ToString(att.InstanceId))
		}
	} else {
		r.Attrs["attached"] = "false"
	}
	return r
}

func (s *volumeScanner) IdleDimensions(r types.Resource) metrics.Dimensions {
	return metrics.Dimensions{
		Namespace: "AWS/EBS",
		Name:      "VolumeId",
		Value:     r.ID,
	}
}

// ExtraRules marks volumes with no attachment when the policy asks for it.
func (s *volumeScanner) ExtraRules(r types.Resource) []types.RuleKind {
	if s.policy.Unattached && r.Attrs["attached"] == "false" {
		return []types.RuleKind{types.RuleUnassociated}
	}
	return nil
}

func (s *volumeScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "ec2.DeleteVolume", func(ctx context.Context) error {
		_, err := s.clients.ec2Client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{
			VolumeId: aws.String(r.ID),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete volume %s: %w", r.ID, err)
	}
	return nil
}

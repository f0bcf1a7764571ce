package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

func init() {
	register(types.TypeElasticIP, func(c *Clients, p policy.Policy) providers.Scanner {
		return &addressScanner{clients: c, policy: p}
	})
	register(types.TypeSecurityGroup, func(c *Clients, p policy.Policy) providers.Scanner {
		return &securityGroupScanner{clients: c, policy: p}
	})
}

type addressScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *addressScanner) Type() types.ResourceType {
	return types.TypeElasticIP
}

func (s *addressScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var output *ec2.DescribeAddressesOutput
	err := s.clients.call(ctx, "ec2.DescribeAddresses", func(ctx context.Context) error {
		var err error
		output, err = s.clients.ec2Client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("describe addresses: %w", err)
	}

	resources := make([]types.Resource, 0, len(output.Addresses))
	for _, addr := range output.Addresses {
		resources = append(resources, convertAddress(s.clients.region, addr))
	}
	return resources, nil
}

func convertAddress(region string, addr ec2types.Address) types.Resource {
	tags := ec2Tags(addr.Tags)
	r := types.Resource{
		ID:     aws.ToString(addr.AllocationId),
		Type:   types.TypeElasticIP,
		Region: region,
		Name:   nameTag(tags),
		Tags:   tags,
		Attrs: map[string]string{
			"public_ip": aws.ToString(addr.PublicIp),
		},
	}
	if addr.AssociationId != nil {
		r.State = "associated"
		r.Attrs["associated"] = "true"
		if addr.InstanceId != nil {
			r.Refs = append(r.Refs, aws.ToString(addr.InstanceId))
		}
	} else {
		r.State = "unassociated"
		r.Attrs["associated"] = "false"
	}
	return r
}

func (s *addressScanner) ExtraRules(r types.Resource) []types.RuleKind {
	if s.policy.Unattached && r.Attrs["associated"] == "false" {
		return []types.RuleKind{types.RuleUnassociated}
	}
	return nil
}

func (s *addressScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "ec2.ReleaseAddress", func(ctx context.Context) error {
		_, err := s.clients.ec2Client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{
			AllocationId: aws.String(r.ID),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("release address %s: %w", r.ID, err)
	}
	return nil
}

type securityGroupScanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *securityGroupScanner) Type() types.ResourceType {
	return types.TypeSecurityGroup
}

func (s *securityGroupScanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var resources []types.Resource
	var nextToken *string

	for {
		var output *ec2.DescribeSecurityGroupsOutput
		err := s.clients.call(ctx, "ec2.DescribeSecurityGroups", func(ctx context.Context) error {
			var err error
			output, err = s.clients.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{NextToken: nextToken})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}

		for _, group := range output.SecurityGroups {
			// The default group cannot be deleted.
			if aws.ToString(group.GroupName) == "default" {
				continue
			}
			resources = append(resources, s.convertGroup(group))
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return resources, nil
}

func (s *securityGroupScanner) convertGroup(group ec2types.SecurityGroup) types.Resource {
	tags := ec2Tags(group.Tags)
	r := types.Resource{
		ID:     aws.ToString(group.GroupId),
		Type:   types.TypeSecurityGroup,
		Region: s.clients.region,
		Name:   aws.ToString(group.GroupName),
		State:  "available",
		Tags:   tags,
		Attrs: map[string]string{
			"vpc_id": aws.ToString(group.VpcId),
		},
	}
	if s.policy.OpenIngress != nil && hasOpenIngress(group.IpPermissions, *s.policy.OpenIngress) {
		r.Attrs["open_ingress"] = "true"
	}
	return r
}

// hasOpenIngress reports whether any ingress permission exposes a port in
// the rule's range to one of the rule's source CIDRs.
func hasOpenIngress(permissions []ec2types.IpPermission, rule policy.IngressRule) bool {
	for _, perm := range permissions {
		if !portsOverlap(perm, rule) {
			continue
		}
		for _, ipRange := range perm.IpRanges {
			if cidrMatches(aws.ToString(ipRange.CidrIp), rule.CIDRs) {
				return true
			}
		}
		for _, ipRange := range perm.Ipv6Ranges {
			if cidrMatches(aws.ToString(ipRange.CidrIpv6), rule.CIDRs) {
				return true
			}
		}
	}
	return false
}

func portsOverlap(perm ec2types.IpPermission, rule policy.IngressRule) bool {
	// Protocol -1 means all traffic on all ports.
	if aws.ToString(perm.IpProtocol) == "-1" {
		return true
	}
	if perm.FromPort == nil || perm.ToPort == nil {
		return true
	}
	return aws.ToInt32(perm.FromPort) <= rule.ToPort && aws.ToInt32(perm.ToPort) >= rule.FromPort
}

func cidrMatches(cidr string, allowed []string) bool {
	for _, a := range allowed {
		if cidr == a {
			return true
		}
	}
	return false
}

func (s *securityGroupScanner) ExtraRules(r types.Resource) []types.RuleKind {
	if s.policy.OpenIngress != nil && r.Attrs["open_ingress"] == "true" {
		return []types.RuleKind{types.RuleOpenIngress}
	}
	return nil
}

func (s *securityGroupScanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "ec2.DeleteSecurityGroup", func(ctx context.Context) error {
		_, err := s.clients.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
			GroupId: aws.String(r.ID),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete security group %s: %w", r.ID, err)
	}
	return nil
}

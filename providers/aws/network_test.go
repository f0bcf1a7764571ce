package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/types"
)

func sshRule() policy.IngressRule {
	return policy.IngressRule{CIDRs: []string{"0.0.0.0/0", "::/0"}, FromPort: 22, ToPort: 22}
}

func TestHasOpenIngress(t *testing.T) {
	cases := []struct {
		name string
		perm ec2types.IpPermission
		want bool
	}{
		{
			name: "ssh open to the world",
			perm: ec2types.IpPermission{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(22),
				ToPort:     aws.Int32(22),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
			want: true,
		},
		{
			name: "ssh open to the office only",
			perm: ec2types.IpPermission{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(22),
				ToPort:     aws.Int32(22),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("10.1.0.0/16")}},
			},
			want: false,
		},
		{
			name: "open range not covering ssh",
			perm: ec2types.IpPermission{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(80),
				ToPort:     aws.Int32(443),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
			want: false,
		},
		{
			name: "all traffic open",
			perm: ec2types.IpPermission{
				IpProtocol: aws.String("-1"),
				IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
			},
			want: true,
		},
		{
			name: "ipv6 open",
			perm: ec2types.IpPermission{
				IpProtocol: aws.String("tcp"),
				FromPort:   aws.Int32(20),
				ToPort:     aws.Int32(25),
				Ipv6Ranges: []ec2types.Ipv6Range{{CidrIpv6: aws.String("::/0")}},
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := hasOpenIngress([]ec2types.IpPermission{tc.perm}, sshRule())
			assert.Equal(t, tc.want, got)
		})
	}
}

type mockSGClient struct {
	EC2API
	DescribeSecurityGroupsFunc func(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
}

func (m *mockSGClient) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	return m.DescribeSecurityGroupsFunc(ctx, params, optFns...)
}

func TestScanSecurityGroups(t *testing.T) {
	mock := &mockSGClient{
		DescribeSecurityGroupsFunc: func(_ context.Context, _ *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
			return &ec2.DescribeSecurityGroupsOutput{
				SecurityGroups: []ec2types.SecurityGroup{
					{
						GroupId:   aws.String("sg-default"),
						GroupName: aws.String("default"),
					},
					{
						GroupId:   aws.String("sg-open"),
						GroupName: aws.String("web"),
						VpcId:     aws.String("vpc-1"),
						IpPermissions: []ec2types.IpPermission{{
							IpProtocol: aws.String("tcp"),
							FromPort:   aws.Int32(22),
							ToPort:     aws.Int32(22),
							IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
						}},
					},
				},
			}, nil
		},
	}

	clients := testClients()
	clients.ec2Client = mock
	rule := sshRule()
	scanner := &securityGroupScanner{clients: clients, policy: policy.Policy{Enabled: true, OpenIngress: &rule}}

	resources, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1, "the default group is not deletable")

	r := resources[0]
	assert.Equal(t, "sg-open", r.ID)
	assert.Equal(t, "true", r.Attrs["open_ingress"])
	assert.Equal(t, []types.RuleKind{types.RuleOpenIngress}, scanner.ExtraRules(r))
}

type mockAddressClient struct {
	EC2API
	DescribeAddressesFunc func(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
}

func (m *mockAddressClient) DescribeAddresses(ctx context.Context, params *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
	return m.DescribeAddressesFunc(ctx, params, optFns...)
}

func TestScanAddresses(t *testing.T) {
	mock := &mockAddressClient{
		DescribeAddressesFunc: func(_ context.Context, _ *ec2.DescribeAddressesInput, _ ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error) {
			return &ec2.DescribeAddressesOutput{
				Addresses: []ec2types.Address{
					{
						AllocationId:  aws.String("eipalloc-used"),
						PublicIp:      aws.String("52.1.2.3"),
						AssociationId: aws.String("eipassoc-1"),
						InstanceId:    aws.String("i-0abc123"),
					},
					{
						AllocationId: aws.String("eipalloc-orphan"),
						PublicIp:     aws.String("52.4.5.6"),
					},
				},
			}, nil
		},
	}

	clients := testClients()
	clients.ec2Client = mock
	scanner := &addressScanner{clients: clients, policy: policy.Policy{Enabled: true, Unattached: true}}

	resources, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 2)

	used, orphan := resources[0], resources[1]
	assert.Equal(t, "associated", used.State)
	assert.Equal(t, []string{"i-0abc123"}, used.Refs)
	assert.Empty(t, scanner.ExtraRules(used))

	assert.Equal(t, "unassociated", orphan.State)
	assert.Equal(t, []types.RuleKind{types.RuleUnassociated}, scanner.ExtraRules(orphan))
}

package executor

import "github.com/yairfalse/nuker/types"

// deletionTiers orders deletion so dependents go before what they depend
// on. Tier boundaries are barriers: a tier starts only after the previous
// one fully settled. Groups release their members first, then standalone
// resources, then attachables, then security groups last since everything
// references them.
var deletionTiers = map[types.ResourceType]int{
	types.TypeAutoScalingGroup: 0,
	types.TypeLoadBalancer:     1,
	types.TypeEC2Instance:      1,
	types.TypeRDSInstance:      1,
	types.TypeRedshiftCluster:  1,
	types.TypeS3Bucket:         1,
	types.TypeEBSVolume:        2,
	types.TypeElasticIP:        2,
	types.TypeSecurityGroup:    3,
}

const lastTier = 3

func tierOf(t types.ResourceType) int {
	if tier, ok := deletionTiers[t]; ok {
		return tier
	}
	return lastTier
}

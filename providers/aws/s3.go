package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

const (
	allUsersURI           = "http://acs.amazonaws.com/groups/global/AllUsers"
	authenticatedUsersURI = "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"
)

func init() {
	register(types.TypeS3Bucket, func(c *Clients, p policy.Policy) providers.Scanner {
		return &s3Scanner{clients: c, policy: p}
	})
}

type s3Scanner struct {
	clients *Clients
	policy  policy.Policy
}

func (s *s3Scanner) Type() types.ResourceType {
	return types.TypeS3Bucket
}

// Scan lists all buckets and keeps the ones homed in this region. Buckets
// are global in the API, so each region scanner filters by location.
func (s *s3Scanner) Scan(ctx context.Context) ([]types.Resource, error) {
	var listed *s3.ListBucketsOutput
	err := s.clients.call(ctx, "s3.ListBuckets", func(ctx context.Context) error {
		var err error
		listed, err = s.clients.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	var resources []types.Resource
	for _, bucket := range listed.Buckets {
		name := aws.ToString(bucket.Name)

		region, err := s.bucketRegion(ctx, name)
		if err != nil {
			if !errors.Is(err, providers.ErrNotFound) {
				s.clients.logger.Warn().Err(err).Str("bucket", name).Msg("skipping bucket")
			}
			continue
		}
		if region != s.clients.region {
			continue
		}

		r := types.Resource{
			ID:     name,
			Type:   types.TypeS3Bucket,
			Region: region,
			Name:   name,
			State:  "available",
			Attrs:  map[string]string{},
		}
		if bucket.CreationDate != nil {
			r.CreatedAt = *bucket.CreationDate
		}

		r.Tags, err = s.bucketTags(ctx, name)
		if err != nil {
			s.clients.logger.Warn().Err(err).Str("bucket", name).Msg("skipping bucket")
			continue
		}

		if !strings.Contains(name, ".") {
			r.Attrs["dns_compliant"] = "true"
		}

		if s.policy.DenyPublic {
			public, err := s.bucketPublic(ctx, name)
			if err != nil {
				s.clients.logger.Warn().Err(err).Str("bucket", name).Msg("skipping bucket")
				continue
			}
			if public {
				r.Attrs["public"] = "true"
			}
		}

		resources = append(resources, r)
	}
	return resources, nil
}

func (s *s3Scanner) bucketRegion(ctx context.Context, name string) (string, error) {
	var loc *s3.GetBucketLocationOutput
	err := s.clients.call(ctx, "s3.GetBucketLocation", func(ctx context.Context) error {
		var err error
		loc, err = s.clients.s3Client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: aws.String(name)})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("bucket location for %s: %w", name, err)
	}
	// us-east-1 is reported as an empty constraint.
	if loc.LocationConstraint == "" {
		return "us-east-1", nil
	}
	return string(loc.LocationConstraint), nil
}

func (s *s3Scanner) bucketTags(ctx context.Context, name string) (map[string]string, error) {
	var tagging *s3.GetBucketTaggingOutput
	err := s.clients.call(ctx, "s3.GetBucketTagging", func(ctx context.Context) error {
		var err error
		tagging, err = s.clients.s3Client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
		return err
	})
	if err != nil {
		// Untagged buckets report NoSuchTagSet.
		if errors.Is(err, providers.ErrNotFound) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("bucket tags for %s: %w", name, err)
	}
	return s3Tags(tagging.TagSet), nil
}

// bucketPublic checks the policy status first, then falls back to ACL
// grants for the all-users and authenticated-users groups.
func (s *s3Scanner) bucketPublic(ctx context.Context, name string) (bool, error) {
	var status *s3.GetBucketPolicyStatusOutput
	err := s.clients.call(ctx, "s3.GetBucketPolicyStatus", func(ctx context.Context) error {
		var err error
		status, err = s.clients.s3Client.GetBucketPolicyStatus(ctx, &s3.GetBucketPolicyStatusInput{Bucket: aws.String(name)})
		return err
	})
	if err == nil && status.PolicyStatus != nil && aws.ToBool(status.PolicyStatus.IsPublic) {
		return true, nil
	}
	if err != nil && !errors.Is(err, providers.ErrNotFound) {
		return false, fmt.Errorf("bucket policy status for %s: %w", name, err)
	}

	var acl *s3.GetBucketAclOutput
	err = s.clients.call(ctx, "s3.GetBucketAcl", func(ctx context.Context) error {
		var err error
		acl, err = s.clients.s3Client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: aws.String(name)})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("bucket acl for %s: %w", name, err)
	}
	for _, grant := range acl.Grants {
		if grant.Grantee == nil {
			continue
		}
		uri := aws.ToString(grant.Grantee.URI)
		if uri == allUsersURI || uri == authenticatedUsersURI {
			return true, nil
		}
	}
	return false, nil
}

func (s *s3Scanner) ExtraRules(r types.Resource) []types.RuleKind {
	var kinds []types.RuleKind
	if s.policy.DNSNaming && r.Attrs["dns_compliant"] != "true" {
		kinds = append(kinds, types.RuleNamingViolation)
	}
	if s.policy.DenyPublic && r.Attrs["public"] == "true" {
		kinds = append(kinds, types.RulePublic)
	}
	return kinds
}

func (s *s3Scanner) Delete(ctx context.Context, r types.Resource) error {
	err := s.clients.call(ctx, "s3.DeleteBucket", func(ctx context.Context) error {
		_, err := s.clients.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(r.ID)})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete bucket %s: %w", r.ID, err)
	}
	return nil
}

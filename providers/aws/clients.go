// Package aws implements the AWS provider: scanners and deleters for every
// supported resource type, with shared rate limiting and retry handling.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxAttempts        = 5
)

// Clients bundles the per-region service clients behind narrow interfaces,
// plus the shared rate limiter every call goes through.
type Clients struct {
	region    string
	limiter   *rate.Limiter
	logger    zerolog.Logger
	retryBase time.Duration

	ec2Client      EC2API
	rdsClient      RDSAPI
	s3Client       S3API
	asgClient      AutoScalingAPI
	elbClient      ELBAPI
	redshiftClient RedshiftAPI
	cwClient       CloudWatchAPI
}

// Options configures client construction.
type Options struct {
	Region    string
	Profile   string
	RateLimit float64 // calls per second across all services in the region
	Logger    zerolog.Logger
}

// NewClients loads the shared AWS config and builds the service clients.
func NewClients(ctx context.Context, opts Options) (*Clients, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = 10
	}

	return &Clients{
		region:         opts.Region,
		limiter:        rate.NewLimiter(rate.Limit(limit), int(limit)),
		logger:         opts.Logger.With().Str("region", opts.Region).Logger(),
		ec2Client:      ec2.NewFromConfig(cfg),
		rdsClient:      rds.NewFromConfig(cfg),
		s3Client:       s3.NewFromConfig(cfg),
		asgClient:      autoscaling.NewFromConfig(cfg),
		elbClient:      elasticloadbalancingv2.NewFromConfig(cfg),
		redshiftClient: redshift.NewFromConfig(cfg),
		cwClient:       cloudwatch.NewFromConfig(cfg),
	}, nil
}

// Region returns the region the clients were built for.
func (c *Clients) Region() string {
	return c.region
}

// CloudWatch exposes the metrics client for the idle detector.
func (c *Clients) CloudWatch() CloudWatchAPI {
	return c.cwClient
}

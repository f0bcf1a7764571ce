// Package metrics queries CloudWatch to decide whether a resource has been
// idle for a full lookback window.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"

	"github.com/yairfalse/nuker/policy"
	"github.com/yairfalse/nuker/types"
)

// CloudWatchAPI is the slice of the CloudWatch client the detector needs.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

// Dimensions identifies the metric stream for one resource.
type Dimensions struct {
	Namespace string
	Name      string // dimension name, e.g. InstanceId
	Value     string // dimension value, e.g. i-0abc
}

// Detector evaluates idle rules against CloudWatch history.
type Detector struct {
	client CloudWatchAPI
	logger zerolog.Logger
	now    func() time.Time
}

// NewDetector builds a detector on top of a CloudWatch client.
func NewDetector(client CloudWatchAPI, logger zerolog.Logger) *Detector {
	return &Detector{
		client: client,
		logger: logger.With().Str("component", "idle-detector").Logger(),
		now:    time.Now,
	}
}

// EvaluateIdle returns the verdict for one resource under one rule.
//
// A resource is idle only when every datapoint in the lookback window
// satisfies the rule's comparison AND the window is actually covered:
// either the datapoint count reaches lookback/period, or the resource is
// old enough that missing datapoints mean genuine inactivity. A resource
// younger than the lookback window is never idle; its metric history
// cannot cover the window yet, so the query is skipped entirely.
func (d *Detector) EvaluateIdle(ctx context.Context, r types.Resource, rule policy.IdleRule, dims Dimensions) (types.IdleVerdict, error) {
	verdict := types.IdleVerdict{ResourceID: r.ID, Metric: rule.Metric}

	now := d.now()
	if !r.CreatedAt.IsZero() && now.Sub(r.CreatedAt) < rule.Lookback {
		d.logger.Debug().
			Str("resource_id", r.ID).
			Dur("age", now.Sub(r.CreatedAt)).
			Dur("lookback", rule.Lookback).
			Msg("resource younger than lookback window, not idle")
		return verdict, nil
	}

	values, err := d.fetch(ctx, rule, dims, now)
	if err != nil {
		return verdict, fmt.Errorf("metric %s for %s: %w", rule.Metric, r.ID, err)
	}
	verdict.Values = values

	for _, v := range values {
		if !rule.Compare(v) {
			return verdict, nil
		}
	}

	covered := len(values) >= rule.Periods()
	if !covered {
		// Gaps in the history only count as idleness when we know the
		// resource existed for the whole window.
		covered = !r.CreatedAt.IsZero() && now.Sub(r.CreatedAt) > rule.Lookback
	}
	verdict.Idle = covered

	d.logger.Debug().
		Str("resource_id", r.ID).
		Str("metric", rule.Metric).
		Int("datapoints", len(values)).
		Bool("idle", verdict.Idle).
		Msg("idle evaluation complete")
	return verdict, nil
}

func (d *Detector) fetch(ctx context.Context, rule policy.IdleRule, dims Dimensions, now time.Time) ([]float64, error) {
	out, err := d.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(dims.Namespace),
		MetricName: aws.String(rule.Metric),
		Dimensions: []cwtypes.Dimension{{
			Name:  aws.String(dims.Name),
			Value: aws.String(dims.Value),
		}},
		StartTime:  aws.Time(now.Add(-rule.Lookback)),
		EndTime:    aws.Time(now),
		Period:     aws.Int32(int32(rule.Period / time.Second)),
		Statistics: []cwtypes.Statistic{cwtypes.Statistic(rule.Statistic)},
	})
	if err != nil {
		return nil, fmt.Errorf("get metric statistics: %w", err)
	}

	values := make([]float64, 0, len(out.Datapoints))
	for _, dp := range out.Datapoints {
		values = append(values, datapointValue(dp, rule.Statistic))
	}
	return values, nil
}

func datapointValue(dp cwtypes.Datapoint, stat policy.Statistic) float64 {
	switch stat {
	case policy.StatAverage:
		return aws.ToFloat64(dp.Average)
	case policy.StatMaximum:
		return aws.ToFloat64(dp.Maximum)
	case policy.StatMinimum:
		return aws.ToFloat64(dp.Minimum)
	case policy.StatSum:
		return aws.ToFloat64(dp.Sum)
	case policy.StatSampleCount:
		return aws.ToFloat64(dp.SampleCount)
	default:
		return 0
	}
}

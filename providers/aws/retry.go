package aws

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/yairfalse/nuker/providers"
)

// throttleCodes are the API error codes retried with backoff. Anything
// else fails immediately and is classified instead.
var throttleCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"RequestLimitExceeded":      true,
	"TooManyRequestsException":  true,
	"RequestThrottled":          true,
	"RequestThrottledException": true,
	"SlowDown":                  true,
}

var notFoundCodes = map[string]bool{
	"InvalidInstanceID.NotFound":       true,
	"InvalidVolume.NotFound":           true,
	"InvalidAddress.NotFound":          true,
	"InvalidAllocationID.NotFound":     true,
	"InvalidGroup.NotFound":            true,
	"DBInstanceNotFound":               true,
	"DBInstanceNotFoundFault":          true,
	"NoSuchBucket":                     true,
	"NoSuchBucketPolicy":               true,
	"NoSuchEntity":                     true,
	"ClusterNotFound":                  true,
	"ClusterNotFoundFault":             true,
	"LoadBalancerNotFound":             true,
	"NoSuchTagSet":                     true,
	"AutoScalingGroupNotFound":         true,
	"InvalidNetworkInterface.NotFound": true,
}

var permissionCodes = map[string]bool{
	"AccessDenied":          true,
	"AccessDeniedException": true,
	"UnauthorizedOperation": true,
	"UnauthorizedAccess":    true,
	"Forbidden":             true,
}

// call runs one provider operation through the shared rate limiter with a
// per-call timeout, retrying only throttle-class failures.
func (c *Clients) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := c.retryBase
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := backoff * 16

	for attempt := 1; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		if !isThrottle(err) || attempt >= maxAttempts {
			return classify(op, err)
		}

		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)))
		c.logger.Debug().
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", sleep).
			Msg("throttled, retrying")

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && throttleCodes[apiErr.ErrorCode()]
}

// classify wraps provider errors with the sentinel class the engine
// reacts to, keeping the original error in the chain.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	code := apiErr.ErrorCode()
	switch {
	// Auto Scaling reports a missing group as ValidationError.
	case code == "ValidationError" && strings.Contains(apiErr.ErrorMessage(), "not found"):
		return fmt.Errorf("%s: %w: %s", op, providers.ErrNotFound, apiErr.ErrorMessage())
	case notFoundCodes[code]:
		return fmt.Errorf("%s: %w: %s", op, providers.ErrNotFound, apiErr.ErrorMessage())
	case permissionCodes[code]:
		return fmt.Errorf("%s: %w: %s", op, providers.ErrPermissionDenied, apiErr.ErrorMessage())
	case throttleCodes[code]:
		return fmt.Errorf("%s: %w: %s", op, providers.ErrThrottled, apiErr.ErrorMessage())
	case code == "ValidationError", code == "InvalidParameterValue", code == "MalformedInput":
		return fmt.Errorf("%s: %w: %s", op, providers.ErrMalformedRequest, apiErr.ErrorMessage())
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

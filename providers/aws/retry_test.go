package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nuker/providers"
)

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message}
}

func TestCallRetriesThrottle(t *testing.T) {
	clients := testClients()

	attempts := 0
	err := clients.call(context.Background(), "test.Op", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apiError("Throttling", "slow down")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCallDoesNotRetryOtherErrors(t *testing.T) {
	clients := testClients()

	attempts := 0
	err := clients.call(context.Background(), "test.Op", func(ctx context.Context) error {
		attempts++
		return apiError("AccessDenied", "nope")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, providers.ErrPermissionDenied)
}

func TestCallGivesUpAfterMaxAttempts(t *testing.T) {
	clients := testClients()

	attempts := 0
	err := clients.call(context.Background(), "test.Op", func(ctx context.Context) error {
		attempts++
		return apiError("RequestLimitExceeded", "still busy")
	})

	require.Error(t, err)
	assert.Equal(t, maxAttempts, attempts)
	assert.ErrorIs(t, err, providers.ErrThrottled)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"instance not found", apiError("InvalidInstanceID.NotFound", "gone"), providers.ErrNotFound},
		{"bucket not found", apiError("NoSuchBucket", "gone"), providers.ErrNotFound},
		{"asg not found", apiError("ValidationError", "AutoScalingGroup name not found"), providers.ErrNotFound},
		{"access denied", apiError("UnauthorizedOperation", "denied"), providers.ErrPermissionDenied},
		{"throttled", apiError("SlowDown", "busy"), providers.ErrThrottled},
		{"malformed", apiError("InvalidParameterValue", "bad input"), providers.ErrMalformedRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify("test.Op", tc.err)
			assert.ErrorIs(t, got, tc.want)
		})
	}
}

func TestClassifyKeepsUnknownErrors(t *testing.T) {
	plain := errors.New("connection reset")
	got := classify("test.Op", plain)

	assert.ErrorIs(t, got, plain)
	assert.NotErrorIs(t, got, providers.ErrNotFound)
}

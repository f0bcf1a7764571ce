package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nuker/providers"
	"github.com/yairfalse/nuker/types"
)

// fakeDeleter counts deletions and records their order across types.
type fakeDeleter struct {
	resourceType types.ResourceType
	failIDs      map[string]error

	mu    sync.Mutex
	calls []string
	order *callLog
}

type callLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *callLog) record(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = append(l.ids, id)
}

func (f *fakeDeleter) Type() types.ResourceType { return f.resourceType }

func (f *fakeDeleter) Scan(ctx context.Context) ([]types.Resource, error) {
	return nil, nil
}

func (f *fakeDeleter) Delete(ctx context.Context, r types.Resource) error {
	f.mu.Lock()
	f.calls = append(f.calls, r.ID)
	f.mu.Unlock()
	if f.order != nil {
		f.order.record(r.ID)
	}
	if err, ok := f.failIDs[r.ID]; ok {
		return err
	}
	return nil
}

// fakeStopper is a deleter that also supports stopping in place.
type fakeStopper struct {
	fakeDeleter
	stops []string
}

func (f *fakeStopper) Stop(ctx context.Context, r types.Resource) error {
	f.mu.Lock()
	f.stops = append(f.stops, r.ID)
	f.mu.Unlock()
	if err, ok := f.failIDs[r.ID]; ok {
		return err
	}
	return nil
}

func candidate(id string, t types.ResourceType, refs ...string) types.CleanupCandidate {
	return types.CleanupCandidate{
		Resource: types.Resource{
			ID:     id,
			Type:   t,
			Region: "us-east-1",
			Refs:   refs,
		},
		Matched: []types.RuleKind{types.RuleRequiredTags},
	}
}

func testDeleters(fakes ...*fakeDeleter) Deleters {
	byType := map[types.ResourceType]providers.Scanner{}
	for _, f := range fakes {
		byType[f.resourceType] = f
	}
	return Deleters{"us-east-1": byType}
}

func statusOf(report *types.RunReport, id string) types.Outcome {
	for _, o := range report.Outcomes {
		if o.ResourceID == id {
			return o
		}
	}
	return types.Outcome{}
}

func TestExecuteDryRunIssuesNoCalls(t *testing.T) {
	ec2 := &fakeDeleter{resourceType: types.TypeEC2Instance}
	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		candidate("i-1", types.TypeEC2Instance),
		candidate("i-2", types.TypeEC2Instance),
	}}

	exec := New(testDeleters(ec2), zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{DryRun: true})

	require.NoError(t, err)
	assert.Empty(t, ec2.calls)
	assert.Equal(t, types.OutcomeWouldDelete, statusOf(report, "i-1").Status)
	assert.Equal(t, types.OutcomeWouldDelete, statusOf(report, "i-2").Status)
}

func TestExecuteRequiresForce(t *testing.T) {
	exec := New(testDeleters(), zerolog.Nop())
	err := exec.Execute(context.Background(), &types.RunReport{}, Options{DryRun: false, Force: false})

	assert.ErrorIs(t, err, ErrForceRequired)
}

func TestExecuteWhitelistedNeverDeleted(t *testing.T) {
	ec2 := &fakeDeleter{resourceType: types.TypeEC2Instance}
	kept := candidate("i-keep", types.TypeEC2Instance)
	kept.Whitelisted = true
	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		kept,
		candidate("i-del", types.TypeEC2Instance),
	}}

	exec := New(testDeleters(ec2), zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{Force: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"i-del"}, ec2.calls)
	assert.Equal(t, types.OutcomeSkippedWhitelisted, statusOf(report, "i-keep").Status)
	assert.Equal(t, types.OutcomeDeleted, statusOf(report, "i-del").Status)
}

func TestExecuteTierOrdering(t *testing.T) {
	order := &callLog{}
	asg := &fakeDeleter{resourceType: types.TypeAutoScalingGroup, order: order}
	ec2 := &fakeDeleter{resourceType: types.TypeEC2Instance, order: order}
	sg := &fakeDeleter{resourceType: types.TypeSecurityGroup, order: order}

	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		candidate("sg-1", types.TypeSecurityGroup),
		candidate("i-1", types.TypeEC2Instance),
		candidate("asg-1", types.TypeAutoScalingGroup),
	}}

	exec := New(testDeleters(asg, ec2, sg), zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{Force: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"asg-1", "i-1", "sg-1"}, order.ids)
}

func TestExecuteFailureBlocksDependencies(t *testing.T) {
	ec2 := &fakeDeleter{
		resourceType: types.TypeEC2Instance,
		failIDs:      map[string]error{"i-1": errors.New("termination protection enabled")},
	}
	sg := &fakeDeleter{resourceType: types.TypeSecurityGroup}

	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		candidate("i-1", types.TypeEC2Instance, "sg-1"),
		candidate("sg-1", types.TypeSecurityGroup),
		candidate("sg-2", types.TypeSecurityGroup),
	}}

	exec := New(testDeleters(ec2, sg), zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{Force: true})

	require.NoError(t, err)
	assert.Equal(t, types.OutcomeFailed, statusOf(report, "i-1").Status)
	assert.Equal(t, types.OutcomeSkippedBlocked, statusOf(report, "sg-1").Status)
	assert.Equal(t, types.OutcomeDeleted, statusOf(report, "sg-2").Status)
	assert.Equal(t, []string{"sg-2"}, sg.calls)
}

func TestExecuteAlreadyGone(t *testing.T) {
	ec2 := &fakeDeleter{
		resourceType: types.TypeEC2Instance,
		failIDs: map[string]error{
			"i-gone": fmt.Errorf("terminate instance: %w", providers.ErrNotFound),
		},
	}

	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		candidate("i-gone", types.TypeEC2Instance),
	}}

	exec := New(testDeleters(ec2), zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{Force: true})

	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAlreadyGone, statusOf(report, "i-gone").Status)
}

func TestExecuteMissingDeleter(t *testing.T) {
	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		candidate("vol-1", types.TypeEBSVolume),
	}}

	exec := New(testDeleters(), zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{Force: true})

	require.NoError(t, err)
	outcome := statusOf(report, "vol-1")
	assert.Equal(t, types.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "no deleter")
}

func TestExecuteStopTarget(t *testing.T) {
	ec2 := &fakeStopper{fakeDeleter: fakeDeleter{resourceType: types.TypeEC2Instance}}
	sg := &fakeDeleter{resourceType: types.TypeSecurityGroup}

	stopped := candidate("i-1", types.TypeEC2Instance, "sg-1")
	stopped.Target = types.TargetStopped
	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		stopped,
		candidate("sg-1", types.TypeSecurityGroup),
	}}

	deleters := Deleters{"us-east-1": map[types.ResourceType]providers.Scanner{
		types.TypeEC2Instance:   ec2,
		types.TypeSecurityGroup: sg,
	}}
	exec := New(deleters, zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{Force: true})

	require.NoError(t, err)
	assert.Equal(t, []string{"i-1"}, ec2.stops)
	assert.Empty(t, ec2.calls, "a stop target must never delete")
	assert.Equal(t, types.OutcomeStopped, statusOf(report, "i-1").Status)
	// The stopped instance still holds its security group.
	assert.Equal(t, types.OutcomeSkippedBlocked, statusOf(report, "sg-1").Status)
	assert.Empty(t, sg.calls)
}

func TestExecuteDryRunWouldStop(t *testing.T) {
	ec2 := &fakeStopper{fakeDeleter: fakeDeleter{resourceType: types.TypeEC2Instance}}
	c := candidate("i-1", types.TypeEC2Instance)
	c.Target = types.TargetStopped
	report := &types.RunReport{Candidates: []types.CleanupCandidate{c}}

	deleters := Deleters{"us-east-1": map[types.ResourceType]providers.Scanner{
		types.TypeEC2Instance: ec2,
	}}
	exec := New(deleters, zerolog.Nop())
	err := exec.Execute(context.Background(), report, Options{DryRun: true})

	require.NoError(t, err)
	assert.Empty(t, ec2.stops)
	assert.Equal(t, types.OutcomeWouldStop, statusOf(report, "i-1").Status)
}

func TestExecuteCanceledContextIssuesNoCalls(t *testing.T) {
	ec2 := &fakeDeleter{resourceType: types.TypeEC2Instance}
	report := &types.RunReport{Candidates: []types.CleanupCandidate{
		candidate("i-1", types.TypeEC2Instance),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := New(testDeleters(ec2), zerolog.Nop())
	err := exec.Execute(ctx, report, Options{Force: true})

	require.NoError(t, err)
	assert.Empty(t, ec2.calls, "canceled run must not start new deletions")
	outcome := statusOf(report, "i-1")
	assert.Equal(t, types.OutcomeFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "canceled")
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, 0, tierOf(types.TypeAutoScalingGroup))
	assert.Equal(t, 1, tierOf(types.TypeEC2Instance))
	assert.Equal(t, 2, tierOf(types.TypeEBSVolume))
	assert.Equal(t, 3, tierOf(types.TypeSecurityGroup))
	assert.Equal(t, lastTier, tierOf(types.ResourceType("unknown")))
}

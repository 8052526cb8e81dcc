package balancer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/blockcache"
	"github.com/Layr-Labs/ballast/pkg/blockcache/memory"
	"github.com/Layr-Labs/ballast/pkg/classifier"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/datacenter"
	"github.com/Layr-Labs/ballast/pkg/decision"
	"github.com/Layr-Labs/ballast/pkg/keys"
	"github.com/Layr-Labs/ballast/pkg/logger"
	"github.com/Layr-Labs/ballast/pkg/policy"
	"github.com/Layr-Labs/ballast/pkg/submitter"
	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity(n byte) types.Identity {
	var id types.Identity
	for i := range id {
		id[i] = n
	}
	return id
}

type fakeLedger struct {
	healthErr      error
	epochInfo      *ledger.EpochInfo
	schedule       *ledger.EpochSchedule
	leaderSchedule map[types.Identity][]uint64
	firstAvailable types.Slot
	voteAccounts   *ledger.VoteAccounts
	clusterNodes   []ledger.ClusterNode
	confirmed      []types.Slot
}

func (f *fakeLedger) GetHealth(_ context.Context) error {
	return f.healthErr
}

func (f *fakeLedger) GetEpochInfo(_ context.Context) (*ledger.EpochInfo, error) {
	return f.epochInfo, nil
}

func (f *fakeLedger) GetEpochSchedule(_ context.Context) (*ledger.EpochSchedule, error) {
	return f.schedule, nil
}

func (f *fakeLedger) GetLeaderSchedule(_ context.Context, _ types.Slot) (map[types.Identity][]uint64, error) {
	return f.leaderSchedule, nil
}

func (f *fakeLedger) GetFirstAvailableBlock(_ context.Context) (types.Slot, error) {
	return f.firstAvailable, nil
}

func (f *fakeLedger) GetVoteAccounts(_ context.Context) (*ledger.VoteAccounts, error) {
	return f.voteAccounts, nil
}

func (f *fakeLedger) GetClusterNodes(_ context.Context) ([]ledger.ClusterNode, error) {
	return f.clusterNodes, nil
}

func (f *fakeLedger) GetBlocksInRange(_ context.Context, first, last types.Slot) ([]types.Slot, error) {
	var blocks []types.Slot
	for _, slot := range f.confirmed {
		if slot >= first && slot <= last {
			blocks = append(blocks, slot)
		}
	}
	return blocks, nil
}

type fakeAllocator struct {
	enrolled   map[types.Identity]bool
	initPlan   *allocator.Plan
	initErr    error
	applyPlan  *allocator.Plan
	applyErr   error
	gotPairs   []types.ValidatorPair
	gotDesired []types.DesiredStake
}

func (f *fakeAllocator) Name() string {
	return "fake"
}

func (f *fakeAllocator) Init(_ context.Context, _ types.Identity, validators []types.ValidatorPair, _ *ledger.EpochInfo) (*allocator.Plan, error) {
	f.gotPairs = validators
	if f.initErr != nil {
		return nil, f.initErr
	}
	if f.initPlan == nil {
		return &allocator.Plan{}, nil
	}
	return f.initPlan, nil
}

func (f *fakeAllocator) Enrolled(identity types.Identity) bool {
	return f.enrolled[identity]
}

func (f *fakeAllocator) Apply(_ context.Context, _ types.Identity, desired []types.DesiredStake) (*allocator.Plan, error) {
	f.gotDesired = desired
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	if f.applyPlan == nil {
		return &allocator.Plan{}, nil
	}
	return f.applyPlan, nil
}

type fakeSender struct {
	mu      sync.Mutex
	reject  bool
	submits int
}

func (f *fakeSender) GetBalance(_ context.Context, _ types.Identity) (uint64, error) {
	return 1 << 60, nil
}

func (f *fakeSender) GetLatestSequenceToken(_ context.Context) (ledger.SequenceToken, error) {
	return "token", nil
}

func (f *fakeSender) SubmitOperation(_ context.Context, _ *ledger.OperationEnvelope) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return fmt.Sprintf("sig-%d", f.submits), nil
}

func (f *fakeSender) GetOperationStatuses(_ context.Context, signatures []string) ([]ledger.OperationStatus, error) {
	statuses := make([]ledger.OperationStatus, 0, len(signatures))
	for _, signature := range signatures {
		status := ledger.OperationStatus{Signature: signature, Confirmed: true}
		if f.reject {
			status = ledger.OperationStatus{Signature: signature, Err: "rejected by ledger"}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingNotifier) Send(_ context.Context, lines []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lines...)
	return nil
}

func (r *recordingNotifier) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

type fakeProvider struct {
	concentrations map[types.Identity]datacenter.Concentration
	err            error
}

func (f *fakeProvider) Concentrations(_ context.Context) (map[types.Identity]datacenter.Concentration, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.concentrations, nil
}

// fixture wires a balancer over fakes. The default cluster has three
// enrolled validators in epoch 42: v1 produced all of its epoch-41 slots,
// v2 produced none, v3 had no slots assigned.
type fixture struct {
	ledger        *fakeLedger
	alloc         *fakeAllocator
	sender        *fakeSender
	notif         *recordingNotifier
	provider      datacenter.Provider
	versions      *policy.VersionPolicy
	concentration *policy.ConcentrationPolicy
	dryRun        bool
	maxPoor       int
}

var (
	v1 = testIdentity(1)
	v2 = testIdentity(2)
	v3 = testIdentity(3)
)

func newFixture() *fixture {
	voteEntry := func(n byte) ledger.VoteAccountEntry {
		return ledger.VoteAccountEntry{
			NodePubkey: testIdentity(n),
			VotePubkey: testIdentity(n + 100),
			Commission: 5,
			LastVote:   4248,
			RootSlot:   4240,
		}
	}
	return &fixture{
		ledger: &fakeLedger{
			epochInfo: &ledger.EpochInfo{
				Epoch:        42,
				SlotIndex:    50,
				SlotsInEpoch: 100,
				AbsoluteSlot: 4250,
			},
			schedule: &ledger.EpochSchedule{
				SlotsPerEpoch:    100,
				FirstNormalEpoch: 0,
				FirstNormalSlot:  0,
			},
			leaderSchedule: map[types.Identity][]uint64{
				v1: {0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
				v2: {10, 11, 12, 13, 14, 15, 16, 17, 18, 19},
			},
			firstAvailable: 100,
			voteAccounts: &ledger.VoteAccounts{
				Current: []ledger.VoteAccountEntry{voteEntry(1), voteEntry(2), voteEntry(3)},
			},
			clusterNodes: []ledger.ClusterNode{
				{Pubkey: v1, Version: "1.10.0"},
				{Pubkey: v2, Version: "1.10.0"},
				{Pubkey: v3, Version: "1.10.0"},
			},
			confirmed: []types.Slot{4100, 4101, 4102, 4103, 4104, 4105, 4106, 4107, 4108, 4109},
		},
		alloc: &fakeAllocator{
			enrolled: map[types.Identity]bool{v1: true, v2: true, v3: true},
		},
		sender:  &fakeSender{},
		notif:   &recordingNotifier{},
		dryRun:  true,
		maxPoor: 60,
	}
}

func (f *fixture) build(t *testing.T) *Balancer {
	t.Helper()
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	concentration := f.concentration
	if concentration == nil {
		concentration, err = policy.ParseConcentrationPolicy("warn", 100)
		require.NoError(t, err)
	}
	engine, err := decision.NewEngine(decision.DefaultConfig(), concentration, policy.CommissionPolicy{MaxCommission: 100}, l)
	require.NoError(t, err)

	cache := blockcache.NewCache(memory.NewInMemoryBlockStore(), f.ledger, "testnet", l)

	submitterConfig := &submitter.Config{
		DryRun:              f.dryRun,
		MaxAttempts:         2,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
		Parallelism:         2,
		ConfirmPollInterval: time.Millisecond,
		ConfirmTimeout:      50 * time.Millisecond,
		FeePerOperation:     1,
	}
	submit, err := submitter.NewSubmitter(submitterConfig, f.sender, l)
	require.NoError(t, err)

	authority, err := keys.GenerateKeypair()
	require.NoError(t, err)

	balancer, err := NewBalancer(
		&Config{
			Classifier: &classifier.Config{
				QualityBlockProducerPercentage: 15,
				MaxPoorBlockProducerPercentage: f.maxPoor,
				UseClusterAverageSkipRate:      true,
			},
			BadClusterAverageSkipRate: 50,
		},
		&Components{
			Ledger:        f.ledger,
			Cache:         cache,
			Allocator:     f.alloc,
			Submitter:     submit,
			Authority:     authority,
			Notifier:      f.notif,
			Engine:        engine,
			Concentration: concentration,
			Provider:      f.provider,
			Versions:      f.versions,
		},
		l,
	)
	require.NoError(t, err)
	return balancer
}

func findDesired(t *testing.T, desired []types.DesiredStake, id types.Identity) types.DesiredStake {
	t.Helper()
	for _, d := range desired {
		if d.Validator == id {
			return d
		}
	}
	t.Fatalf("no desired state for %s", id)
	return types.DesiredStake{}
}

func TestBalancer_DryRunPass(t *testing.T) {
	f := newFixture()
	memo := fmt.Sprintf("%s was a quality block producer during epoch 41", v1)
	f.alloc.applyPlan = &allocator.Plan{Operations: []allocator.Operation{{
		ID:        uuid.New(),
		Kind:      allocator.OperationDelegate,
		Validator: v1,
		Account:   testIdentity(201),
		Memo:      memo,
	}}}
	b := f.build(t)

	require.NoError(t, b.Run(context.Background()))

	// All three observed validators were offered to the backend.
	require.Len(t, f.alloc.gotPairs, 3)

	require.Len(t, f.alloc.gotDesired, 3)
	assert.Equal(t, types.StakeStateBonus, findDesired(t, f.alloc.gotDesired, v1).State)
	poor := findDesired(t, f.alloc.gotDesired, v2)
	assert.Equal(t, types.StakeStateBaseline, poor.State)
	assert.Contains(t, poor.Memo, "poor block producer during epoch 41")
	idle := findDesired(t, f.alloc.gotDesired, v3)
	assert.Equal(t, types.StakeStateBaseline, idle.State)
	assert.Contains(t, idle.Memo, "is current")

	// Dry run never reaches the ledger.
	assert.Zero(t, f.sender.submits)

	notified := f.notif.joined()
	assert.Contains(t, notified, "Epoch 41 classification:")
	assert.Contains(t, notified, memo)
}

func TestBalancer_HealthCheckFatal(t *testing.T) {
	f := newFixture()
	f.ledger.healthErr = fmt.Errorf("node is behind")
	b := f.build(t)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check")
	assert.Empty(t, f.notif.lines)
}

func TestBalancer_InitFailureFatal(t *testing.T) {
	f := newFixture()
	f.alloc.initErr = fmt.Errorf("insufficient funds in source account")
	b := f.build(t)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize fake backend")
}

func TestBalancer_InitPlanMustConfirm(t *testing.T) {
	f := newFixture()
	f.dryRun = false
	f.sender.reject = true
	f.alloc.initPlan = &allocator.Plan{Operations: []allocator.Operation{{
		ID:        uuid.New(),
		Kind:      allocator.OperationCreateAccount,
		Validator: v1,
		Account:   testIdentity(201),
		Amount:    100,
	}}}
	b := f.build(t)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup operations did not confirm")
	// The run stopped before any allocation was attempted.
	assert.Nil(t, f.alloc.gotDesired)
}

func TestBalancer_FirstAvailableBlockTooNew(t *testing.T) {
	f := newFixture()
	f.ledger.firstAvailable = 4150
	b := f.build(t)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first available block 4150 is beyond the start of epoch 41")
}

func TestBalancer_NoEnrolledValidators(t *testing.T) {
	f := newFixture()
	f.alloc.enrolled = map[types.Identity]bool{}
	b := f.build(t)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enrolled validators")
}

func TestBalancer_ConcentrationProviderFailure(t *testing.T) {
	t.Run("fatal under a destaking policy", func(t *testing.T) {
		f := newFixture()
		var err error
		f.concentration, err = policy.ParseConcentrationPolicy("destake", 25)
		require.NoError(t, err)
		f.provider = &fakeProvider{err: fmt.Errorf("service unavailable")}
		b := f.build(t)

		err = b.Run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to fetch datacenter concentrations")
	})

	t.Run("warn-only policy degrades to no concentration data", func(t *testing.T) {
		f := newFixture()
		var err error
		f.concentration, err = policy.ParseConcentrationPolicy("warn", 25)
		require.NoError(t, err)
		f.provider = &fakeProvider{err: fmt.Errorf("service unavailable")}
		b := f.build(t)

		require.NoError(t, b.Run(context.Background()))
		require.Len(t, f.alloc.gotDesired, 3)
	})
}

func TestBalancer_ConcentrationDestake(t *testing.T) {
	f := newFixture()
	var err error
	f.concentration, err = policy.ParseConcentrationPolicy("destake", 25)
	require.NoError(t, err)
	f.provider = &fakeProvider{concentrations: map[types.Identity]datacenter.Concentration{
		v1: {DataCenter: "1-ASN-city", StakePercent: 40},
	}}
	b := f.build(t)

	require.NoError(t, b.Run(context.Background()))

	// The quality producer is destaked anyway; the memo is surfaced.
	destaked := findDesired(t, f.alloc.gotDesired, v1)
	assert.Equal(t, types.StakeStateNone, destaked.State)
	assert.Contains(t, f.notif.joined(), "infrastructure concentration 40.0% is too high")
}

func TestBalancer_StaleGateNotifiesOnce(t *testing.T) {
	f := newFixture()
	var err error
	f.versions, err = policy.ParseVersionPolicy("1.9.2", 10)
	require.NoError(t, err)
	f.ledger.clusterNodes = []ledger.ClusterNode{
		{Pubkey: v1, Version: "1.8.0"},
		{Pubkey: v2, Version: "1.8.0"},
		{Pubkey: v3, Version: "1.10.0"},
	}
	b := f.build(t)

	require.NoError(t, b.Run(context.Background()))

	// Two of two classified validators are stale, far beyond the 10% gate,
	// so nobody is destaked for staleness and the run warns instead.
	assert.Equal(t, types.StakeStateBonus, findDesired(t, f.alloc.gotDesired, v1).State)
	assert.Contains(t, f.notif.joined(), "running an older release")
}

func TestBalancer_StaleDestakeWhenContained(t *testing.T) {
	f := newFixture()
	var err error
	f.versions, err = policy.ParseVersionPolicy("1.9.2", 60)
	require.NoError(t, err)
	f.ledger.clusterNodes = []ledger.ClusterNode{
		{Pubkey: v1, Version: "1.8.0"},
		{Pubkey: v2, Version: "1.10.0"},
		{Pubkey: v3, Version: "1.10.0"},
	}
	b := f.build(t)

	require.NoError(t, b.Run(context.Background()))

	// One stale validator of two classified is within the 60% gate.
	stale := findDesired(t, f.alloc.gotDesired, v1)
	assert.Equal(t, types.StakeStateNone, stale.State)
	assert.Contains(t, stale.Memo, "running an old software release")
}

func TestBalancer_FailedOperationsSurface(t *testing.T) {
	f := newFixture()
	f.dryRun = false
	f.sender.reject = true
	f.alloc.applyPlan = &allocator.Plan{Operations: []allocator.Operation{{
		ID:        uuid.New(),
		Kind:      allocator.OperationDelegate,
		Validator: v1,
		Account:   testIdentity(201),
	}}}
	b := f.build(t)

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one or more operations failed to execute")

	notified := f.notif.joined()
	assert.Contains(t, notified, "delegate operation for")
	assert.Contains(t, notified, "rejected by ledger")
}

func TestBalancer_TooManyPoorHoldsAndWarns(t *testing.T) {
	f := newFixture()
	f.maxPoor = 20
	b := f.build(t)

	require.NoError(t, b.Run(context.Background()))

	// v2 is held rather than demoted, v1 and v3 still resolve.
	require.Len(t, f.alloc.gotDesired, 2)
	assert.Equal(t, types.StakeStateBonus, findDesired(t, f.alloc.gotDesired, v1).State)
	assert.Equal(t, types.StakeStateBaseline, findDesired(t, f.alloc.gotDesired, v3).State)
	assert.Contains(t, f.notif.joined(), "poor block producers in epoch 41")
}

func TestBalancer_ObserveValidators(t *testing.T) {
	f := newFixture()
	// v1 appears both live and delinquent; the delinquent entry voted later.
	f.ledger.voteAccounts = &ledger.VoteAccounts{
		Current: []ledger.VoteAccountEntry{
			{NodePubkey: v1, VotePubkey: testIdentity(101), Commission: 5, LastVote: 4000, RootSlot: 3990},
			{NodePubkey: v2, VotePubkey: testIdentity(102), Commission: 7, LastVote: 4248, RootSlot: 4240},
		},
		Delinquent: []ledger.VoteAccountEntry{
			{NodePubkey: v1, VotePubkey: testIdentity(111), Commission: 6, LastVote: 4100, RootSlot: 4050},
		},
	}
	b := f.build(t)

	observations, err := b.observeValidators(context.Background())
	require.NoError(t, err)
	require.Len(t, observations, 2)

	// Sorted by identity: v1 before v2.
	first := observations[0]
	assert.Equal(t, v1, first.Identity)
	assert.Equal(t, testIdentity(111), first.VoteAccount)
	assert.Equal(t, uint8(6), first.Commission)
	assert.True(t, first.Delinquent)
	assert.Equal(t, types.Slot(4100), first.LastVoteSlot)
	assert.Equal(t, "1.10.0", first.Version)

	second := observations[1]
	assert.Equal(t, v2, second.Identity)
	assert.False(t, second.Delinquent)
}

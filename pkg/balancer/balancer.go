// Package balancer runs one full rebalancing pass: observe the cluster,
// classify the last finished epoch, resolve desired stake states, translate
// them into ledger operations and submit them. A run is a one-shot job; the
// process exits non-zero when any step is fatal or any submitted operation
// fails to confirm.
package balancer

import (
	"context"
	"fmt"
	"sort"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/blockcache"
	"github.com/Layr-Labs/ballast/pkg/classifier"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/datacenter"
	"github.com/Layr-Labs/ballast/pkg/decision"
	"github.com/Layr-Labs/ballast/pkg/notifier"
	"github.com/Layr-Labs/ballast/pkg/policy"
	"github.com/Layr-Labs/ballast/pkg/submitter"
	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
)

// LedgerSource is the slice of the ledger client the orchestrator consumes
// directly. Sub-components declare their own narrower interfaces.
type LedgerSource interface {
	GetHealth(ctx context.Context) error
	GetEpochInfo(ctx context.Context) (*ledger.EpochInfo, error)
	GetEpochSchedule(ctx context.Context) (*ledger.EpochSchedule, error)
	GetLeaderSchedule(ctx context.Context, slot types.Slot) (map[types.Identity][]uint64, error)
	GetFirstAvailableBlock(ctx context.Context) (types.Slot, error)
	GetVoteAccounts(ctx context.Context) (*ledger.VoteAccounts, error)
	GetClusterNodes(ctx context.Context) ([]ledger.ClusterNode, error)
}

// Config holds the run-level knobs the orchestrator applies itself.
type Config struct {
	// Classifier configures the epoch classification
	Classifier *classifier.Config
	// BadClusterAverageSkipRate is the cluster average skip rate above which
	// the run warns operators
	BadClusterAverageSkipRate int
}

// Components are the wired collaborators of a run. Provider and Versions are
// optional; everything else is required.
type Components struct {
	Ledger        LedgerSource
	Cache         *blockcache.Cache
	Allocator     allocator.Allocator
	Submitter     *submitter.Submitter
	Authority     submitter.Authority
	Notifier      notifier.Notifier
	Engine        *decision.Engine
	Concentration *policy.ConcentrationPolicy
	Provider      datacenter.Provider
	Versions      *policy.VersionPolicy
}

// Balancer executes rebalancing passes over its wired components.
type Balancer struct {
	logger        *zap.Logger
	config        *Config
	ledger        LedgerSource
	cache         *blockcache.Cache
	allocator     allocator.Allocator
	submitter     *submitter.Submitter
	authority     submitter.Authority
	notifier      notifier.Notifier
	engine        *decision.Engine
	concentration *policy.ConcentrationPolicy
	provider      datacenter.Provider
	versions      *policy.VersionPolicy
}

func NewBalancer(cfg *Config, components *Components, logger *zap.Logger) (*Balancer, error) {
	if cfg == nil || cfg.Classifier == nil {
		return nil, fmt.Errorf("cfg and cfg.Classifier cannot be nil")
	}
	if components == nil {
		return nil, fmt.Errorf("components cannot be nil")
	}
	if components.Ledger == nil {
		return nil, fmt.Errorf("components.Ledger cannot be nil")
	}
	if components.Cache == nil {
		return nil, fmt.Errorf("components.Cache cannot be nil")
	}
	if components.Allocator == nil {
		return nil, fmt.Errorf("components.Allocator cannot be nil")
	}
	if components.Submitter == nil {
		return nil, fmt.Errorf("components.Submitter cannot be nil")
	}
	if components.Authority == nil {
		return nil, fmt.Errorf("components.Authority cannot be nil")
	}
	if components.Notifier == nil {
		return nil, fmt.Errorf("components.Notifier cannot be nil")
	}
	if components.Engine == nil {
		return nil, fmt.Errorf("components.Engine cannot be nil")
	}
	if components.Concentration == nil {
		return nil, fmt.Errorf("components.Concentration cannot be nil")
	}
	return &Balancer{
		logger:        logger,
		config:        cfg,
		ledger:        components.Ledger,
		cache:         components.Cache,
		allocator:     components.Allocator,
		submitter:     components.Submitter,
		authority:     components.Authority,
		notifier:      components.Notifier,
		engine:        components.Engine,
		concentration: components.Concentration,
		provider:      components.Provider,
		versions:      components.Versions,
	}, nil
}

// Run executes one rebalancing pass.
func (b *Balancer) Run(ctx context.Context) error {
	sugar := b.logger.Sugar()

	if err := b.ledger.GetHealth(ctx); err != nil {
		return fmt.Errorf("ledger node failed health check: %w", err)
	}

	epochInfo, err := b.ledger.GetEpochInfo(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch epoch info: %w", err)
	}
	if epochInfo.Epoch == 0 {
		return fmt.Errorf("no finished epoch to classify yet")
	}
	classifiedEpoch := epochInfo.Epoch - 1

	schedule, err := b.ledger.GetEpochSchedule(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch epoch schedule: %w", err)
	}
	firstSlot := schedule.FirstSlotInEpoch(classifiedEpoch)
	lastSlot := schedule.LastSlotInEpoch(classifiedEpoch)

	observations, err := b.observeValidators(ctx)
	if err != nil {
		return err
	}
	sugar.Infow("observed cluster",
		"epoch", epochInfo.Epoch,
		"currentSlot", epochInfo.AbsoluteSlot,
		"validators", len(observations),
	)

	// The backend must be usable before anything is decided; allocation
	// against half-created accounts would double-plan on the next run.
	initPlan, err := b.allocator.Init(ctx, b.authority.Identity(), pairsOf(observations), epochInfo)
	if err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", b.allocator.Name(), err)
	}
	if !initPlan.Empty() {
		sugar.Infow("initializing allocation backend",
			"backend", b.allocator.Name(),
			"operations", len(initPlan.Operations),
		)
	}
	initResult, err := b.submitter.Submit(ctx, initPlan, b.authority)
	if err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", b.allocator.Name(), err)
	}
	if !initResult.OK {
		return fmt.Errorf("failed to initialize %s backend: %d setup operations did not confirm",
			b.allocator.Name(), len(initResult.Notices))
	}

	enrolled := make([]types.ValidatorObservation, 0, len(observations))
	for _, observation := range observations {
		if b.allocator.Enrolled(observation.Identity) {
			enrolled = append(enrolled, observation)
		}
	}
	if len(enrolled) == 0 {
		return fmt.Errorf("no enrolled validators observed")
	}

	firstAvailable, err := b.ledger.GetFirstAvailableBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch first available block: %w", err)
	}
	if firstAvailable >= firstSlot {
		return fmt.Errorf("first available block %d is beyond the start of epoch %d (slot %d)",
			firstAvailable, classifiedEpoch, firstSlot)
	}

	leaderSchedule, err := b.ledger.GetLeaderSchedule(ctx, firstSlot)
	if err != nil {
		return fmt.Errorf("failed to fetch leader schedule for epoch %d: %w", classifiedEpoch, err)
	}
	confirmed, err := b.cache.ConfirmedBlocks(ctx, firstSlot, lastSlot)
	if err != nil {
		return fmt.Errorf("failed to resolve confirmed blocks for epoch %d: %w", classifiedEpoch, err)
	}
	classification, err := classifier.Classify(firstSlot, confirmed, leaderSchedule, b.config.Classifier)
	if err != nil {
		return fmt.Errorf("failed to classify epoch %d: %w", classifiedEpoch, err)
	}
	sugar.Infow("classified epoch", "epoch", classifiedEpoch, "summary", classification.Describe())

	if err := b.cache.Prune(ctx, firstAvailable); err != nil {
		sugar.Warnw("failed to prune block cache", "error", err.Error())
	}

	var notifications []string
	seen := map[string]bool{}
	notify := func(line string) {
		if line == "" || seen[line] {
			return
		}
		seen[line] = true
		notifications = append(notifications, line)
	}

	notify(fmt.Sprintf("Epoch %d classification: %s", classifiedEpoch, classification.Describe()))
	if classification.ClusterAverageSkipRate > b.config.BadClusterAverageSkipRate {
		notify(fmt.Sprintf("Cluster average skip rate: %d is above threshold: %d",
			classification.ClusterAverageSkipRate, b.config.BadClusterAverageSkipRate))
	}
	if classification.TooManyPoor {
		notify(fmt.Sprintf("Over %d%% of validators classified as poor block producers in epoch %d",
			b.config.Classifier.MaxPoorBlockProducerPercentage, classifiedEpoch))
	}

	staleVersions := map[types.Identity]bool{}
	staleOverRepresented := false
	if b.versions != nil && b.versions.Enabled() {
		versionsByIdentity := make(map[types.Identity]string, len(enrolled))
		for _, observation := range enrolled {
			versionsByIdentity[observation.Identity] = observation.Version
		}
		staleVersions = b.versions.StaleIdentities(versionsByIdentity)
		classified := len(classification.Quality) + len(classification.Poor)
		staleOverRepresented = b.versions.OverRepresented(len(staleVersions), classified)
		if staleOverRepresented {
			notify(fmt.Sprintf("Over %d%% of validators classified as running an older release",
				b.versions.MaxStalePercentage))
		}
	}

	concentrations := map[types.Identity]datacenter.Concentration{}
	if b.provider != nil {
		fetched, err := b.provider.Concentrations(ctx)
		if err != nil {
			// A missing concentration map must not silently skip destakes.
			if b.concentration.Mode != policy.ConcentrationWarnAll {
				return fmt.Errorf("failed to fetch datacenter concentrations: %w", err)
			}
			sugar.Warnw("failed to fetch datacenter concentrations, continuing without them",
				"error", err.Error(),
			)
		} else {
			concentrations = fetched
		}
	}

	desired, notices := b.engine.Decide(&decision.Inputs{
		CurrentSlot:          epochInfo.AbsoluteSlot,
		ClassifiedEpoch:      classifiedEpoch,
		Classification:       classification,
		Observations:         enrolled,
		Concentrations:       concentrations,
		StaleVersions:        staleVersions,
		StaleOverRepresented: staleOverRepresented,
	})
	for _, notice := range notices {
		notify(notice)
	}
	for _, decided := range desired {
		if decided.State == types.StakeStateNone {
			notify(decided.Memo)
		}
	}
	sugar.Infow("resolved desired stake states",
		"decided", len(desired),
		"held", len(enrolled)-len(desired),
	)

	plan, err := b.allocator.Apply(ctx, b.authority.Identity(), desired)
	if err != nil {
		return fmt.Errorf("failed to compute allocation plan: %w", err)
	}
	for _, op := range plan.Operations {
		notify(op.Memo)
	}
	sugar.Infow("computed allocation plan",
		"backend", b.allocator.Name(),
		"operations", len(plan.Operations),
	)

	result, err := b.submitter.Submit(ctx, plan, b.authority)
	if err != nil {
		return err
	}
	for _, notice := range result.Notices {
		notify(notice)
	}

	if err := b.notifier.Send(ctx, notifications); err != nil {
		sugar.Warnw("failed to deliver notifications", "error", err.Error())
	}

	if !result.OK {
		return fmt.Errorf("one or more operations failed to execute")
	}
	return nil
}

// observeValidators merges the vote account listing with gossip metadata into
// one observation per identity. An identity reported both live and delinquent
// keeps whichever entry voted most recently.
func (b *Balancer) observeValidators(ctx context.Context) ([]types.ValidatorObservation, error) {
	voteAccounts, err := b.ledger.GetVoteAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vote accounts: %w", err)
	}
	nodes, err := b.ledger.GetClusterNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cluster nodes: %w", err)
	}
	versions := make(map[types.Identity]string, len(nodes))
	for _, node := range nodes {
		versions[node.Pubkey] = node.Version
	}

	best := make(map[types.Identity]types.ValidatorObservation)
	consider := func(entry ledger.VoteAccountEntry, delinquent bool) {
		if existing, ok := best[entry.NodePubkey]; ok && existing.LastVoteSlot >= entry.LastVote {
			return
		}
		best[entry.NodePubkey] = types.ValidatorObservation{
			Identity:     entry.NodePubkey,
			VoteAccount:  entry.VotePubkey,
			Commission:   entry.Commission,
			LastVoteSlot: entry.LastVote,
			RootSlot:     entry.RootSlot,
			Version:      versions[entry.NodePubkey],
			Delinquent:   delinquent,
		}
	}
	for _, entry := range voteAccounts.Current {
		consider(entry, false)
	}
	for _, entry := range voteAccounts.Delinquent {
		consider(entry, true)
	}

	observations := make([]types.ValidatorObservation, 0, len(best))
	for _, observation := range best {
		observations = append(observations, observation)
	}
	sort.Slice(observations, func(i, j int) bool {
		return observations[i].Identity.String() < observations[j].Identity.String()
	})
	return observations, nil
}

func pairsOf(observations []types.ValidatorObservation) []types.ValidatorPair {
	pairs := make([]types.ValidatorPair, 0, len(observations))
	for _, observation := range observations {
		pairs = append(pairs, types.ValidatorPair{
			Identity:    observation.Identity,
			VoteAccount: observation.VoteAccount,
		})
	}
	return pairs
}

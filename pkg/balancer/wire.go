package balancer

import (
	"context"
	"fmt"
	"sort"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/allocator/poolAllocator"
	"github.com/Layr-Labs/ballast/pkg/allocator/reserveAllocator"
	"github.com/Layr-Labs/ballast/pkg/balancer/balancerConfig"
	"github.com/Layr-Labs/ballast/pkg/blockcache"
	"github.com/Layr-Labs/ballast/pkg/blockcache/badger"
	"github.com/Layr-Labs/ballast/pkg/blockcache/memory"
	"github.com/Layr-Labs/ballast/pkg/classifier"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/config"
	"github.com/Layr-Labs/ballast/pkg/datacenter"
	"github.com/Layr-Labs/ballast/pkg/decision"
	"github.com/Layr-Labs/ballast/pkg/keys"
	"github.com/Layr-Labs/ballast/pkg/keys/keystore"
	"github.com/Layr-Labs/ballast/pkg/notifier"
	"github.com/Layr-Labs/ballast/pkg/policy"
	"github.com/Layr-Labs/ballast/pkg/registry"
	"github.com/Layr-Labs/ballast/pkg/submitter"
	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
)

// Wire builds a Balancer and its collaborators from configuration. The
// returned cleanup function closes the block store and must run after the
// last Run call.
func Wire(ctx context.Context, cfg *balancerConfig.BalancerConfig, logger *zap.Logger) (*Balancer, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		return nil, nil, fmt.Errorf("logger cannot be nil")
	}

	client, err := ledger.NewClient(&ledger.Config{
		BaseURL:           cfg.RpcUrl,
		Timeout:           ledger.DefaultConfig().Timeout,
		RequestsPerSecond: cfg.RpcRequestsPerSec,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build ledger client: %w", err)
	}

	var store blockcache.BlockStore
	if cfg.CacheDir != "" {
		store, err = badger.NewBadgerBlockStore(&badger.Config{Dir: cfg.CacheDir})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open block cache at %s: %w", cfg.CacheDir, err)
		}
	} else {
		store = memory.NewInMemoryBlockStore()
		logger.Sugar().Warnw("no cache directory configured, confirmed blocks will be refetched every run")
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Sugar().Warnw("failed to close block store", "error", err.Error())
		}
	}
	fail := func(err error) (*Balancer, func(), error) {
		cleanup()
		return nil, nil, err
	}

	cache := blockcache.NewCache(store, client, cfg.Cluster, logger)

	affects := cfg.InfraConcentrationAffects
	maxConcentration := cfg.MaxInfraConcentration
	if !cfg.ConcentrationEnabled() {
		affects = "warn"
		maxConcentration = 100
	}
	concentration, err := policy.ParseConcentrationPolicy(affects, maxConcentration)
	if err != nil {
		return fail(err)
	}
	versions, err := policy.ParseVersionPolicy(cfg.MinReleaseVersion, cfg.MaxOldReleaseVersionPercentage)
	if err != nil {
		return fail(err)
	}

	engine, err := decision.NewEngine(
		&decision.Config{
			DelinquentGraceSlotDistance: types.Slot(cfg.DelinquentGraceSlotDistance),
			RecentSlotDistance:          types.Slot(cfg.RecentSlotDistance),
		},
		concentration,
		policy.CommissionPolicy{MaxCommission: uint8(cfg.MaxCommission)},
		logger,
	)
	if err != nil {
		return fail(err)
	}

	backend, err := buildAllocator(ctx, cfg, client, logger)
	if err != nil {
		return fail(err)
	}

	submitterConfig := submitter.DefaultConfig()
	submitterConfig.DryRun = cfg.DryRun
	submit, err := submitter.NewSubmitter(submitterConfig, client, logger)
	if err != nil {
		return fail(err)
	}

	authority, err := buildAuthority(cfg, logger)
	if err != nil {
		return fail(err)
	}

	sink, err := buildNotifier(cfg, logger)
	if err != nil {
		return fail(err)
	}

	var provider datacenter.Provider
	if cfg.ConcentrationEnabled() {
		provider, err = datacenter.NewWebProvider(&datacenter.WebConfig{
			BaseURL: cfg.DataCenterBaseUrl,
			Token:   cfg.DataCenterToken,
			Cluster: cfg.Cluster,
		}, logger)
		if err != nil {
			return fail(err)
		}
	}

	balancer, err := NewBalancer(
		&Config{
			Classifier: &classifier.Config{
				QualityBlockProducerPercentage: cfg.QualityBlockProducerPercentage,
				MaxPoorBlockProducerPercentage: cfg.MaxPoorBlockProducerPercentage,
				UseClusterAverageSkipRate:      cfg.UseClusterAverageSkipRate,
			},
			BadClusterAverageSkipRate: cfg.BadClusterAverageSkipRate,
		},
		&Components{
			Ledger:        client,
			Cache:         cache,
			Allocator:     backend,
			Submitter:     submit,
			Authority:     authority,
			Notifier:      sink,
			Engine:        engine,
			Concentration: concentration,
			Provider:      provider,
			Versions:      versions,
		},
		logger,
	)
	if err != nil {
		return fail(err)
	}
	return balancer, cleanup, nil
}

// buildAllocator constructs the configured backend variant. The reserve
// backend's enrollment universe is the configured validator list merged with
// approved registry participants when a registry program is set.
func buildAllocator(ctx context.Context, cfg *balancerConfig.BalancerConfig, client *ledger.Client, logger *zap.Logger) (allocator.Allocator, error) {
	switch cfg.Backend {
	case "pool":
		pool, err := types.ParseIdentity(cfg.PoolAddress)
		if err != nil {
			return nil, fmt.Errorf("invalid pool address: %w", err)
		}
		return poolAllocator.NewPoolAllocator(&poolAllocator.Config{
			PoolAddress:         pool,
			BaselineStakeAmount: cfg.BaselineStakeUnits(),
		}, client, logger)

	case "reserve":
		source, err := types.ParseIdentity(cfg.SourceAccount)
		if err != nil {
			return nil, fmt.Errorf("invalid source account: %w", err)
		}
		enrolled := make(map[types.Identity]bool)
		for _, entry := range cfg.ValidatorList {
			identity, err := types.ParseIdentity(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid validator list entry: %w", err)
			}
			enrolled[identity] = true
		}
		if cfg.RegistryProgram != "" {
			program, err := types.ParseIdentity(cfg.RegistryProgram)
			if err != nil {
				return nil, fmt.Errorf("invalid registry program: %w", err)
			}
			registryClient, err := registry.NewClient(client, program, logger)
			if err != nil {
				return nil, err
			}
			approved, err := registryClient.ApprovedIdentities(ctx, config.Cluster(cfg.Cluster))
			if err != nil {
				return nil, fmt.Errorf("failed to fetch approved participants: %w", err)
			}
			for identity := range approved {
				enrolled[identity] = true
			}
			logger.Sugar().Infow("merged registry participants into enrollment",
				"approved", len(approved),
				"enrolled", len(enrolled),
			)
		}
		if len(enrolled) == 0 {
			return nil, fmt.Errorf("reserve backend enrollment is empty")
		}
		validators := make([]types.Identity, 0, len(enrolled))
		for identity := range enrolled {
			validators = append(validators, identity)
		}
		sort.Slice(validators, func(i, j int) bool {
			return validators[i].String() < validators[j].String()
		})
		return reserveAllocator.NewReserveAllocator(&reserveAllocator.Config{
			SourceAccount:       source,
			BaselineStakeAmount: cfg.BaselineStakeUnits(),
			BonusStakeAmount:    cfg.BonusStakeUnits(),
			Validators:          validators,
		}, client, logger)

	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func buildAuthority(cfg *balancerConfig.BalancerConfig, logger *zap.Logger) (submitter.Authority, error) {
	if cfg.AuthorityKeystore != "" {
		keypair, err := keystore.Load(cfg.AuthorityKeystore, cfg.AuthorityPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load authority keystore: %w", err)
		}
		logger.Sugar().Infow("loaded authority keystore", "identity", keypair.Identity().String())
		return keypair, nil
	}
	if !cfg.DryRun {
		return nil, fmt.Errorf("live runs require an authority keystore")
	}
	keypair, err := keys.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	logger.Sugar().Infow("no keystore configured, using an ephemeral keypair for the dry run",
		"identity", keypair.Identity().String(),
	)
	return keypair, nil
}

func buildNotifier(cfg *balancerConfig.BalancerConfig, logger *zap.Logger) (notifier.Notifier, error) {
	logSink, err := notifier.NewLogNotifier(logger)
	if err != nil {
		return nil, err
	}
	sink := logSink
	if cfg.WebhookUrl != "" {
		webhook, err := notifier.NewWebhookNotifier(logger, cfg.WebhookUrl, 0)
		if err != nil {
			return nil, err
		}
		sink = notifier.NewMultiNotifier(logSink, webhook)
	}
	if cfg.DryRun {
		sink = notifier.WithPrefix(sink, "[DRYRUN]")
	}
	return sink, nil
}

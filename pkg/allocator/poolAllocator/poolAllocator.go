// Package poolAllocator implements the allocation backend over a single
// shared pool account. The pool tracks a slice of stake per member validator
// plus an undelegated reserve; rebalancing moves stake between the reserve
// and individual slices. Membership itself is managed by registry tooling,
// not by the balancer, so the enrollment universe is whatever the pool
// reports at init time.
package poolAllocator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the pool backend parameters.
type Config struct {
	// PoolAddress is the shared pool account
	PoolAddress types.Identity
	// BaselineStakeAmount is the per-validator baseline slice in base units
	BaselineStakeAmount uint64
}

// PoolAllocator implements allocator.Allocator over a shared pool account.
type PoolAllocator struct {
	logger   *zap.Logger
	config   *Config
	reader   allocator.ChainReader
	enrolled map[types.Identity]bool
}

func NewPoolAllocator(cfg *Config, reader allocator.ChainReader, logger *zap.Logger) (*PoolAllocator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if cfg.PoolAddress.IsZero() {
		return nil, fmt.Errorf("cfg.PoolAddress cannot be zero")
	}
	if cfg.BaselineStakeAmount == 0 {
		return nil, fmt.Errorf("cfg.BaselineStakeAmount cannot be zero")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &PoolAllocator{
		logger:   logger,
		config:   cfg,
		reader:   reader,
		enrolled: map[types.Identity]bool{},
	}, nil
}

func (p *PoolAllocator) Name() string {
	return "pool"
}

func (p *PoolAllocator) Enrolled(identity types.Identity) bool {
	return p.enrolled[identity]
}

// Init verifies the pool account exists and records its membership as the
// enrollment universe. The pool program owns all per-validator bookkeeping,
// so no setup operations are ever needed and the returned plan is empty.
func (p *PoolAllocator) Init(ctx context.Context, authority types.Identity, validators []types.ValidatorPair, _ *ledger.EpochInfo) (*allocator.Plan, error) {
	info, err := p.reader.GetPoolInfo(ctx, p.config.PoolAddress)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, fmt.Errorf("pool account %s does not exist", p.config.PoolAddress)
		}
		return nil, fmt.Errorf("failed to fetch pool info: %w", err)
	}

	p.enrolled = make(map[types.Identity]bool, len(info.Validators))
	for _, member := range info.Validators {
		p.enrolled[member.Identity] = true
	}
	p.logger.Sugar().Infow("initialized pool backend",
		"pool", p.config.PoolAddress.String(),
		"members", len(p.enrolled),
		"reserve", types.FormatTokens(info.ReserveBalance),
	)
	return &allocator.Plan{}, nil
}

// Apply rebalances member slices toward the desired states. Baseline members
// converge on the configured baseline amount; the pool's remaining value is
// split evenly across bonus members; destaked members drop to zero. Members
// with no desired state this run keep their current slice, and their stake is
// excluded from the bonus split.
func (p *PoolAllocator) Apply(ctx context.Context, authority types.Identity, desired []types.DesiredStake) (*allocator.Plan, error) {
	info, err := p.reader.GetPoolInfo(ctx, p.config.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool info: %w", err)
	}

	current := make(map[types.Identity]uint64, len(info.Validators))
	members := make(map[types.Identity]bool, len(info.Validators))
	total := info.ReserveBalance
	for _, member := range info.Validators {
		current[member.Identity] = member.ActiveAmount
		members[member.Identity] = true
		total += member.ActiveAmount
	}

	wanted := make([]types.DesiredStake, 0, len(desired))
	decidedFor := make(map[types.Identity]bool, len(desired))
	baselineCount := uint64(0)
	bonusCount := uint64(0)
	for _, want := range desired {
		if !members[want.Validator] {
			p.logger.Sugar().Warnw("skipping desired state for validator outside the pool",
				"identity", want.Validator.String(),
			)
			continue
		}
		wanted = append(wanted, want)
		decidedFor[want.Validator] = true
		switch want.State {
		case types.StakeStateBaseline:
			baselineCount++
		case types.StakeStateBonus:
			bonusCount++
		}
	}

	// Stake held by members without a decision this run stays where it is
	// and cannot be redistributed.
	heldTotal := uint64(0)
	for identity, amount := range current {
		if !decidedFor[identity] {
			heldTotal += amount
		}
	}

	bonusTarget := uint64(0)
	if bonusCount > 0 {
		available := saturatingSub(total, p.config.BaselineStakeAmount*baselineCount+heldTotal)
		bonusTarget = available / bonusCount
		if bonusTarget < p.config.BaselineStakeAmount {
			p.logger.Sugar().Warnw("pool cannot fund a bonus above the baseline",
				"available", types.FormatTokens(available),
				"bonusValidators", bonusCount,
			)
			bonusTarget = p.config.BaselineStakeAmount
		}
	}

	plan := &allocator.Plan{}
	for _, want := range wanted {
		target := uint64(0)
		switch want.State {
		case types.StakeStateBaseline:
			target = p.config.BaselineStakeAmount
		case types.StakeStateBonus:
			target = bonusTarget
		}

		have := current[want.Validator]
		if have == target {
			continue
		}
		kind := allocator.OperationIncreaseStake
		var amount uint64
		if have > target {
			kind = allocator.OperationDecreaseStake
			amount = have - target
		} else {
			amount = target - have
		}
		plan.Operations = append(plan.Operations, allocator.Operation{
			ID:          uuid.New(),
			Kind:        kind,
			Validator:   want.Validator,
			Account:     p.config.PoolAddress,
			VoteAccount: want.VoteAccount,
			Amount:      amount,
			Memo:        want.Memo,
		})
	}
	return plan, nil
}

func saturatingSub(a uint64, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

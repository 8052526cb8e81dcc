// Package reserveAllocator manages one pair of stake accounts per enrolled
// validator, carved from a single funding source: a baseline account that is
// delegated whenever the validator is in good standing and a bonus account
// that is only delegated for quality block producers. Account addresses are
// derived deterministically from the source account, the validator identity
// and the tier, so repeated runs always observe and converge the same
// accounts.
package reserveAllocator

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/allocator"
	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	tierBaseline = "baseline"
	tierBonus    = "bonus"

	// stakeAccountSize is the ledger's stake account data length, used for
	// rent exemption sizing.
	stakeAccountSize = 200
)

// Config holds the reserve backend parameters.
type Config struct {
	// SourceAccount is the funding source stake accounts are carved from
	SourceAccount types.Identity
	// BaselineStakeAmount is the baseline tier size in base units
	BaselineStakeAmount uint64
	// BonusStakeAmount is the bonus tier size in base units
	BonusStakeAmount uint64
	// Validators is the enrollment universe
	Validators []types.Identity
}

// ReserveAllocator implements allocator.Allocator over per-validator derived
// stake accounts.
type ReserveAllocator struct {
	logger   *zap.Logger
	config   *Config
	reader   allocator.ChainReader
	enrolled map[types.Identity]bool
}

func NewReserveAllocator(cfg *Config, reader allocator.ChainReader, logger *zap.Logger) (*ReserveAllocator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if cfg.SourceAccount.IsZero() {
		return nil, fmt.Errorf("cfg.SourceAccount cannot be zero")
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
	enrolled := make(map[types.Identity]bool, len(cfg.Validators))
	for _, validator := range cfg.Validators {
		enrolled[validator] = true
	}
	return &ReserveAllocator{
		logger:   logger,
		config:   cfg,
		reader:   reader,
		enrolled: enrolled,
	}, nil
}

func (r *ReserveAllocator) Name() string {
	return "reserve"
}

func (r *ReserveAllocator) Enrolled(identity types.Identity) bool {
	return r.enrolled[identity]
}

// StakeAccount derives the address of a validator's stake account for a
// tier. The derivation is a hash over the source account, the validator and
// the tier name.
func (r *ReserveAllocator) StakeAccount(validator types.Identity, tier string) types.Identity {
	h := sha256.New()
	h.Write(r.config.SourceAccount.Bytes())
	h.Write(validator.Bytes())
	h.Write([]byte(tier))
	var account types.Identity
	copy(account[:], h.Sum(nil))
	return account
}

// Init ensures both tier accounts exist for every enrolled validator in the
// observed set. Newly created baseline accounts are delegated immediately;
// bonus accounts rest undelegated until the validator earns one. Creation is
// funded from the source account, and a source balance short of the planned
// draws fails the whole run before any operation is submitted.
func (r *ReserveAllocator) Init(ctx context.Context, authority types.Identity, validators []types.ValidatorPair, _ *ledger.EpochInfo) (*allocator.Plan, error) {
	rent, err := r.reader.GetMinimumBalanceForRentExemption(ctx, stakeAccountSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rent exemption: %w", err)
	}

	plan := &allocator.Plan{}
	var required uint64
	for _, pair := range validators {
		if !r.enrolled[pair.Identity] {
			continue
		}

		baselineAccount := r.StakeAccount(pair.Identity, tierBaseline)
		exists, err := r.accountExists(ctx, baselineAccount)
		if err != nil {
			return nil, err
		}
		if !exists {
			plan.Operations = append(plan.Operations,
				allocator.Operation{
					ID:        uuid.New(),
					Kind:      allocator.OperationCreateAccount,
					Validator: pair.Identity,
					Account:   baselineAccount,
					Amount:    r.config.BaselineStakeAmount + rent,
					Memo:      fmt.Sprintf("create baseline stake account for %s", pair.Identity),
				},
				allocator.Operation{
					ID:          uuid.New(),
					Kind:        allocator.OperationDelegate,
					Validator:   pair.Identity,
					Account:     baselineAccount,
					VoteAccount: pair.VoteAccount,
					Amount:      r.config.BaselineStakeAmount,
					Memo:        fmt.Sprintf("delegate baseline stake for %s", pair.Identity),
				},
			)
			required += r.config.BaselineStakeAmount + rent
		}

		bonusAccount := r.StakeAccount(pair.Identity, tierBonus)
		exists, err = r.accountExists(ctx, bonusAccount)
		if err != nil {
			return nil, err
		}
		if !exists {
			plan.Operations = append(plan.Operations, allocator.Operation{
				ID:        uuid.New(),
				Kind:      allocator.OperationCreateAccount,
				Validator: pair.Identity,
				Account:   bonusAccount,
				Amount:    r.config.BonusStakeAmount + rent,
				Memo:      fmt.Sprintf("create bonus stake account for %s", pair.Identity),
			})
			required += r.config.BonusStakeAmount + rent
		}
	}

	if required > 0 {
		available, err := r.reader.GetBalance(ctx, r.config.SourceAccount)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch source account balance: %w", err)
		}
		if available < required {
			return nil, fmt.Errorf("source account %s has insufficient funds: %s required, %s available",
				r.config.SourceAccount, types.FormatTokens(required), types.FormatTokens(available))
		}
	}

	r.logger.Sugar().Infow("initialized reserve backend",
		"enrolled", len(r.enrolled),
		"observed", len(validators),
		"setupOperations", len(plan.Operations),
	)
	return plan, nil
}

// Apply converges each validator's tier delegations to its desired state.
// Accounts missing on the ledger are planned against their post-init resting
// state, so a dry run straight after first initialization produces the same
// operations a second live run would.
func (r *ReserveAllocator) Apply(ctx context.Context, authority types.Identity, desired []types.DesiredStake) (*allocator.Plan, error) {
	plan := &allocator.Plan{}
	for _, want := range desired {
		if !r.enrolled[want.Validator] {
			r.logger.Sugar().Warnw("skipping desired state for non-enrolled validator",
				"identity", want.Validator.String(),
			)
			continue
		}

		baselineActive, err := r.delegationActive(ctx, r.StakeAccount(want.Validator, tierBaseline), true)
		if err != nil {
			return nil, err
		}
		bonusActive, err := r.delegationActive(ctx, r.StakeAccount(want.Validator, tierBonus), false)
		if err != nil {
			return nil, err
		}

		wantBaseline := want.State == types.StakeStateBaseline || want.State == types.StakeStateBonus
		wantBonus := want.State == types.StakeStateBonus

		r.appendTransition(plan, want, tierBaseline, r.config.BaselineStakeAmount, baselineActive, wantBaseline)
		r.appendTransition(plan, want, tierBonus, r.config.BonusStakeAmount, bonusActive, wantBonus)
	}
	return plan, nil
}

func (r *ReserveAllocator) appendTransition(plan *allocator.Plan, want types.DesiredStake, tier string, amount uint64, active bool, shouldBeActive bool) {
	if active == shouldBeActive {
		return
	}
	op := allocator.Operation{
		ID:        uuid.New(),
		Kind:      allocator.OperationDeactivate,
		Validator: want.Validator,
		Account:   r.StakeAccount(want.Validator, tier),
		Amount:    amount,
		Memo:      want.Memo,
	}
	if shouldBeActive {
		op.Kind = allocator.OperationDelegate
		op.VoteAccount = want.VoteAccount
	}
	plan.Operations = append(plan.Operations, op)
}

func (r *ReserveAllocator) accountExists(ctx context.Context, account types.Identity) (bool, error) {
	_, err := r.reader.GetStakeAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch stake account %s: %w", account, err)
	}
	return true, nil
}

// delegationActive reports whether the account is currently delegated and not
// cooling down. Missing accounts report their post-init resting state:
// delegated for the baseline tier, undelegated for the bonus tier.
func (r *ReserveAllocator) delegationActive(ctx context.Context, account types.Identity, restingActive bool) (bool, error) {
	info, err := r.reader.GetStakeAccount(ctx, account)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return restingActive, nil
		}
		return false, fmt.Errorf("failed to fetch stake account %s: %w", account, err)
	}
	return info.Delegation != nil && !info.Delegation.Deactivating, nil
}

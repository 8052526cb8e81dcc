// Package allocator defines the allocation backend contract: turning desired
// stake states into an ordered plan of ledger operations. Two backends
// implement it, a shared pool account (poolAllocator) and per-validator
// accounts carved from a fixed reserve (reserveAllocator). The decision
// engine and the submission pipeline are written against this package only
// and never against a concrete backend.
package allocator

import (
	"context"

	"github.com/Layr-Labs/ballast/pkg/clients/ledger"
	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/google/uuid"
)

// OperationKind enumerates the atomic ledger mutations a plan can carry.
type OperationKind string

const (
	// OperationCreateAccount creates and funds a stake account
	OperationCreateAccount OperationKind = "create_account"
	// OperationDelegate points a stake account at a validator's vote account
	OperationDelegate OperationKind = "delegate"
	// OperationDeactivate begins cooldown of a delegated stake account
	OperationDeactivate OperationKind = "deactivate"
	// OperationIncreaseStake moves stake from the pool reserve to a validator
	OperationIncreaseStake OperationKind = "increase_stake"
	// OperationDecreaseStake moves stake from a validator back to the pool
	// reserve
	OperationDecreaseStake OperationKind = "decrease_stake"
)

// Operation is one atomic ledger mutation. Operations touching the same
// validator are order-dependent (an account must exist before it can be
// delegated); operations for distinct validators are independent.
type Operation struct {
	// ID uniquely identifies the operation within a run
	ID uuid.UUID
	// Kind is the mutation to perform
	Kind OperationKind
	// Validator is the affected validator's identity
	Validator types.Identity
	// Account is the stake or pool account operated on
	Account types.Identity
	// VoteAccount is the delegation target, zero unless Kind delegates or
	// adjusts delegated stake
	VoteAccount types.Identity
	// Amount is the base units moved, zero when the kind moves none
	Amount uint64
	// Memo is the human-readable rationale carried into notifications
	Memo string
}

// Plan is an ordered sequence of operations produced by one backend call and
// consumed by the submission pipeline.
type Plan struct {
	Operations []Operation
}

// Empty reports whether the plan carries no operations.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Operations) == 0
}

// ByValidator groups operations by affected validator, preserving each
// group's relative order. Groups are independent of each other and safe to
// submit in parallel.
func (p *Plan) ByValidator() map[types.Identity][]Operation {
	groups := make(map[types.Identity][]Operation)
	if p == nil {
		return groups
	}
	for _, op := range p.Operations {
		groups[op.Validator] = append(groups[op.Validator], op)
	}
	return groups
}

// ChainReader is the read-only slice of the ledger client backends use to
// observe current allocation state.
type ChainReader interface {
	GetStakeAccount(ctx context.Context, id types.Identity) (*ledger.StakeAccountInfo, error)
	GetPoolInfo(ctx context.Context, pool types.Identity) (*ledger.PoolInfo, error)
	GetBalance(ctx context.Context, id types.Identity) (uint64, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (uint64, error)
}

// Allocator is the backend contract. Init must run once per invocation
// before Enrolled or Apply; both plan-producing calls are idempotent, so
// re-running against already-converged ledger state yields an empty plan.
type Allocator interface {
	// Name identifies the backend in logs and notifications
	Name() string

	// Init returns the setup operations required before allocation can
	// proceed and records the backend's enrollment universe from the
	// observed validators
	Init(ctx context.Context, authority types.Identity, validators []types.ValidatorPair, epoch *ledger.EpochInfo) (*Plan, error)

	// Enrolled reports whether a validator participates in this backend's
	// allocation universe
	Enrolled(identity types.Identity) bool

	// Apply computes the minimal operations transitioning current on-ledger
	// allocation to the desired states
	Apply(ctx context.Context, authority types.Identity, desired []types.DesiredStake) (*Plan, error)
}

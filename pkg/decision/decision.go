// Package decision resolves each enrolled validator's observed behavior into
// a desired stake state.
//
// Rules are evaluated in strict precedence order and short-circuit at the
// first match: infrastructure concentration, commission ceiling, stale
// software release, delinquency beyond the grace distance, a hold for
// recently delinquent validators, then the epoch classification. Safety and
// compliance destakes always dominate performance bonuses. A validator can
// also resolve to no decision at all, in which case its current allocation is
// left untouched for this run and no entry is produced.
package decision

import (
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/classifier"
	"github.com/Layr-Labs/ballast/pkg/datacenter"
	"github.com/Layr-Labs/ballast/pkg/policy"
	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
)

// Config holds the delinquency thresholds. Both distances are measured from
// the current absolute slot back to the validator's last confirmed root slot
// and are deliberately distinct: falling behind the recent distance only
// pauses changes, falling behind the grace distance removes stake.
type Config struct {
	// DelinquentGraceSlotDistance is how far a root slot may trail the
	// current slot before the validator is destaked
	DelinquentGraceSlotDistance types.Slot
	// RecentSlotDistance is how far a root slot may trail the current slot
	// before the validator is held at its current allocation
	RecentSlotDistance types.Slot
}

// DefaultConfig returns the default delinquency thresholds.
func DefaultConfig() *Config {
	return &Config{
		DelinquentGraceSlotDistance: 21600,
		RecentSlotDistance:          256,
	}
}

// Inputs is the full observed state for one run.
type Inputs struct {
	// CurrentSlot is the cluster's current absolute slot
	CurrentSlot types.Slot
	// ClassifiedEpoch is the completed epoch the classification covers
	ClassifiedEpoch types.Epoch
	// Classification partitions block producers of ClassifiedEpoch
	Classification *classifier.Classification
	// Observations are the enrolled validators' vote account snapshots,
	// de-duplicated to one entry per identity
	Observations []types.ValidatorObservation
	// Concentrations maps validators to their datacenter stake share
	Concentrations map[types.Identity]datacenter.Concentration
	// StaleVersions marks validators running a release older than the
	// configured minimum
	StaleVersions map[types.Identity]bool
	// StaleOverRepresented disables stale destaking for this run because
	// too much of the cluster is behind at once
	StaleOverRepresented bool
}

// Engine applies the risk policies and the epoch classification to produce
// desired stake states.
type Engine struct {
	logger        *zap.Logger
	config        *Config
	concentration *policy.ConcentrationPolicy
	commission    policy.CommissionPolicy
}

func NewEngine(
	cfg *Config,
	concentration *policy.ConcentrationPolicy,
	commission policy.CommissionPolicy,
	logger *zap.Logger,
) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if concentration == nil {
		return nil, fmt.Errorf("concentration policy cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Engine{
		logger:        logger,
		config:        cfg,
		concentration: concentration,
		commission:    commission,
	}, nil
}

// Decide resolves every observed validator and returns the desired stake
// states alongside operator notification lines. Validators resolving to no
// decision contribute neither.
func (e *Engine) Decide(inputs *Inputs) ([]types.DesiredStake, []string) {
	quality := map[types.Identity]bool{}
	poor := map[types.Identity]bool{}
	tooManyPoor := false
	if inputs.Classification != nil {
		quality = inputs.Classification.Quality
		poor = inputs.Classification.Poor
		tooManyPoor = inputs.Classification.TooManyPoor
	}

	graceThreshold := saturatingSub(inputs.CurrentSlot, e.config.DelinquentGraceSlotDistance)
	recentThreshold := saturatingSub(inputs.CurrentSlot, e.config.RecentSlotDistance)

	var desired []types.DesiredStake
	var notices []string
	for _, observation := range inputs.Observations {
		var concentrationMemo string
		if concentration, ok := inputs.Concentrations[observation.Identity]; ok {
			if verdict, affected := e.concentration.Evaluate(observation.Identity, concentration.StakePercent); affected {
				if verdict.Destake {
					concentrationMemo = verdict.Memo
				} else {
					notices = append(notices, verdict.Memo)
				}
			}
		}
		commissionVerdict, commissionDestake := e.commission.Evaluate(observation.Identity, observation.Commission)

		state := types.StakeStateNone
		memo := ""
		decided := true
		switch {
		case concentrationMemo != "":
			memo = concentrationMemo

		case commissionDestake:
			memo = commissionVerdict.Memo

		case !inputs.StaleOverRepresented && inputs.StaleVersions[observation.Identity]:
			memo = fmt.Sprintf("%s is running an old software release", observation.Identity)

		case observation.RootSlot < graceThreshold:
			memo = fmt.Sprintf("%s is delinquent", observation.Identity)

		// Delinquent but within the grace distance. Take no action.
		case observation.RootSlot < recentThreshold:
			decided = false

		case quality[observation.Identity]:
			state = types.StakeStateBonus
			memo = fmt.Sprintf("%s was a quality block producer during epoch %d", observation.Identity, inputs.ClassifiedEpoch)

		case poor[observation.Identity]:
			if tooManyPoor {
				decided = false
			} else {
				state = types.StakeStateBaseline
				memo = fmt.Sprintf("%s was a poor block producer during epoch %d", observation.Identity, inputs.ClassifiedEpoch)
			}

		default:
			state = types.StakeStateBaseline
			memo = fmt.Sprintf("%s is current", observation.Identity)
		}

		resolution := "hold"
		if decided {
			resolution = state.String()
			desired = append(desired, types.DesiredStake{
				Validator:   observation.Identity,
				VoteAccount: observation.VoteAccount,
				State:       state,
				Memo:        memo,
			})
		}
		e.logger.Sugar().Debugw("resolved validator",
			"identity", observation.Identity.String(),
			"voteAccount", observation.VoteAccount.String(),
			"rootSlot", observation.RootSlot,
			"resolution", resolution,
			"memo", memo,
		)
	}
	return desired, notices
}

func saturatingSub(a types.Slot, b types.Slot) types.Slot {
	if b >= a {
		return 0
	}
	return a - b
}

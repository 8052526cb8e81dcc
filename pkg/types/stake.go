package types

import "fmt"

// Slot is an absolute slot number on the ledger.
type Slot uint64

// Epoch is an epoch number. Each epoch spans a fixed number of slots given by
// the epoch schedule.
type Epoch uint64

// UnitsPerToken converts whole tokens to base units.
const UnitsPerToken uint64 = 1_000_000_000

// StakeState is the desired stake level for a validator. The ordering is
// meaningful: None < Baseline < Bonus.
type StakeState int

const (
	StakeStateNone StakeState = iota
	StakeStateBaseline
	StakeStateBonus
)

func (s StakeState) String() string {
	switch s {
	case StakeStateNone:
		return "none"
	case StakeStateBaseline:
		return "baseline"
	case StakeStateBonus:
		return "bonus"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s StakeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StakeState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*s = StakeStateNone
	case "baseline":
		*s = StakeStateBaseline
	case "bonus":
		*s = StakeStateBonus
	default:
		return fmt.Errorf("unknown stake state %q", string(text))
	}
	return nil
}

// DesiredStake is one decided stake level for a validator, along with the
// human-readable reason for it.
type DesiredStake struct {
	Validator   Identity
	VoteAccount Identity
	State       StakeState
	Memo        string
}

// ValidatorPair ties a validator identity to its vote account. Membership in
// an allocation backend is expressed in pairs.
type ValidatorPair struct {
	Identity    Identity `json:"identity" yaml:"identity"`
	VoteAccount Identity `json:"voteAccount" yaml:"voteAccount"`
}

// ValidatorObservation is the merged view of a validator for one run: its
// vote-account entry plus gossip metadata.
type ValidatorObservation struct {
	Identity     Identity
	VoteAccount  Identity
	Commission   uint8
	LastVoteSlot Slot
	RootSlot     Slot
	Version      string
	Delinquent   bool
}

func FormatTokens(units uint64) string {
	whole := units / UnitsPerToken
	frac := units % UnitsPerToken
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	return fmt.Sprintf("%d.%09d", whole, frac)
}

// Package policy implements the per-validator risk policies consulted by the
// decision engine: commission ceiling, stale software release, and
// infrastructure concentration. Each policy is a pure evaluator over a single
// validator observation; none of them mutate shared state or talk to the
// network.
package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

// Verdict is the outcome of a risk policy for a single validator. Destake
// verdicts short-circuit the decision engine to a fully removed stake state;
// warn-only verdicts surface the memo as an operator notification and leave
// the stake decision to later rules.
type Verdict struct {
	Destake bool
	Memo    string
}

// ConcentrationMode selects how validators hosted in an over-concentrated
// datacenter are treated.
type ConcentrationMode int

const (
	// ConcentrationWarnAll records a warning memo for every affected
	// validator and never removes stake.
	ConcentrationWarnAll ConcentrationMode = iota

	// ConcentrationDestakeAll removes stake from every affected validator.
	ConcentrationDestakeAll

	// ConcentrationDestakeListed removes stake from affected validators on
	// an explicit list and warns the rest.
	ConcentrationDestakeListed
)

func (m ConcentrationMode) String() string {
	switch m {
	case ConcentrationWarnAll:
		return "warn"
	case ConcentrationDestakeAll:
		return "destake"
	case ConcentrationDestakeListed:
		return "destake-listed"
	}
	return "unknown"
}

// ConcentrationPolicy resolves validators whose datacenter holds more than
// MaxConcentration percent of total cluster stake.
type ConcentrationPolicy struct {
	Mode             ConcentrationMode
	Listed           map[types.Identity]bool
	MaxConcentration float64
}

// ParseConcentrationPolicy builds a ConcentrationPolicy from the configured
// affects value: "warn", "destake", or a path to a YAML file containing a
// list of validator identity strings to destake. List entries that do not
// parse as identities are ignored.
func ParseConcentrationPolicy(affects string, maxConcentration float64) (*ConcentrationPolicy, error) {
	switch strings.ToLower(affects) {
	case "warn":
		return &ConcentrationPolicy{
			Mode:             ConcentrationWarnAll,
			MaxConcentration: maxConcentration,
		}, nil
	case "destake":
		return &ConcentrationPolicy{
			Mode:             ConcentrationDestakeAll,
			MaxConcentration: maxConcentration,
		}, nil
	}

	data, err := os.ReadFile(affects)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid concentration policy %q (expected \"warn\", \"destake\", or a path to a YAML identity list)", affects)
	}
	var entries []string
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrapf(err, "failed to parse concentration destake list %s", affects)
	}

	listed := make(map[types.Identity]bool, len(entries))
	for _, entry := range entries {
		identity, err := types.ParseIdentity(entry)
		if err != nil {
			continue
		}
		listed[identity] = true
	}
	return &ConcentrationPolicy{
		Mode:             ConcentrationDestakeListed,
		Listed:           listed,
		MaxConcentration: maxConcentration,
	}, nil
}

// Evaluate returns a verdict for a validator whose datacenter concentration
// is stakePercent. The second return is false when the concentration is
// within bounds and the policy has no opinion.
func (p *ConcentrationPolicy) Evaluate(validator types.Identity, stakePercent float64) (Verdict, bool) {
	if stakePercent <= p.MaxConcentration {
		return Verdict{}, false
	}
	destake := false
	switch p.Mode {
	case ConcentrationDestakeAll:
		destake = true
	case ConcentrationDestakeListed:
		destake = p.Listed[validator]
	}
	if destake {
		return Verdict{
			Destake: true,
			Memo:    fmt.Sprintf("%s infrastructure concentration %.1f%% is too high. Max concentration is %.0f%%. Removed stake", validator, stakePercent, p.MaxConcentration),
		}, true
	}
	return Verdict{
		Memo: fmt.Sprintf("%s infrastructure concentration %.1f%% is too high. Max concentration is %.0f%%. No stake removed. Consider finding a new data center", validator, stakePercent, p.MaxConcentration),
	}, true
}

// CommissionPolicy destakes validators charging more than MaxCommission
// percent. The default ceiling of 100 never triggers.
type CommissionPolicy struct {
	MaxCommission uint8
}

// Evaluate returns a destake verdict when the validator's commission exceeds
// the ceiling; the second return is false otherwise.
func (p CommissionPolicy) Evaluate(validator types.Identity, commission uint8) (Verdict, bool) {
	if commission <= p.MaxCommission {
		return Verdict{}, false
	}
	return Verdict{
		Destake: true,
		Memo:    fmt.Sprintf("%s %d%% commission is too high", validator, commission),
	}, true
}

// VersionPolicy marks validators running a software release older than
// MinVersion as destake candidates. A nil MinVersion disables the policy.
//
// Destaking for staleness is gated cluster-wide: if more than
// MaxStalePercentage of the classified validators are stale, no stale
// validator is destaked this run. Removing stake from a large slice of the
// cluster at once is a bigger availability risk than the old release itself.
type VersionPolicy struct {
	MinVersion         *semver.Version
	MaxStalePercentage int
}

// ParseVersionPolicy builds a VersionPolicy from the configured minimum
// release version. An empty minVersion disables staleness checks.
func ParseVersionPolicy(minVersion string, maxStalePercentage int) (*VersionPolicy, error) {
	p := &VersionPolicy{MaxStalePercentage: maxStalePercentage}
	if minVersion == "" {
		return p, nil
	}
	v, err := semver.NewVersion(minVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid minimum release version %q", minVersion)
	}
	p.MinVersion = v
	return p, nil
}

// Enabled reports whether a minimum release version is configured.
func (p *VersionPolicy) Enabled() bool {
	return p.MinVersion != nil
}

// Stale reports whether the advertised version parses as semver and is older
// than the minimum. Absent or unparsable versions are never stale; gossip
// routinely omits them.
func (p *VersionPolicy) Stale(version string) bool {
	if p.MinVersion == nil || version == "" {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.LessThan(p.MinVersion)
}

// StaleIdentities filters the identity → advertised version map down to the
// set of validators running a release older than the minimum.
func (p *VersionPolicy) StaleIdentities(versions map[types.Identity]string) map[types.Identity]bool {
	stale := make(map[types.Identity]bool)
	if p.MinVersion == nil {
		return stale
	}
	for identity, version := range versions {
		if p.Stale(version) {
			stale[identity] = true
		}
	}
	return stale
}

// OverRepresented reports whether the stale set exceeds MaxStalePercentage of
// the classified validator count, in which case no stale validator should be
// destaked this run.
func (p *VersionPolicy) OverRepresented(staleCount int, classifiedCount int) bool {
	return staleCount > classifiedCount*p.MaxStalePercentage/100
}

// Package datacenter resolves how much of total cluster stake is co-located
// with each validator's physical infrastructure. The concentration figures
// feed the infrastructure concentration policy; the data itself comes from an
// external listing service and is advisory, so callers decide how to degrade
// when the provider is unavailable.
package datacenter

import (
	"context"

	"github.com/Layr-Labs/ballast/pkg/types"
)

// Concentration describes the share of total cluster stake hosted in the
// datacenter a validator runs from.
type Concentration struct {
	DataCenter   string
	StakePercent float64
}

// Provider supplies per-validator concentration figures. Validators absent
// from the returned map have no attributable infrastructure data and are
// never affected by the concentration policy.
type Provider interface {
	Concentrations(ctx context.Context) (map[types.Identity]Concentration, error)
}

// StaticProvider serves a fixed concentration map.
type StaticProvider struct {
	concentrations map[types.Identity]Concentration
}

func NewStaticProvider(concentrations map[types.Identity]Concentration) *StaticProvider {
	copied := make(map[types.Identity]Concentration, len(concentrations))
	for identity, concentration := range concentrations {
		copied[identity] = concentration
	}
	return &StaticProvider{concentrations: copied}
}

func (p *StaticProvider) Concentrations(_ context.Context) (map[types.Identity]Concentration, error) {
	copied := make(map[types.Identity]Concentration, len(p.concentrations))
	for identity, concentration := range p.concentrations {
		copied[identity] = concentration
	}
	return copied, nil
}

// Package classifier partitions block producers of a finished epoch into
// quality and poor sets based on their skip rate.
package classifier

import (
	"errors"
	"fmt"

	"github.com/Layr-Labs/ballast/pkg/types"
)

// ErrEmptySchedule is returned when the leader schedule carries no assigned
// slots. Classifying against an empty epoch would misclassify the entire
// cluster, so the run must stop instead.
var ErrEmptySchedule = errors.New("leader schedule is empty")

type Config struct {
	// QualityBlockProducerPercentage is the skip-rate allowance above the
	// floor before a producer counts as poor
	QualityBlockProducerPercentage int
	// MaxPoorBlockProducerPercentage caps how much of the cluster may be poor
	// before the whole epoch is considered untrustworthy
	MaxPoorBlockProducerPercentage int
	// UseClusterAverageSkipRate floors the poor test at the cluster average
	// instead of zero
	UseClusterAverageSkipRate bool
}

// Classification is the outcome of one epoch. Quality and Poor are disjoint;
// validators with no assigned slots appear in neither.
type Classification struct {
	Quality map[types.Identity]bool
	Poor    map[types.Identity]bool

	ClusterAverageSkipRate int
	PoorPercentage         int
	TooManyPoor            bool
}

func (c *Classification) Describe() string {
	return fmt.Sprintf("cluster average skip rate %d%%, %d quality producers, %d poor producers (%d%% poor, too many poor=%v)",
		c.ClusterAverageSkipRate, len(c.Quality), len(c.Poor), c.PoorPercentage, c.TooManyPoor)
}

// Classify replays one finished epoch. confirmed holds the absolute slots
// that carried a confirmed block; schedule maps each validator to its
// assigned slot indexes relative to firstSlot. All arithmetic is integer, so
// results are exact and reproducible.
func Classify(firstSlot types.Slot, confirmed map[types.Slot]bool, schedule map[types.Identity][]uint64, cfg *Config) (*Classification, error) {
	type tally struct {
		blocks int
		slots  int
	}
	tallies := make(map[types.Identity]*tally)

	totalBlocks := 0
	totalSlots := 0
	for identity, relativeSlots := range schedule {
		validatorBlocks := 0
		validatorSlots := 0
		for _, relativeSlot := range relativeSlots {
			slot := firstSlot + types.Slot(relativeSlot)
			totalSlots++
			validatorSlots++
			if confirmed[slot] {
				totalBlocks++
				validatorBlocks++
			}
		}
		if validatorSlots > 0 {
			if existing, ok := tallies[identity]; ok {
				existing.blocks += validatorBlocks
				existing.slots += validatorSlots
			} else {
				tallies[identity] = &tally{blocks: validatorBlocks, slots: validatorSlots}
			}
		}
	}
	if totalSlots == 0 {
		return nil, ErrEmptySchedule
	}

	clusterAverageSkipRate := 100 - totalBlocks*100/totalSlots

	result := &Classification{
		Quality:                make(map[types.Identity]bool),
		Poor:                   make(map[types.Identity]bool),
		ClusterAverageSkipRate: clusterAverageSkipRate,
	}

	skipRateFloor := 0
	if cfg.UseClusterAverageSkipRate {
		skipRateFloor = clusterAverageSkipRate
	}

	for identity, counts := range tallies {
		skipRate := 100 - counts.blocks*100/counts.slots
		margin := skipRate - cfg.QualityBlockProducerPercentage
		if margin < 0 {
			margin = 0
		}
		if margin > skipRateFloor {
			result.Poor[identity] = true
		} else {
			result.Quality[identity] = true
		}
	}

	result.PoorPercentage = len(result.Poor) * 100 / (len(result.Quality) + len(result.Poor))
	result.TooManyPoor = result.PoorPercentage > cfg.MaxPoorBlockProducerPercentage

	return result, nil
}

// Package blockcache caches which slots of past epochs carried a confirmed
// block. Classification replays entire epochs, and ledger nodes prune old
// blocks, so every resolved slot range is persisted locally and never fetched
// twice. The cache is append-only per cluster; spans are only written once
// they are fully resolved.
package blockcache

import (
	"context"
	"fmt"
	"sort"

	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
)

// Span is a fully resolved inclusive slot range together with the slots in it
// that carried a confirmed block.
type Span struct {
	FirstSlot types.Slot   `json:"firstSlot"`
	LastSlot  types.Slot   `json:"lastSlot"`
	Confirmed []types.Slot `json:"confirmed"`
}

// Validate checks basic span consistency before it is persisted.
func (s *Span) Validate() error {
	if s.FirstSlot > s.LastSlot {
		return fmt.Errorf("%w: first slot %d after last slot %d", ErrInvalidSpan, s.FirstSlot, s.LastSlot)
	}
	for _, slot := range s.Confirmed {
		if slot < s.FirstSlot || slot > s.LastSlot {
			return fmt.Errorf("%w: confirmed slot %d outside [%d, %d]", ErrInvalidSpan, slot, s.FirstSlot, s.LastSlot)
		}
	}
	return nil
}

// BlockStore defines the interface for confirmed-span persistence.
type BlockStore interface {
	SaveSpan(ctx context.Context, cluster string, span *Span) error
	GetSpan(ctx context.Context, cluster string, firstSlot types.Slot) (*Span, error)
	ListSpans(ctx context.Context, cluster string) ([]*Span, error)
	PruneSpansBefore(ctx context.Context, cluster string, slot types.Slot) error

	Close() error
}

// BlockFetcher resolves a slot range against the remote ledger.
type BlockFetcher interface {
	GetBlocksInRange(ctx context.Context, first, last types.Slot) ([]types.Slot, error)
}

// Cache answers confirmed-block queries from the store, falling back to the
// fetcher for slot ranges it has not resolved yet. Remote fills are chunked
// and each chunk is persisted before the next is requested, so an aborted
// backfill keeps its progress.
type Cache struct {
	logger     *zap.Logger
	store      BlockStore
	fetcher    BlockFetcher
	cluster    string
	fetchChunk uint64
}

// FetchChunkSlots caps how many slots one remote fill request covers.
const FetchChunkSlots = 2000

func NewCache(store BlockStore, fetcher BlockFetcher, cluster string, logger *zap.Logger) *Cache {
	return &Cache{
		logger:     logger,
		store:      store,
		fetcher:    fetcher,
		cluster:    cluster,
		fetchChunk: FetchChunkSlots,
	}
}

// ConfirmedBlocks returns the set of confirmed slots in [first, last],
// inclusive. The caller is responsible for only asking about finished ranges;
// a slot range that is still growing must not be cached.
func (c *Cache) ConfirmedBlocks(ctx context.Context, first, last types.Slot) (map[types.Slot]bool, error) {
	if first > last {
		return nil, fmt.Errorf("invalid slot range [%d, %d]", first, last)
	}

	spans, err := c.store.ListSpans(ctx, c.cluster)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached spans: %w", err)
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].FirstSlot < spans[j].FirstSlot
	})

	confirmed := make(map[types.Slot]bool)
	var cachedSlots, fetchedSlots uint64

	cursor := first
	for _, span := range spans {
		if cursor > last {
			break
		}
		if span.LastSlot < cursor || span.FirstSlot > last {
			continue
		}
		if span.FirstSlot > cursor {
			// Gap before this span; resolve it remotely.
			if err := c.fill(ctx, cursor, span.FirstSlot-1, confirmed, &fetchedSlots); err != nil {
				return nil, err
			}
		}
		for _, slot := range span.Confirmed {
			if slot >= cursor && slot <= last {
				confirmed[slot] = true
				cachedSlots++
			}
		}
		if span.LastSlot >= last {
			cursor = last + 1
			break
		}
		cursor = span.LastSlot + 1
	}
	if cursor <= last {
		if err := c.fill(ctx, cursor, last, confirmed, &fetchedSlots); err != nil {
			return nil, err
		}
	}

	c.logger.Sugar().Debugw("Resolved confirmed blocks",
		zap.String("cluster", c.cluster),
		zap.Uint64("firstSlot", uint64(first)),
		zap.Uint64("lastSlot", uint64(last)),
		zap.Uint64("fromCache", cachedSlots),
		zap.Uint64("fromRemote", fetchedSlots),
	)

	return confirmed, nil
}

// fill resolves [first, last] remotely in chunks, persisting each chunk as
// its own span.
func (c *Cache) fill(ctx context.Context, first, last types.Slot, confirmed map[types.Slot]bool, fetched *uint64) error {
	for start := first; start <= last; {
		end := start + types.Slot(c.fetchChunk) - 1
		if end > last {
			end = last
		}

		blocks, err := c.fetcher.GetBlocksInRange(ctx, start, end)
		if err != nil {
			return fmt.Errorf("failed to fetch blocks [%d, %d]: %w", start, end, err)
		}

		span := &Span{FirstSlot: start, LastSlot: end, Confirmed: blocks}
		if err := c.store.SaveSpan(ctx, c.cluster, span); err != nil {
			return fmt.Errorf("failed to cache span [%d, %d]: %w", start, end, err)
		}

		for _, slot := range blocks {
			confirmed[slot] = true
			*fetched++
		}

		start = end + 1
	}
	return nil
}

// Prune drops cached spans that end before the given slot. Nodes prune their
// block history too, so spans below the first available block can never be
// queried against the remote again and only take up space.
func (c *Cache) Prune(ctx context.Context, before types.Slot) error {
	if err := c.store.PruneSpansBefore(ctx, c.cluster, before); err != nil {
		return fmt.Errorf("failed to prune spans before %d: %w", before, err)
	}
	return nil
}

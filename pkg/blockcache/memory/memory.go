package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Layr-Labs/ballast/pkg/blockcache"
	"github.com/Layr-Labs/ballast/pkg/types"
)

// InMemoryBlockStore implements the BlockStore interface with in-memory
// storage. Used by tests and by dry runs that should not touch disk.
type InMemoryBlockStore struct {
	mu     sync.RWMutex
	closed bool
	spans  map[string]map[types.Slot]*blockcache.Span
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		spans: make(map[string]map[types.Slot]*blockcache.Span),
	}
}

func copySpan(span *blockcache.Span) *blockcache.Span {
	out := &blockcache.Span{
		FirstSlot: span.FirstSlot,
		LastSlot:  span.LastSlot,
	}
	out.Confirmed = append(out.Confirmed, span.Confirmed...)
	return out
}

func (s *InMemoryBlockStore) SaveSpan(ctx context.Context, cluster string, span *blockcache.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blockcache.ErrStoreClosed
	}
	if err := span.Validate(); err != nil {
		return err
	}

	if s.spans[cluster] == nil {
		s.spans[cluster] = make(map[types.Slot]*blockcache.Span)
	}
	s.spans[cluster][span.FirstSlot] = copySpan(span)
	return nil
}

func (s *InMemoryBlockStore) GetSpan(ctx context.Context, cluster string, firstSlot types.Slot) (*blockcache.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blockcache.ErrStoreClosed
	}

	span, exists := s.spans[cluster][firstSlot]
	if !exists {
		return nil, blockcache.ErrNotFound
	}
	return copySpan(span), nil
}

func (s *InMemoryBlockStore) ListSpans(ctx context.Context, cluster string) ([]*blockcache.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, blockcache.ErrStoreClosed
	}

	var spans []*blockcache.Span
	for _, span := range s.spans[cluster] {
		spans = append(spans, copySpan(span))
	}
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].FirstSlot < spans[j].FirstSlot
	})
	return spans, nil
}

func (s *InMemoryBlockStore) PruneSpansBefore(ctx context.Context, cluster string, slot types.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return blockcache.ErrStoreClosed
	}

	for first, span := range s.spans[cluster] {
		if span.LastSlot < slot {
			delete(s.spans[cluster], first)
		}
	}
	return nil
}

func (s *InMemoryBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

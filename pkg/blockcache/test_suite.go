package blockcache

import (
	"context"
	"sync"
	"testing"

	"github.com/Layr-Labs/ballast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSuite defines a test suite that all block store implementations must
// pass.
type TestSuite struct {
	NewStore func() (BlockStore, error)
}

// Run executes all block store interface compliance tests.
func (s *TestSuite) Run(t *testing.T) {
	t.Run("SpanRoundTrip", s.testSpanRoundTrip)
	t.Run("SpanValidation", s.testSpanValidation)
	t.Run("ClusterIsolation", s.testClusterIsolation)
	t.Run("ListOrdering", s.testListOrdering)
	t.Run("Prune", s.testPrune)
	t.Run("Lifecycle", s.testLifecycle)
	t.Run("ConcurrentAccess", s.testConcurrentAccess)
}

func (s *TestSuite) testSpanRoundTrip(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cluster := "testnet"

	_, err = store.GetSpan(ctx, cluster, 100)
	assert.ErrorIs(t, err, ErrNotFound)

	span := &Span{FirstSlot: 100, LastSlot: 199, Confirmed: []types.Slot{100, 101, 150}}
	require.NoError(t, store.SaveSpan(ctx, cluster, span))

	retrieved, err := store.GetSpan(ctx, cluster, 100)
	require.NoError(t, err)
	assert.Equal(t, span.FirstSlot, retrieved.FirstSlot)
	assert.Equal(t, span.LastSlot, retrieved.LastSlot)
	assert.Equal(t, span.Confirmed, retrieved.Confirmed)

	// Saving the same range again overwrites in place.
	span2 := &Span{FirstSlot: 100, LastSlot: 199, Confirmed: []types.Slot{100}}
	require.NoError(t, store.SaveSpan(ctx, cluster, span2))
	retrieved, err = store.GetSpan(ctx, cluster, 100)
	require.NoError(t, err)
	assert.Equal(t, []types.Slot{100}, retrieved.Confirmed)
}

func (s *TestSuite) testSpanValidation(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	err = store.SaveSpan(ctx, "testnet", &Span{FirstSlot: 200, LastSlot: 100})
	assert.ErrorIs(t, err, ErrInvalidSpan)

	err = store.SaveSpan(ctx, "testnet", &Span{FirstSlot: 100, LastSlot: 199, Confirmed: []types.Slot{500}})
	assert.ErrorIs(t, err, ErrInvalidSpan)
}

func (s *TestSuite) testClusterIsolation(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	require.NoError(t, store.SaveSpan(ctx, "testnet", &Span{FirstSlot: 0, LastSlot: 99, Confirmed: []types.Slot{1}}))
	require.NoError(t, store.SaveSpan(ctx, "mainnet", &Span{FirstSlot: 0, LastSlot: 99, Confirmed: []types.Slot{2}}))

	testnetSpans, err := store.ListSpans(ctx, "testnet")
	require.NoError(t, err)
	require.Len(t, testnetSpans, 1)
	assert.Equal(t, []types.Slot{1}, testnetSpans[0].Confirmed)

	mainnetSpans, err := store.ListSpans(ctx, "mainnet")
	require.NoError(t, err)
	require.Len(t, mainnetSpans, 1)
	assert.Equal(t, []types.Slot{2}, mainnetSpans[0].Confirmed)
}

func (s *TestSuite) testListOrdering(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cluster := "testnet"

	// Insert out of order, including a first slot that would sort wrong as a
	// plain string.
	for _, first := range []types.Slot{4000, 100, 999} {
		span := &Span{FirstSlot: first, LastSlot: first + 99}
		require.NoError(t, store.SaveSpan(ctx, cluster, span))
	}

	spans, err := store.ListSpans(ctx, cluster)
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, types.Slot(100), spans[0].FirstSlot)
	assert.Equal(t, types.Slot(999), spans[1].FirstSlot)
	assert.Equal(t, types.Slot(4000), spans[2].FirstSlot)
}

func (s *TestSuite) testPrune(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cluster := "testnet"

	require.NoError(t, store.SaveSpan(ctx, cluster, &Span{FirstSlot: 0, LastSlot: 99}))
	require.NoError(t, store.SaveSpan(ctx, cluster, &Span{FirstSlot: 100, LastSlot: 199}))
	require.NoError(t, store.SaveSpan(ctx, cluster, &Span{FirstSlot: 200, LastSlot: 299}))

	// Spans ending before slot 150 go away; the span straddling it stays.
	require.NoError(t, store.PruneSpansBefore(ctx, cluster, 150))

	spans, err := store.ListSpans(ctx, cluster)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, types.Slot(100), spans[0].FirstSlot)
	assert.Equal(t, types.Slot(200), spans[1].FirstSlot)
}

func (s *TestSuite) testLifecycle(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)

	ctx := context.Background()

	require.NoError(t, store.Close())
	// Close is idempotent.
	require.NoError(t, store.Close())

	err = store.SaveSpan(ctx, "testnet", &Span{FirstSlot: 0, LastSlot: 9})
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.GetSpan(ctx, "testnet", 0)
	assert.ErrorIs(t, err, ErrStoreClosed)

	_, err = store.ListSpans(ctx, "testnet")
	assert.ErrorIs(t, err, ErrStoreClosed)

	err = store.PruneSpansBefore(ctx, "testnet", 100)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func (s *TestSuite) testConcurrentAccess(t *testing.T) {
	store, err := s.NewStore()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	cluster := "testnet"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			first := types.Slot(n * 100)
			span := &Span{FirstSlot: first, LastSlot: first + 99, Confirmed: []types.Slot{first}}
			assert.NoError(t, store.SaveSpan(ctx, cluster, span))
		}(i)
	}
	wg.Wait()

	spans, err := store.ListSpans(ctx, cluster)
	require.NoError(t, err)
	assert.Len(t, spans, 10)
}

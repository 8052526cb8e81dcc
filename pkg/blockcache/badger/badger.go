package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Layr-Labs/ballast/pkg/blockcache"
	"github.com/Layr-Labs/ballast/pkg/types"
	badgerv3 "github.com/dgraph-io/badger/v3"
)

// Key layout. Span keys zero-pad the first slot so a prefix iteration walks
// spans in slot order.
const (
	prefixSpan = "span:%s:"
	keySpan    = "span:%s:%020d"
)

// Config holds options for the badger-backed block store.
type Config struct {
	// Dir is the on-disk location of the cache
	Dir string
	// InMemory runs badger without touching disk, for tests
	InMemory bool
}

// BadgerBlockStore implements the BlockStore interface using BadgerDB.
type BadgerBlockStore struct {
	db       *badgerv3.DB
	mu       sync.RWMutex
	closed   bool
	closeCh  chan struct{}
	gcTicker *time.Ticker
}

// NewBadgerBlockStore opens (or creates) a badger-backed block store.
func NewBadgerBlockStore(cfg *Config) (*BadgerBlockStore, error) {
	if cfg == nil {
		return nil, errors.New("badger config is nil")
	}

	opts := badgerv3.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's default logging
	if cfg.InMemory {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badgerv3.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerBlockStore{
		db:      db,
		closeCh: make(chan struct{}),
	}

	s.gcTicker = time.NewTicker(5 * time.Minute)
	go s.runGC()

	return s, nil
}

// runGC runs periodic value log garbage collection
func (s *BadgerBlockStore) runGC() {
	for {
		select {
		case <-s.gcTicker.C:
			s.mu.RLock()
			if s.closed {
				s.mu.RUnlock()
				return
			}
			s.mu.RUnlock()

			_ = s.db.RunValueLogGC(0.5)
		case <-s.closeCh:
			return
		}
	}
}

func (s *BadgerBlockStore) SaveSpan(ctx context.Context, cluster string, span *blockcache.Span) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return blockcache.ErrStoreClosed
	}
	s.mu.RUnlock()

	if span == nil {
		return errors.New("span is nil")
	}
	if err := span.Validate(); err != nil {
		return err
	}

	value, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("failed to marshal span: %w", err)
	}

	key := fmt.Sprintf(keySpan, cluster, span.FirstSlot)
	err = s.db.Update(func(txn *badgerv3.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to save span: %w", err)
	}

	return nil
}

func (s *BadgerBlockStore) GetSpan(ctx context.Context, cluster string, firstSlot types.Slot) (*blockcache.Span, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, blockcache.ErrStoreClosed
	}
	s.mu.RUnlock()

	var span blockcache.Span
	key := fmt.Sprintf(keySpan, cluster, firstSlot)

	err := s.db.View(func(txn *badgerv3.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badgerv3.ErrKeyNotFound) {
				return blockcache.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &span)
		})
	})
	if err != nil {
		if errors.Is(err, blockcache.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get span: %w", err)
	}

	return &span, nil
}

func (s *BadgerBlockStore) ListSpans(ctx context.Context, cluster string) ([]*blockcache.Span, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, blockcache.ErrStoreClosed
	}
	s.mu.RUnlock()

	var spans []*blockcache.Span
	prefix := fmt.Sprintf(prefixSpan, cluster)

	err := s.db.View(func(txn *badgerv3.Txn) error {
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var span blockcache.Span
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &span)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal span: %w", err)
			}
			spans = append(spans, &span)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}

	return spans, nil
}

func (s *BadgerBlockStore) PruneSpansBefore(ctx context.Context, cluster string, slot types.Slot) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return blockcache.ErrStoreClosed
	}
	s.mu.RUnlock()

	prefix := fmt.Sprintf(prefixSpan, cluster)

	err := s.db.Update(func(txn *badgerv3.Txn) error {
		opts := badgerv3.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			var span blockcache.Span
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &span)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal span: %w", err)
			}
			if span.LastSlot < slot {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to prune spans: %w", err)
	}

	return nil
}

func (s *BadgerBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	close(s.closeCh)
	s.gcTicker.Stop()

	return s.db.Close()
}

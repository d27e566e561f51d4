package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/asynctrain/domain/event"
)

// EventStore is a BadgerDB-backed implementation of event.Store.
type EventStore struct {
	db        *badger.DB
	keyPrefix string

	gcStop    chan struct{}
	gcWg      sync.WaitGroup
	closeOnce sync.Once
}

// NewEventStore creates a new BadgerDB event store with the given configuration.
func NewEventStore(cfg Config, opts ...Option) (*EventStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &EventStore{
		db:        db,
		keyPrefix: cfg.KeyPrefix,
		gcStop:    make(chan struct{}),
	}

	// Value log GC is not available for in-memory databases
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

func (s *EventStore) startGC(interval time.Duration, discardRatio float64) {
	if discardRatio <= 0 || discardRatio >= 1 {
		discardRatio = 0.5
	}

	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				// Run until there is nothing left to rewrite
				for s.db.RunValueLogGC(discardRatio) == nil {
				}
			}
		}
	}()
}

// Key format: prefix:events:runID:sequence (8 bytes, big-endian)
func (s *EventStore) eventKey(runID string, seq uint64) []byte {
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, seq)
	return append(s.eventPrefix(runID), seqBytes...)
}

func (s *EventStore) eventPrefix(runID string) []byte {
	return []byte(s.keyPrefix + "events:" + runID + ":")
}

// Key format: prefix:seq:runID for storing sequence counter
func (s *EventStore) seqKey(runID string) []byte {
	return []byte(s.keyPrefix + "seq:" + runID)
}

// Append persists one or more events atomically.
func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e.Type == "" || e.RunID == "" {
			return event.ErrInvalidEvent
		}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		seqs := make(map[string]uint64)

		for _, e := range events {
			seq, ok := seqs[e.RunID]
			if !ok {
				var err error
				seq, err = s.loadSeq(txn, e.RunID)
				if err != nil {
					return err
				}
			}

			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			seq++
			e.Sequence = seq
			seqs[e.RunID] = seq

			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := txn.Set(s.eventKey(e.RunID, seq), data); err != nil {
				return err
			}
		}

		for runID, seq := range seqs {
			seqBytes := make([]byte, 8)
			binary.BigEndian.PutUint64(seqBytes, seq)
			if err := txn.Set(s.seqKey(runID), seqBytes); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *EventStore) loadSeq(txn *badger.Txn, runID string) (uint64, error) {
	item, err := txn.Get(s.seqKey(runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) == 8 {
			seq = binary.BigEndian.Uint64(val)
		}
		return nil
	})
	return seq, err
}

// LoadEvents retrieves all events for a run in sequence order.
func (s *EventStore) LoadEvents(ctx context.Context, runID string) ([]event.Event, error) {
	return s.scan(ctx, runID, 0, event.QueryOptions{})
}

// LoadEventsFrom retrieves events with sequence >= fromSeq.
func (s *EventStore) LoadEventsFrom(ctx context.Context, runID string, fromSeq uint64) ([]event.Event, error) {
	return s.scan(ctx, runID, fromSeq, event.QueryOptions{})
}

// Query retrieves events matching the given options.
func (s *EventStore) Query(ctx context.Context, runID string, opts event.QueryOptions) ([]event.Event, error) {
	return s.scan(ctx, runID, 0, opts)
}

func (s *EventStore) scan(ctx context.Context, runID string, fromSeq uint64, opts event.QueryOptions) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var events []event.Event

	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = s.eventPrefix(runID)

		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(s.eventKey(runID, fromSeq)); it.Valid(); it.Next() {
			var e event.Event
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				continue // Skip malformed entries
			}

			if !opts.Matches(e) {
				continue
			}
			events = append(events, e)
			if opts.Limit > 0 && len(events) >= opts.Limit {
				break
			}
		}
		return nil
	})

	return events, err
}

// CountEvents returns the number of events for a run.
func (s *EventStore) CountEvents(ctx context.Context, runID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = s.eventPrefix(runID)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})

	return count, err
}

// ListRuns returns all run IDs with events in the store.
func (s *EventStore) ListRuns(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := s.keyPrefix + "seq:"
	var runs []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			runs = append(runs, strings.TrimPrefix(string(it.Item().Key()), prefix))
		}
		return nil
	})

	sort.Strings(runs)
	return runs, err
}

// Close stops GC and closes the database.
func (s *EventStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.gcStop)
		s.gcWg.Wait()
		err = s.db.Close()
	})
	return err
}

// Ensure EventStore implements event.Store and event.Querier
var (
	_ event.Store   = (*EventStore)(nil)
	_ event.Querier = (*EventStore)(nil)
)

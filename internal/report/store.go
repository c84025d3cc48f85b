package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"chaosmonkey/internal/chaos"
)

var ErrNotFound = errors.New("run summary not found")

const (
	runPrefix   = "run/"
	indexPrefix = "idx/"
)

type StoreConfig struct {
	DataPath   string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
}

// BadgerStore persists run summaries ordered by end time.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
}

func NewBadgerStore(cfg StoreConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.DataPath)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	s := &BadgerStore{db: db, stopGC: make(chan struct{})}
	if !cfg.InMemory && cfg.GCInterval > 0 {
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func runKey(summary chaos.RunSummary) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, summary.EndedAt.UnixNano(), summary.RunID))
}

// Report implements chaos.Reporter.
func (s *BadgerStore) Report(ctx context.Context, summary chaos.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	key := runKey(summary)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+summary.RunID), key)
	})
}

func (s *BadgerStore) Get(runID string) (chaos.RunSummary, error) {
	var summary chaos.RunSummary
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexPrefix + runID))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &summary)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chaos.RunSummary{}, ErrNotFound
	}
	return summary, err
}

// List returns up to limit summaries, newest first. limit <= 0 returns all.
func (s *BadgerStore) List(limit int) ([]chaos.RunSummary, error) {
	var out []chaos.RunSummary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks from just past the prefix.
		seek := append([]byte(runPrefix), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			var summary chaos.RunSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &summary)
			}); err != nil {
				return err
			}
			out = append(out, summary)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (s *BadgerStore) Close() error {
	close(s.stopGC)
	return s.db.Close()
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

var jobKeyPrefix = []byte("job:")

func jobKey(orderID string) []byte {
	return append(append([]byte{}, jobKeyPrefix...), orderID...)
}

// BadgerStore is a disk-backed JobStore
type BadgerStore struct {
	db     *badger.DB
	logger logger.Logger
}

var _ JobStore = (*BadgerStore)(nil)

// NewBadgerStore opens a badger database at path. An empty path keeps the data in memory.
func NewBadgerStore(path string, log logger.Logger) (*BadgerStore, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // badger logs through its own logger, disable it

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &BadgerStore{db: db, logger: log}, nil
}

func (b *BadgerStore) Save(job models.Job) error {
	val, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.OrderID), val)
	})
}

func (b *BadgerStore) Delete(orderID string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(jobKey(orderID))
	})
}

func (b *BadgerStore) Load() ([]models.Job, error) {
	jobs := make([]models.Job, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = jobKeyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job models.Job
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &job)
			})
			if err != nil {
				return fmt.Errorf("decoding job %s: %w", it.Item().Key(), err)
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortJobs(jobs)
	return jobs, nil
}

// RunGC reclaims value log space until ctx is done
func (b *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := b.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) && !errors.Is(err, badger.ErrGCInMemoryMode) {
					b.logger.Error("Job store value log GC failed: %v", err)
				}
				break
			}
		}
	}
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// Package spool is the offline heartbeat spool. Heartbeat payloads that
// cannot reach the backend are appended to an embedded badger store and
// replayed in order on the next successful connection, so evidence gathered
// while offline is never dropped.
package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"

	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

// Discard ratio recommended in the badger docs for value log GC.
const compactionDiscardRatio = 0.5

var compactionInterval = 5 * time.Minute

const (
	dirName = "spool"

	// seqKey holds the monotonic append counter. Entry keys are the
	// zero-padded counter value so badger's lexicographic iteration yields
	// FIFO order.
	seqKey = "__seq"
)

// Entry is one spooled heartbeat payload.
type Entry struct {
	Sequence  uint64          `json:"sequence"`
	Payload   json.RawMessage `json:"payload"`
	SpooledAt time.Time       `json:"spooled_at"`
}

// Spool is a durable FIFO of heartbeat payloads backed by badger. Writes
// are synchronous; a payload acknowledged as spooled survives process
// death.
type Spool struct {
	db     *badger.DB
	logger logger.Logger

	mu        sync.Mutex // serializes sequence allocation
	closeChan chan struct{}
	closeOnce sync.Once
}

// Open opens (initializing if necessary) the spool under dataDir.
func Open(dataDir string, log logger.Logger) (*Spool, error) {
	path := filepath.Join(dataDir, dirName)
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, errors.ErrStoreUnavailable("open spool").WithCause(err)
	}

	s := &Spool{
		db:        db,
		logger:    log.WithComponent("spool"),
		closeChan: make(chan struct{}),
	}
	s.startBackgroundCompaction()
	return s, nil
}

// Append spools one payload.
func (s *Spool) Append(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.ErrInvalidRequest("encode spool entry").WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSequence(txn)
		if err != nil {
			return err
		}

		entry := Entry{Sequence: seq, Payload: data, SpooledAt: time.Now().UTC()}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return txn.Set(entryKey(seq), encoded)
	})
}

// Drain invokes send for each spooled entry in FIFO order, deleting entries
// as they are acknowledged. Draining stops at the first send failure so
// order is preserved; remaining entries stay spooled. Returns the number of
// entries replayed.
func (s *Spool) Drain(ctx context.Context, send func(ctx context.Context, entry Entry) error) (int, error) {
	replayed := 0
	for {
		select {
		case <-ctx.Done():
			return replayed, ctx.Err()
		default:
		}

		entry, found, err := s.head()
		if err != nil {
			return replayed, err
		}
		if !found {
			return replayed, nil
		}

		if err := send(ctx, entry); err != nil {
			return replayed, err
		}

		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(entryKey(entry.Sequence))
		}); err != nil {
			return replayed, errors.ErrStoreUnavailable("delete spool entry").WithCause(err)
		}
		replayed++
	}
}

// Len returns the number of spooled entries.
func (s *Spool) Len() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if string(it.Item().Key()) == seqKey {
				continue
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errors.ErrStoreUnavailable("count spool").WithCause(err)
	}
	return count, nil
}

// Close stops compaction and releases the store.
func (s *Spool) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeChan)
	})
	return s.db.Close()
}

func (s *Spool) head() (Entry, bool, error) {
	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if string(item.Key()) == seqKey {
				continue
			}
			found = true
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
		}
		return nil
	})
	if err != nil {
		return Entry{}, false, errors.ErrStoreUnavailable("read spool head").WithCause(err)
	}
	return entry, found, nil
}

// startBackgroundCompaction runs badger's value log GC on an interval.
// Badger does not do this automatically.
func (s *Spool) startBackgroundCompaction() {
	go func() {
		ticker := time.NewTicker(compactionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.closeChan:
				return
			case <-ticker.C:
				for {
					if err := s.db.RunValueLogGC(compactionDiscardRatio); err != nil {
						break
					}
				}
			}
		}
	}()
}

func nextSequence(txn *badger.Txn) (uint64, error) {
	var seq uint64
	item, err := txn.Get([]byte(seqKey))
	switch {
	case err == badger.ErrKeyNotFound:
		seq = 1
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			_, scanErr := fmt.Sscanf(string(val), "%d", &seq)
			return scanErr
		}); err != nil {
			return 0, err
		}
		seq++
	}

	if err := txn.Set([]byte(seqKey), []byte(fmt.Sprintf("%d", seq))); err != nil {
		return 0, err
	}
	return seq, nil
}

// entryKey yields lexicographically ordered keys for FIFO iteration.
func entryKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("entry:%020d", seq))
}

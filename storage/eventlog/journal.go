// Package eventlog persists committed ledger events so clients can replay
// them after the fact.
package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"p2plend/core/types"
)

var (
	recordPrefix = []byte("evt/")

	ErrClosed = errors.New("eventlog: journal closed")
)

// Record is one journaled event. Index orders events within a height.
type Record struct {
	Height uint64      `json:"height"`
	Index  uint32      `json:"index"`
	Event  types.Event `json:"event"`
}

// Journal is an append-only LevelDB log of committed events keyed by height.
type Journal struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	return &Journal{db: db}, nil
}

// OpenMemory returns a journal that lives only in memory.
func OpenMemory() (*Journal, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

func recordKey(height uint64, index uint32) []byte {
	key := make([]byte, len(recordPrefix)+12)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], height)
	binary.BigEndian.PutUint32(key[len(recordPrefix)+8:], index)
	return key
}

// Append writes the events committed at height in one batch.
func (j *Journal) Append(height uint64, evts []types.Event) error {
	if len(evts) == 0 {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return ErrClosed
	}
	batch := new(leveldb.Batch)
	for i, evt := range evts {
		raw, err := json.Marshal(Record{Height: height, Index: uint32(i), Event: evt})
		if err != nil {
			return err
		}
		batch.Put(recordKey(height, uint32(i)), raw)
	}
	return j.db.Write(batch, &opt.WriteOptions{Sync: false})
}

// Range returns up to limit records starting at fromHeight, in commit order.
// A non-positive limit returns every remaining record.
func (j *Journal) Range(fromHeight uint64, limit int) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.db == nil {
		return nil, ErrClosed
	}
	bounds := util.BytesPrefix(recordPrefix)
	bounds.Start = recordKey(fromHeight, 0)
	iter := j.db.NewIterator(bounds, nil)
	defer iter.Release()

	var out []Record
	for iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("eventlog: decode record: %w", err)
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// Close releases the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is the node's key-value store. Besides raw metadata access it
// exposes the trie node database the ledger state is committed into, so the
// in-memory and persistent backends behave identically for the state layer.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

type ethDatabase struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

func newEthDatabase(disk ethdb.Database) *ethDatabase {
	return &ethDatabase{disk: disk, trieDB: triedb.NewDatabase(disk, nil)}
}

func (db *ethDatabase) Put(key []byte, value []byte) error {
	return db.disk.Put(key, value)
}

func (db *ethDatabase) Get(key []byte) ([]byte, error) {
	ok, err := db.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return db.disk.Get(key)
}

func (db *ethDatabase) Has(key []byte) (bool, error) {
	return db.disk.Has(key)
}

func (db *ethDatabase) TrieDB() *triedb.Database {
	return db.trieDB
}

func (db *ethDatabase) Close() {
	_ = db.trieDB.Close()
	_ = db.disk.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	*ethDatabase
}

func NewMemDB() *MemDB {
	return &MemDB{ethDatabase: newEthDatabase(rawdb.NewMemoryDatabase())}
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	*ethDatabase
}

const (
	levelDBCacheMB = 16
	levelDBHandles = 16
)

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := leveldb.New(path, levelDBCacheMB, levelDBHandles, "p2plend/db/", false)
	if err != nil {
		return nil, err
	}
	return &LevelDB{ethDatabase: newEthDatabase(rawdb.NewDatabase(kv))}, nil
}

package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// LevelStore keeps blobs in LevelDB. LevelDB handles its own synchronization.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens or creates a LevelDB database at path.
// If path is empty, uses in-memory storage.
func NewLevelStore(path string) (*LevelStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

func (l *LevelStore) Get(_ context.Context, key string) (string, bool, error) {
	data, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return string(data), true, nil
}

func (l *LevelStore) Set(_ context.Context, key, value string) error {
	return l.db.Put([]byte(key), []byte(value), nil)
}

func (l *LevelStore) Delete(_ context.Context, key string) error {
	return l.db.Delete([]byte(key), nil)
}

func (l *LevelStore) Close() error {
	return l.db.Close()
}

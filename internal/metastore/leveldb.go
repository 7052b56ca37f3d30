package metastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStore implements Store on a goleveldb database directory.
type LevelDBStore struct {
	db        *leveldb.DB
	writeOpts *opt.WriteOptions
}

// NewLevelDBStore opens the database at dir, recovering it if the manifest
// is corrupted.
func NewLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil && !lerrors.IsCorrupted(err) {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	if lerrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("recover leveldb: %w", err)
		}
	}
	return &LevelDBStore{
		db:        db,
		writeOpts: &opt.WriteOptions{Sync: false},
	}, nil
}

func (s *LevelDBStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapLevelDBErr(err)
	}
	return data, true, nil
}

func (s *LevelDBStore) Put(_ context.Context, key string, value []byte) error {
	return mapLevelDBErr(s.db.Put([]byte(key), value, s.writeOpts))
}

// Remove is a no-op for absent keys; goleveldb does not report them.
func (s *LevelDBStore) Remove(_ context.Context, key string) error {
	return mapLevelDBErr(s.db.Delete([]byte(key), s.writeOpts))
}

func (s *LevelDBStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Iterator buffers are reused between Next calls.
		value := append([]byte(nil), iter.Value()...)
		if err := fn(string(iter.Key()), value); err != nil {
			return err
		}
	}
	return mapLevelDBErr(iter.Error())
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func mapLevelDBErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}

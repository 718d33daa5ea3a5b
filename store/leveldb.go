package store

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

type LevelDBEngine struct {
	db   *leveldb.DB
	path string
}

func OpenLevelDB(path string) (*LevelDBEngine, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return &LevelDBEngine{db: db, path: path}, nil
}

func (e *LevelDBEngine) Get(key []byte) ([]byte, error) {
	v, err := e.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

func (e *LevelDBEngine) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return e.db.Put(key, value, nil)
}

func (e *LevelDBEngine) Delete(key []byte) (bool, error) {
	ok, err := e.db.Has(key, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, e.db.Delete(key, nil)
}

func (e *LevelDBEngine) Range(fn func(key, value []byte) error) error {
	iter := e.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (e *LevelDBEngine) Close() error {
	return e.db.Close()
}

package store

import (
	"os"

	"github.com/impact-eintr/lsmdb"
	"github.com/pkg/errors"
)

type LSMEngine struct {
	db *lsmdb.DB
}

func OpenLSM(dir string) (*LSMEngine, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "create dir %s", dir)
	}
	db, err := lsmdb.Open(lsmdb.DefaultOptions(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "open lsmdb %s", dir)
	}
	return &LSMEngine{db: db}, nil
}

func (e *LSMEngine) Get(key []byte) ([]byte, error) {
	var val []byte
	err := e.db.View(func(txn *lsmdb.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return ErrKeyNotFound
		}
		v, err := item.Value()
		if err != nil {
			return err
		}
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

func (e *LSMEngine) Put(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return e.db.Update(func(txn *lsmdb.Txn) error {
		return txn.Set(key, value)
	})
}

func (e *LSMEngine) Delete(key []byte) (bool, error) {
	var existed bool
	err := e.db.Update(func(txn *lsmdb.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return nil
		}
		existed = true
		return txn.Delete(key)
	})
	return existed, err
}

func (e *LSMEngine) Range(fn func(key, value []byte) error) error {
	return e.db.View(func(txn *lsmdb.Txn) error {
		itr := txn.NewIterator(lsmdb.DefaultIteratorOptions)
		defer itr.Close()
		for itr.Rewind(); itr.Valid(); itr.Next() {
			item := itr.Item()
			v, err := item.Value()
			if err != nil {
				return err
			}
			if err := fn(item.Key(), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *LSMEngine) Close() error {
	e.db.RunValueLogGC(0.7)
	return e.db.Close()
}

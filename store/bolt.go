package store

import (
	"os"
	"path/filepath"
	"time"

	"github.com/impact-eintr/bolt"
	"github.com/pkg/errors"
)

type BoltOptions struct {
	Table    string
	ReadOnly bool
	Timeout  time.Duration
}

// BoltEngine 把全部记录放在一个 bucket 里 bucket 内 key 天然有序
type BoltEngine struct {
	db       *bolt.DB
	table    []byte
	readOnly bool
}

func OpenBolt(path string, opts BoltOptions) (*BoltEngine, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrapf(err, "create dir for %s", path)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		ReadOnly: opts.ReadOnly,
		Timeout:  opts.Timeout,
	})
	if err == bolt.ErrTimeout {
		return nil, errors.Wrapf(ErrLocked, "open bolt %s after %s", path, opts.Timeout)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt %s", path)
	}

	e := &BoltEngine{db: db, table: []byte(opts.Table), readOnly: opts.ReadOnly}
	if opts.ReadOnly {
		return e, nil
	}

	// 新建一个桶
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(e.table)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "create bucket %s", opts.Table)
	}
	return e, nil
}

func (e *BoltEngine) Get(key []byte) ([]byte, error) {
	var val []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(e.table)
		if bucket == nil {
			return ErrTableNotFound
		}
		v := bucket.Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		// 事务结束后 v 指向的内存不再有效
		val = append([]byte(nil), v...)
		return nil
	})
	return val, err
}

func (e *BoltEngine) Put(key, value []byte) error {
	if e.readOnly {
		return ErrReadOnly
	}
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return e.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(e.table).Put(key, value)
	})
}

func (e *BoltEngine) Delete(key []byte) (bool, error) {
	if e.readOnly {
		return false, ErrReadOnly
	}
	var existed bool
	err := e.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(e.table)
		existed = bucket.Get(key) != nil
		if !existed {
			return nil
		}
		return bucket.Delete(key)
	})
	return existed, err
}

// Range 在一个只读事务中用游标正向遍历整个 bucket
func (e *BoltEngine) Range(fn func(key, value []byte) error) error {
	return e.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(e.table)
		if bucket == nil {
			return ErrTableNotFound
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Tables 返回文件中全部顶层 bucket 的名字
func (e *BoltEngine) Tables() ([]string, error) {
	var names []string
	err := e.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (e *BoltEngine) Close() error {
	return e.db.Close()
}

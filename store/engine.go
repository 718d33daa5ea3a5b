package store

import (
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	// DefaultTable 是状态机写入、dump 读取的子表
	DefaultTable = "entries"
	// BoltFileName 与 raft 日志 raft.db 放在同一目录
	BoltFileName = "raft.mdb"
)

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrTableNotFound = errors.New("table not found")
	ErrEmptyKey      = errors.New("empty key")
	ErrReadOnly      = errors.New("engine is read-only")
	// ErrLocked 文件被其他进程以读写方式持有 bolt 的文件锁是排他的
	ErrLocked        = errors.New("store file is locked by another process")
)

// Engine 是状态机下层的有序键值存储
// Range 必须按 key 升序回调 回调中的切片只在回调内有效
type Engine interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) (bool, error)
	Range(fn func(key, value []byte) error) error
	Close() error
}

// OpenEngine 按名字在 dir 下打开一个引擎
func OpenEngine(kind, dir string) (Engine, error) {
	switch kind {
	case "bolt", "":
		return OpenBolt(filepath.Join(dir, BoltFileName), BoltOptions{Table: DefaultTable})
	case "lsm":
		return OpenLSM(filepath.Join(dir, "lsm"))
	case "leveldb":
		return OpenLevelDB(filepath.Join(dir, "leveldb"))
	case "mem":
		return NewMemEngine(), nil
	default:
		return nil, errors.Errorf("unknown engine %q", kind)
	}
}

// clearEngine 删除引擎中全部记录 Range 期间不能写 所以先收集 key
func clearEngine(e Engine) error {
	var keys [][]byte
	err := e.Range(func(k, _ []byte) error {
		keys = append(keys, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := e.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

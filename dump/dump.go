// Package dump prints every record of one sub-table of a bolt store file in
// ascending key order.
package dump

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/impact-eintr/fekv/config"
	"github.com/impact-eintr/fekv/store"
)

var (
	ErrStoreNotFound = errors.New("store not found")
	ErrTooManyTables = errors.New("store has more tables than declared")
	ErrStoreLocked   = errors.New("store is in use, stop the server before dumping")
)

// Run 以只读方式打开 cfg.StorePath 遍历 cfg.Table 逐行写到 w
// 返回写出的记录数 出错时 w 中不会有任何输出
func Run(cfg config.DumpConfig, w io.Writer) (int, error) {
	if cfg.Table == "" {
		cfg.Table = store.DefaultTable
	}
	line, err := formatter(cfg.Format)
	if err != nil {
		return 0, err
	}

	// bolt 只读打开不存在的文件时会先创建它 这里必须先检查
	if _, err := os.Stat(cfg.StorePath); err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Wrap(ErrStoreNotFound, cfg.StorePath)
		}
		return 0, errors.Wrapf(err, "stat %s", cfg.StorePath)
	}

	e, err := store.OpenBolt(cfg.StorePath, store.BoltOptions{
		Table:    cfg.Table,
		ReadOnly: true,
		Timeout:  cfg.LockTimeout,
	})
	if errors.Is(err, store.ErrLocked) {
		return 0, errors.Wrap(ErrStoreLocked, cfg.StorePath)
	}
	if err != nil {
		return 0, err
	}
	defer e.Close()

	if cfg.MaxTables > 0 {
		tables, err := e.Tables()
		if err != nil {
			return 0, errors.Wrap(err, "list tables")
		}
		if len(tables) > cfg.MaxTables {
			return 0, errors.Wrapf(ErrTooManyTables, "%d > %d", len(tables), cfg.MaxTables)
		}
	}

	// 先检查子表存在 保证失败时没有半截输出
	if err := e.Range(func(_, _ []byte) error { return errStop }); err != nil && err != errStop {
		return 0, errors.Wrapf(err, "open table %s", cfg.Table)
	}

	bw := bufio.NewWriter(w)
	n := 0
	err = e.Range(func(k, v []byte) error {
		if _, err := bw.WriteString(line(k, v)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, errors.Wrap(err, "dump")
	}
	return n, bw.Flush()
}

var errStop = errors.New("stop")

func formatter(format string) (func(k, v []byte) string, error) {
	switch format {
	case config.FormatRaw, "":
		return func(k, v []byte) string {
			return string(k) + "\t" + string(v) + "\n"
		}, nil
	case config.FormatQuoted:
		return func(k, v []byte) string {
			return fmt.Sprintf("%q\t%q\n", k, v)
		}, nil
	default:
		return nil, errors.Wrapf(config.ErrInvalidFormat, "%q", format)
	}
}

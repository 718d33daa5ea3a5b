package dump

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/impact-eintr/bolt"

	"github.com/impact-eintr/fekv/config"
	"github.com/impact-eintr/fekv/store"
)

func newStoreFile(t *testing.T, records map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", store.BoltFileName)
	e, err := store.OpenBolt(path, store.BoltOptions{Table: store.DefaultTable})
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range records {
		if err := e.Put([]byte(k), []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func dumpConfig(path string) config.DumpConfig {
	cfg := config.Default().Dump
	cfg.StorePath = path
	return cfg
}

func TestDumpOrdered(t *testing.T) {
	path := newStoreFile(t, map[string]string{
		"banana": "yellow",
		"apple":  "red",
		"cherry": "dark red",
	})

	var buf bytes.Buffer
	n, err := Run(dumpConfig(path), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("records: %d", n)
	}
	want := "apple\tred\nbanana\tyellow\ncherry\tdark red\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestDumpQuoted(t *testing.T) {
	path := newStoreFile(t, map[string]string{"k\x00": "v\n"})

	cfg := dumpConfig(path)
	cfg.Format = config.FormatQuoted
	var buf bytes.Buffer
	if _, err := Run(cfg, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "\"k\\x00\"\t\"v\\n\"\n" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestDumpEmptyTable(t *testing.T) {
	path := newStoreFile(t, nil)

	var buf bytes.Buffer
	n, err := Run(dumpConfig(path), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || buf.Len() != 0 {
		t.Fatalf("n %d output %q", n, buf.String())
	}
}

func TestDumpMissingStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", store.BoltFileName)

	var buf bytes.Buffer
	_, err := Run(dumpConfig(path), &buf)
	if !errors.Is(err, ErrStoreNotFound) {
		t.Fatalf("want ErrStoreNotFound, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("dump must not create the store: %v", err)
	}
}

func TestDumpInvalidStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), store.BoltFileName)
	if err := os.WriteFile(path, bytes.Repeat([]byte("not a bolt file "), 512), 0600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := Run(dumpConfig(path), &buf); err == nil {
		t.Fatal("expected error for invalid store")
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestDumpMissingTable(t *testing.T) {
	path := newStoreFile(t, map[string]string{"a": "1"})

	cfg := dumpConfig(path)
	cfg.Table = "logs"
	var buf bytes.Buffer
	_, err := Run(cfg, &buf)
	if !errors.Is(err, store.ErrTableNotFound) {
		t.Fatalf("want ErrTableNotFound, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestDumpTooManyTables(t *testing.T) {
	path := newStoreFile(t, nil)
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{"conf", "extra"} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	db.Close()
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := Run(dumpConfig(path), &buf); !errors.Is(err, ErrTooManyTables) {
		t.Fatalf("want ErrTooManyTables, got %v", err)
	}
}

func TestDumpWhileServerHoldsStore(t *testing.T) {
	path := newStoreFile(t, map[string]string{"a": "1"})
	held, err := store.OpenBolt(path, store.BoltOptions{Table: store.DefaultTable})
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	cfg := dumpConfig(path)
	cfg.LockTimeout = 100 * time.Millisecond
	var buf bytes.Buffer
	_, err = Run(cfg, &buf)
	if !errors.Is(err, ErrStoreLocked) {
		t.Fatalf("want ErrStoreLocked, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}

	// 释放后可以正常导出
	if err := held.Close(); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if _, err := Run(cfg, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "a\t1\n" {
		t.Fatalf("got %q", buf.String())
	}
}

package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/impact-eintr/fekv/config"
	"github.com/impact-eintr/fekv/dump"
	"github.com/impact-eintr/fekv/httpd"
	"github.com/impact-eintr/fekv/loader"
	"github.com/impact-eintr/fekv/store"
)

// 通过 HTTP 写入的单词 关闭节点后可以被 dump 按序读出
func TestLoadThenDump(t *testing.T) {
	dir := t.TempDir()
	s := store.New(config.ServerConfig{
		RaftDir:  dir,
		RaftAddr: "127.0.0.1:0",
		Engine:   "bolt",
	}, nil)
	if err := s.Open(true, "node0"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WaitForLeader(10 * time.Second); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !s.IsLeader() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	h := httpd.New("127.0.0.1:0", s, nil)
	if err := h.Start(); err != nil {
		s.Close()
		t.Fatal(err)
	}

	cfg := config.Default().Load
	cfg.BaseURLs = []string{"http://" + h.Addr().String()}
	l, err := loader.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := l.Run(context.Background(), []string{"cherry", "apple", "banana"})
	if err != nil || rep.Sent != 3 {
		t.Fatalf("rep %+v err %v", rep, err)
	}

	h.Close()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	dcfg := config.Default().Dump
	dcfg.StorePath = filepath.Join(dir, store.BoltFileName)
	var out bytes.Buffer
	if _, err := dump.Run(dcfg, &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != "apple\tapple\nbanana\tbanana\ncherry\tcherry\n" {
		t.Fatalf("dump %q", out.String())
	}
}

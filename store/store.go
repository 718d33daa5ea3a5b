package store

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/pkg/errors"

	"github.com/impact-eintr/fekv/config"
)

var (
	// ErrNotLeader is returned when a node attempts to execute a leader-only
	// operation.
	ErrNotLeader = errors.New("not leader")

	// ErrOpenTimeout is returned when the Store does not apply its initial
	// logs within the specified time.
	ErrOpenTimeout = errors.New("timeout waiting for initial logs application")
)

const (
	retainSnapshotCount = 2
	raftTimeout         = 10 * time.Second
	leaderWaitDelay     = 100 * time.Millisecond
	appliedWaitDelay    = 100 * time.Millisecond
)

const (
	opSet     = "set"
	opDelete  = "delete"
	opSetMeta = "setmeta"
)

type command struct {
	Op    string `json:"op,omitempty"`
	Key   string `json:"key,omitempty"`
	Value []byte `json:"value,omitempty"`
}

type ConsistencyLevel int

const (
	Default ConsistencyLevel = iota
	Stale
	Consistent
)

// Store 是一个经 raft 复制的键值存储 提交后的日志落到 Engine 中
type Store struct {
	RaftDir  string
	RaftBind string

	engineKind string
	engine     Engine

	// 保护 meta 的锁
	mu   sync.RWMutex
	meta map[string]string // nodeID -> http 地址

	raft      *raft.Raft // 一致性机制
	logStore  *raftboltdb.BoltStore
	transport *raft.NetworkTransport

	logger hclog.Logger
}

func New(cfg config.ServerConfig, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{
		RaftDir:    cfg.RaftDir,
		RaftBind:   cfg.RaftAddr,
		engineKind: cfg.Engine,
		meta:       make(map[string]string),
		logger:     logger.Named("store"),
	}
}

func (s *Store) LeaderID() (string, error) {
	addr := s.LeaderAddr()
	configFuture := s.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		s.logger.Error("failed to get raft configuration", "error", err)
		return "", err
	}

	for _, srv := range configFuture.Configuration().Servers {
		if srv.Address == raft.ServerAddress(addr) {
			return string(srv.ID), nil
		}
	}
	return "", nil
}

func (s *Store) LeaderAddr() string {
	return string(s.raft.Leader())
}

// LeaderAPIAddr 返回 leader 的 HTTP 地址 未知时返回空串
func (s *Store) LeaderAPIAddr() string {
	id, err := s.LeaderID()
	if err != nil || id == "" {
		return ""
	}

	addr, err := s.GetMeta(id)
	if err != nil {
		return ""
	}
	return addr
}

// Open opens the store. If enableSingle is set, and there are no existing peers,
// then this node becomes the first node, and therefore leader, of the cluster.
// localID should be the server identifier for this node.
func (s *Store) Open(enableSingle bool, localID string) (err error) {
	// 中途失败时释放已经打开的引擎 传输层和日志存储
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err := os.MkdirAll(s.RaftDir, 0700); err != nil {
		return errors.Wrapf(err, "create raft dir %s", s.RaftDir)
	}

	// 配置数据存储
	engine, err := OpenEngine(s.engineKind, s.RaftDir)
	if err != nil {
		return err
	}
	s.engine = engine

	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(localID)
	conf.Logger = s.logger.Named("raft")

	newNode := !pathExists(filepath.Join(s.RaftDir, "raft.db"))

	// Setup Raft communication.
	addr, err := net.ResolveTCPAddr("tcp", s.RaftBind)
	if err != nil {
		return err
	}
	// 端口为 0 时由监听器决定实际地址
	var advertise net.Addr
	if addr.Port != 0 {
		advertise = addr
	}
	transport, err := raft.NewTCPTransportWithLogger(s.RaftBind, advertise, 3, 10*time.Second, s.logger.Named("transport"))
	if err != nil {
		return err
	}
	s.transport = transport

	// Create the snapshot store. This allows the Raft to truncate the log.
	snapshots, err := raft.NewFileSnapshotStoreWithLogger(s.RaftDir, retainSnapshotCount, s.logger.Named("snapshot"))
	if err != nil {
		return errors.Wrap(err, "file snapshot store")
	}

	// Create the log store and stable store.
	boltDB, err := raftboltdb.NewBoltStore(filepath.Join(s.RaftDir, "raft.db"))
	if err != nil {
		return errors.Wrap(err, "new bolt store")
	}
	s.logStore = boltDB

	// Instantiate the Raft systems.
	ra, err := raft.NewRaft(conf, (*fsm)(s), boltDB, boltDB, snapshots, transport)
	if err != nil {
		return errors.Wrap(err, "new raft")
	}
	s.raft = ra

	// 单节点且是新节点 == 集群初始节点
	if enableSingle && newNode {
		s.logger.Info("bootstrap needed")
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      conf.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		ra.BootstrapCluster(configuration)
	} else {
		s.logger.Info("no bootstrap needed")
	}

	return nil
}

// RaftAddr 返回 raft 传输层实际监听的地址
func (s *Store) RaftAddr() string {
	return string(s.transport.LocalAddr())
}

// Close 依次关闭 raft 传输层 日志存储和引擎 可以重复调用
func (s *Store) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if s.raft != nil {
		keep(s.raft.Shutdown().Error())
		s.raft = nil
	}
	if s.transport != nil {
		keep(s.transport.Close())
		s.transport = nil
	}
	if s.logStore != nil {
		keep(s.logStore.Close())
		s.logStore = nil
	}
	if s.engine != nil {
		keep(s.engine.Close())
		s.engine = nil
	}
	return first
}

// WaitForLeader blocks until a leader is detected, or the timeout expires.
func (s *Store) WaitForLeader(timeout time.Duration) (string, error) {
	tck := time.NewTicker(leaderWaitDelay)
	defer tck.Stop()
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	for {
		select {
		case <-tck.C:
			l := s.LeaderAddr()
			if l != "" {
				return l, nil
			}
		case <-tmr.C:
			return "", fmt.Errorf("timeout expired")
		}
	}
}

// WaitForAppliedIndex blocks until a given log index has been applied,
// or the timeout expires.
func (s *Store) WaitForAppliedIndex(idx uint64, timeout time.Duration) error {
	tck := time.NewTicker(appliedWaitDelay)
	defer tck.Stop()
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	for {
		select {
		case <-tck.C:
			if s.raft.AppliedIndex() >= idx {
				return nil
			}
		case <-tmr.C:
			return fmt.Errorf("timeout expired")
		}
	}
}

// WaitForApplied waits for all Raft log entries to to be applied to the
// underlying database.
func (s *Store) WaitForApplied(timeout time.Duration) error {
	if timeout == 0 {
		return nil
	}
	s.logger.Info("waiting for application of initial logs", "timeout", timeout)
	if err := s.WaitForAppliedIndex(s.raft.LastIndex(), timeout); err != nil {
		return ErrOpenTimeout
	}
	return nil
}

func (s *Store) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

func (s *Store) consistentRead() error {
	future := s.raft.VerifyLeader()
	if err := future.Error(); err != nil {
		return err
	}
	return nil
}

func (s *Store) Get(key string, lvl ConsistencyLevel) ([]byte, error) {
	// 如果是 Stale 读 则不管是否有leader
	if lvl != Stale {
		if s.raft.State() != raft.Leader {
			return nil, ErrNotLeader
		}
	}

	// 如果是 Consistent 读
	if lvl == Consistent {
		if err := s.consistentRead(); err != nil {
			return nil, err
		}
	}

	return s.engine.Get([]byte(key))
}

func (s *Store) Set(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.apply(&command{Op: opSet, Key: key, Value: value})
}

func (s *Store) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.apply(&command{Op: opDelete, Key: key})
}

func (s *Store) SetMeta(key, value string) error {
	return s.apply(&command{Op: opSetMeta, Key: key, Value: []byte(value)})
}

func (s *Store) GetMeta(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *Store) apply(c *command) error {
	if s.raft.State() != raft.Leader {
		return ErrNotLeader
	}
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}

	f := s.raft.Apply(b, raftTimeout)
	if err := f.Error(); err != nil {
		return err
	}
	if err, ok := f.Response().(error); ok {
		return err
	}
	return nil
}

// Join joins a node, identified by nodeID and located at addr, to this store.
// The node must be ready to respond to Raft communications at that address.
func (s *Store) Join(nodeID, httpAddr string, addr string) error {
	s.logger.Info("received join request", "node", nodeID, "addr", addr)

	if s.raft.State() != raft.Leader {
		return ErrNotLeader
	}

	configFuture := s.raft.GetConfiguration()
	if err := configFuture.Error(); err != nil {
		s.logger.Error("failed to get raft configuration", "error", err)
		return err
	}

	for _, srv := range configFuture.Configuration().Servers {
		// If a node already exists with either the joining node's ID or address,
		// that node may need to be removed from the config first.
		if srv.ID == raft.ServerID(nodeID) || srv.Address == raft.ServerAddress(addr) {
			// However if *both* the ID and the address are the same, then nothing -- not even
			// a join operation -- is needed.
			if srv.Address == raft.ServerAddress(addr) && srv.ID == raft.ServerID(nodeID) {
				s.logger.Info("node already member of cluster, ignoring join request", "node", nodeID, "addr", addr)
				return s.SetMeta(nodeID, httpAddr)
			}

			future := s.raft.RemoveServer(srv.ID, 0, 0)
			if err := future.Error(); err != nil {
				return errors.Wrapf(err, "error removing existing node %s at %s", nodeID, addr)
			}
		}
	}

	f := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0)
	if f.Error() != nil {
		return f.Error()
	}

	// Set meta info
	if err := s.SetMeta(nodeID, httpAddr); err != nil {
		return err
	}

	s.logger.Info("node joined successfully", "node", nodeID, "addr", addr)
	return nil
}

type fsm Store

func (f *fsm) Apply(l *raft.Log) interface{} {
	var c command
	if err := json.Unmarshal(l.Data, &c); err != nil {
		panic(fmt.Sprintf("failed to unmarshal command: %s", err.Error()))
	}

	switch c.Op {
	case opSet:
		return f.applySet(c.Key, c.Value)
	case opDelete:
		return f.applyDelete(c.Key)
	case opSetMeta:
		return f.applySetMeta(c.Key, string(c.Value))
	default:
		panic(fmt.Sprintf("invalid command op: %s", c.Op))
	}
}

func (f *fsm) applySet(key string, value []byte) interface{} {
	if err := f.engine.Put([]byte(key), value); err != nil {
		f.logger.Error("apply set failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (f *fsm) applyDelete(key string) interface{} {
	if _, err := f.engine.Delete([]byte(key)); err != nil {
		f.logger.Error("apply delete failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (f *fsm) applySetMeta(key, value string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meta[key] = value
	return nil
}

// Snapshot 拷贝引擎中全部记录和节点元数据
// Persist 在另一个 goroutine 中执行 所以这里必须深拷贝
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	st := &snapshotState{
		Entries: make(map[string][]byte),
		Meta:    make(map[string]string),
	}
	err := f.engine.Range(func(k, v []byte) error {
		st.Entries[string(k)] = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	for k, v := range f.meta {
		st.Meta[k] = v
	}
	f.mu.RUnlock()

	return &fsmSnapshot{state: st}, nil
}

// Restore 回放快照 先清空引擎再写入快照中的数据
func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	st, err := decodeSnapshot(rc)
	if err != nil {
		return err
	}

	if err := clearEngine(f.engine); err != nil {
		return errors.Wrap(err, "clear engine")
	}
	for k, v := range st.Entries {
		if err := f.engine.Put([]byte(k), v); err != nil {
			return errors.Wrapf(err, "restore %s", k)
		}
	}

	f.mu.Lock()
	f.meta = st.Meta
	f.mu.Unlock()

	return nil
}

// pathExists returns true if the given path exists.
func pathExists(p string) bool {
	if _, err := os.Lstat(p); err != nil && os.IsNotExist(err) {
		return false
	}
	return true
}

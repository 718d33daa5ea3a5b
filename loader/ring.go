package loader

import (
	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

type member string

func (m member) String() string {
	return string(m)
}

// ring 把单词映射到固定的目标节点 同一个单词总是发往同一个节点
type ring struct {
	single string
	ring   *consistent.Consistent
}

func newRing(targets []string) *ring {
	if len(targets) == 1 {
		return &ring{single: targets[0]}
	}

	cfg := consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	members := make([]consistent.Member, 0, len(targets))
	for _, t := range targets {
		members = append(members, member(t))
	}
	return &ring{ring: consistent.New(members, cfg)}
}

func (r *ring) locate(word string) string {
	if r.ring == nil {
		return r.single
	}
	return r.ring.LocateKey([]byte(word)).String()
}

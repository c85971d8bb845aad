package cluster

import (
	"github.com/buraksezer/consistent"
	"github.com/spaolacci/murmur3"
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type RingConfig struct {
	PartitionCount int
	LocalNode      string
}

type Node struct {
	name string
}

func (n Node) String() string {
	return n.name
}

// Ring maps keys onto a fixed set of partitions. Storage keys that carry a
// partition suffix spread hot hashes across redis slots while keeping every
// row of one run on the same partition.
type Ring struct {
	RingConfig
	hring *consistent.Consistent
}

func NewRing(c RingConfig) *Ring {
	if c.PartitionCount <= 0 {
		c.PartitionCount = 1
	}
	if len(c.LocalNode) == 0 {
		c.LocalNode = "local"
	}
	cfg := consistent.Config{
		PartitionCount:    c.PartitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	local := Node{name: c.LocalNode}
	return &Ring{
		RingConfig: c,
		hring:      consistent.New([]consistent.Member{local}, cfg),
	}
}

func (r *Ring) GetPartition(key string) int {
	return r.hring.FindPartitionID([]byte(key))
}

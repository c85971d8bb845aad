package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, ring *Ring){
		"partition is stable":         testPartitionStable,
		"partition is in range":       testPartitionRange,
		"keys spread over partitions": testPartitionSpread,
	} {
		t.Run(scenario, func(t *testing.T) {
			ring := NewRing(RingConfig{PartitionCount: 17, LocalNode: "node-a"})
			fn(t, ring)
		})
	}
}

func testPartitionStable(t *testing.T, ring *Ring) {
	first := ring.GetPartition("run-key-1")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, ring.GetPartition("run-key-1"))
	}
}

func testPartitionRange(t *testing.T, ring *Ring) {
	for i := 0; i < 200; i++ {
		p := ring.GetPartition(fmt.Sprintf("key-%d", i))
		require.GreaterOrEqual(t, p, 0)
		require.Less(t, p, 17)
	}
}

func testPartitionSpread(t *testing.T, ring *Ring) {
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[ring.GetPartition(fmt.Sprintf("key-%d", i))] = true
	}
	require.Greater(t, len(seen), 1)
}

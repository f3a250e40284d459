package rebalance

import "testing"

func TestPartitionIsDeterministic(t *testing.T) {
	p := SingleNode{}
	a := p.Partition("client-1", 8)
	b := p.Partition("client-1", 8)
	if a != b {
		t.Fatalf("expected deterministic partition, got %d then %d", a, b)
	}
}

func TestPartitionWithinRange(t *testing.T) {
	p := SingleNode{}
	for _, id := range []string{"a", "b", "c", "client-42", ""} {
		shard := p.Partition(id, 16)
		if shard >= 16 {
			t.Fatalf("partition %d out of range for num_shards=16", shard)
		}
	}
}

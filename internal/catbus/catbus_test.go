package catbus

import "testing"

func TestAggregationApply(t *testing.T) {
	vals := []int32{3, 7, 1, 9}
	cases := []struct {
		agg  Aggregation
		want int32
	}{
		{AggMin, 1},
		{AggMax, 9},
		{AggSum, 20},
		{AggAvg, 5},
	}
	for _, c := range cases {
		if got := c.agg.Apply(vals); got != c.want {
			t.Fatalf("agg %v: got %d want %d", c.agg, got, c.want)
		}
	}
}

func TestAggregationApplyEmpty(t *testing.T) {
	if got := AggSum.Apply(nil); got != 0 {
		t.Fatalf("got %d want 0", got)
	}
}

func TestRegistryTagLifecycle(t *testing.T) {
	r := NewRegistry()
	r.Add(Link{SourceHash: 1, Tag: 42})
	r.Add(Link{SourceHash: 2, Tag: 42})
	r.Add(Link{SourceHash: 3, Tag: 7})

	if got := len(r.ByTag(42)); got != 2 {
		t.Fatalf("ByTag(42) = %d links, want 2", got)
	}
	r.DeleteTag(42)
	if got := len(r.ByTag(42)); got != 0 {
		t.Fatalf("ByTag(42) after delete = %d, want 0", got)
	}
	if got := len(r.ByTag(7)); got != 1 {
		t.Fatalf("ByTag(7) = %d, want 1", got)
	}
}

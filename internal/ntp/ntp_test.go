package ntp

import "testing"

func TestElectorPicksLowestPriority(t *testing.T) {
	e := NewElector("a", 10)
	e.Join(Peer{ID: "b", Priority: 5})
	e.Join(Peer{ID: "c", Priority: 20})

	leader, ok := e.Leader()
	if !ok || leader.ID != "b" {
		t.Fatalf("leader = %+v, want b", leader)
	}
	if e.IsLeader() {
		t.Fatal("a should not be leader")
	}
	if !e.IsFollower() {
		t.Fatal("a should be a follower")
	}
}

func TestElectorSelfLeaderWhenAlone(t *testing.T) {
	e := NewElector("solo", 0)
	if !e.IsLeader() {
		t.Fatal("sole peer should be its own leader")
	}
}

func TestSyncClockAppliesOffset(t *testing.T) {
	local := uint64(1000)
	c := NewSyncClock(func() uint64 { return local })
	if c.NowMs() != 1000 {
		t.Fatalf("NowMs = %d, want 1000 before sync", c.NowMs())
	}
	c.ApplySync(1000, 1050) // leader's clock is 50ms ahead
	if got := c.NowMs(); got != 1050 {
		t.Fatalf("NowMs = %d, want 1050 after sync", got)
	}
}

func TestAlignedRoundsUp(t *testing.T) {
	if got := Aligned(103, 100); got != 200 {
		t.Fatalf("Aligned(103,100) = %d, want 200", got)
	}
	if got := Aligned(100, 100); got != 100 {
		t.Fatalf("Aligned(100,100) = %d, want 100 (already aligned)", got)
	}
}

// Package ntp is the narrow collaborator spec.md §6 describes for Network
// Time: a best-leader-election scheme giving every VM on a segment a
// shared monotonic millisecond clock for frame alignment. Per
// SPEC_FULL.md's Non-goals, this package never implements the wire
// protocol (`timesync.c`'s UDP ping/sync messages) — only the election
// and clock-skew bookkeeping a transport layer would drive.
package ntp

import "sort"

// Peer is one participant in leader election: an identity and a
// priority, lower-is-better exactly as timesync.c's get_priority()
// (battery state, uptime) feeds services_v_join_team.
type Peer struct {
	ID       string
	Priority uint16
}

// Elector tracks the peer set and resolves the current leader, mirroring
// timesync.c's is_leader/is_follower/is_service_available trio without
// the service-discovery transport underneath them.
type Elector struct {
	self  Peer
	peers map[string]Peer
}

// NewElector seeds an Elector with this node's own identity and priority.
func NewElector(selfID string, priority uint16) *Elector {
	e := &Elector{self: Peer{ID: selfID, Priority: priority}, peers: make(map[string]Peer)}
	e.peers[selfID] = e.self
	return e
}

// Join admits or updates a peer's standing in the election.
func (e *Elector) Join(p Peer) { e.peers[p.ID] = p }

// Leave drops a peer, e.g. on ping timeout.
func (e *Elector) Leave(id string) { delete(e.peers, id) }

// Leader returns the current best-priority peer (ties broken by the
// lexicographically smaller ID, for determinism), or ok=false if no peer
// has ever joined.
func (e *Elector) Leader() (Peer, bool) {
	if len(e.peers) == 0 {
		return Peer{}, false
	}
	ids := make([]string, 0, len(e.peers))
	for id := range e.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best := e.peers[ids[0]]
	for _, id := range ids[1:] {
		p := e.peers[id]
		if p.Priority < best.Priority {
			best = p
		}
	}
	return best, true
}

// IsLeader reports whether this node is the currently elected leader.
func (e *Elector) IsLeader() bool {
	l, ok := e.Leader()
	return ok && l.ID == e.self.ID
}

// IsFollower reports whether this node defers to a different leader, per
// timesync.c's is_follower (not leader, but a leader is available).
func (e *Elector) IsFollower() bool {
	l, ok := e.Leader()
	return ok && l.ID != e.self.ID
}

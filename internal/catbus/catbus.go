// Package catbus is the narrow collaborator spec.md §6 describes for
// linked KVDB variables: link mode/aggregation types and an in-process
// registry that applies aggregation semantics across a link's followers.
// Per SPEC_FULL.md's Non-goals, the UDP discovery/consumer-query wire
// protocol (catbus_link.h's link_msg_* structs) is out of scope — this
// package only models what a transport would hand to, or receive from,
// the VM's publish/link table.
package catbus

// Mode mirrors link_mode_t8: whether this node sources, sinks, or
// bidirectionally syncs a linked variable.
type Mode uint8

const (
	ModeSend Mode = iota
	ModeRecv
	ModeSync
)

// Aggregation mirrors link_aggregation_t8: how multiple followers'
// values combine into the value a SEND link's source publishes.
type Aggregation uint8

const (
	AggAny Aggregation = iota
	AggMin
	AggMax
	AggSum
	AggAvg
)

// Link is the narrow, wire-format-free view of one catbus link: the
// source/dest KVDB hashes, mode, aggregation rule, and a sync rate —
// exactly the fields vm.LinkSpec carries out of a program image, given
// a home outside the VM package so a host can resolve and apply them.
type Link struct {
	SourceHash  uint32
	DestHash    uint32
	Mode        Mode
	Aggregation Aggregation
	Tag         uint32
	RateMs      uint16
}

// Apply reduces a set of follower values into the single value a SEND
// link publishes, per Aggregation. An empty input returns 0, matching
// the original's "link with no followers contributes nothing" behavior.
func (a Aggregation) Apply(values []int32) int32 {
	if len(values) == 0 {
		return 0
	}
	switch a {
	case AggMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case AggMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case AggSum:
		var s int32
		for _, v := range values {
			s += v
		}
		return s
	case AggAvg:
		var s int64
		for _, v := range values {
			s += int64(v)
		}
		return int32(s / int64(len(values)))
	default: // AggAny
		return values[0]
	}
}

// Registry tracks the links a node currently participates in, keyed by
// tag, the narrow piece of "link state" a host needs to decide which
// links to re-resolve after a KVDB change, without knowing anything
// about how peers were discovered.
type Registry struct {
	links map[uint32][]Link
}

// NewRegistry returns an empty link registry.
func NewRegistry() *Registry { return &Registry{links: make(map[uint32][]Link)} }

// Add registers l under its tag.
func (r *Registry) Add(l Link) { r.links[l.Tag] = append(r.links[l.Tag], l) }

// ByTag returns every link sharing tag.
func (r *Registry) ByTag(tag uint32) []Link { return r.links[tag] }

// DeleteTag removes every link sharing tag, mirroring the KVDB tag-mask
// bulk delete this registry is reloaded alongside.
func (r *Registry) DeleteTag(tag uint32) { delete(r.links, tag) }

package kvdb

import (
	"sort"
	"sync"

	"sapphire/internal/defs"
	"sapphire/internal/util"
)

// MaxTags is the bit width of an entry's tag mask, per spec.md §3: tags
// are a bitmask, not a list, so bulk delete-by-tag is a single AND test.
const MaxTags = 8

// NotifyFunc is invoked after a successful Set, with the entry's current
// value. Per spec.md §4.4, a notifier must not itself call back into Set
// on the same hash; the db does not guard against that reentrancy, it is
// a documented caller obligation exactly as in the original source.
type NotifyFunc func(hash uint32, value []byte)

// entry is one hash-keyed slot. Flags carries the "Meta" bits spec.md's
// Entry type calls out separately: read-only and link-source.
type entry struct {
	hash     uint32
	typ      CatbusType
	count    uint16 // element count for array-typed entries; 1 otherwise
	flags    uint8
	tagMask  uint8
	value    []byte
	notifier NotifyFunc
}

const (
	flagReadOnly uint8 = 1 << iota
	flagLinkSource
)

// Db is the process-wide KVDB: a flat table keyed by name hash, per
// spec.md §3/§4.4. There is deliberately no B-tree here — the original
// target runs with at most a few hundred entries, so a single Go map
// keyed by hash (exactly as biscuit's hashtable package favors simple
// flat structures over general-purpose ones) is the idiomatic choice,
// not an oversight.
type Db struct {
	mu      sync.RWMutex
	entries map[uint32]*entry
	names   map[uint32]string // optional reverse lookup, populated by Add with withName=true
}

// New constructs an empty KVDB.
func New() *Db {
	return &Db{entries: make(map[uint32]*entry)}
}

// Add creates a new entry for name with the given type, element count,
// and tag mask. It fails with EEXIST if the hash is already occupied —
// Sapphire resolves name collisions by renaming at firmware-build time,
// not at runtime, per spec.md §4.4. withName additionally populates the
// reverse name→hash side index (kvdb.h's optional name table); most
// entries don't need it, so it defaults off via AddSimple.
func (db *Db) Add(name string, typ CatbusType, count uint16, tagMask uint8, withName bool) (uint32, defs.Err_t) {
	hash := util.HashName(name)
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.entries[hash]; ok {
		return 0, defs.EEXIST
	}
	size := typ.Size()
	if size < 0 {
		size = MaxStringLen
	}
	e := &entry{hash: hash, typ: typ, count: count, tagMask: tagMask, value: make([]byte, size*int(count))}
	db.entries[hash] = e
	if withName {
		if db.names == nil {
			db.names = make(map[uint32]string)
		}
		db.names[hash] = name
	}
	return hash, defs.EOK
}

// AddSimple is Add with withName=false, the common case.
func (db *Db) AddSimple(name string, typ CatbusType, count uint16, tagMask uint8) (uint32, defs.Err_t) {
	return db.Add(name, typ, count, tagMask, false)
}

// AddHash installs an entry directly under a precomputed hash, bypassing
// the name->hash step Add performs. A firmware image's DB and publish
// tables carry only the hash of each declared variable's name (hashed
// once at build time); the name string itself never survives into the
// image, so the VM loader installs these entries here rather than
// through Add.
func (db *Db) AddHash(hash uint32, typ CatbusType, count uint16, tagMask uint8) defs.Err_t {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.entries[hash]; ok {
		return defs.EEXIST
	}
	size := typ.Size()
	if size < 0 {
		size = MaxStringLen
	}
	db.entries[hash] = &entry{hash: hash, typ: typ, count: count, tagMask: tagMask, value: make([]byte, size*int(count))}
	return defs.EOK
}

// Delete removes a single entry by hash.
func (db *Db) Delete(hash uint32) defs.Err_t {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.entries[hash]; !ok {
		return defs.ENOENT
	}
	delete(db.entries, hash)
	delete(db.names, hash)
	return defs.EOK
}

// DeleteTag removes every entry whose tag mask intersects mask, per
// spec.md §4.4's tag-mask bulk delete. Used at firmware-reload time to
// drop every KVDB entry that belonged to the previous program image.
func (db *Db) DeleteTag(mask uint8) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	removed := 0
	for h, e := range db.entries {
		if e.tagMask&mask != 0 {
			delete(db.entries, h)
			delete(db.names, h)
			removed++
		}
	}
	return removed
}

// SetNotifier installs (or clears, with nil) the callback invoked after
// every successful Set on hash.
func (db *Db) SetNotifier(hash uint32, fn NotifyFunc) defs.Err_t {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[hash]
	if !ok {
		return defs.ENOENT
	}
	e.notifier = fn
	return defs.EOK
}

// SetReadOnly marks hash read-only; subsequent Set calls fail EINVAL.
func (db *Db) SetReadOnly(hash uint32, readOnly bool) defs.Err_t {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.entries[hash]
	if !ok {
		return defs.ENOENT
	}
	if readOnly {
		e.flags |= flagReadOnly
	} else {
		e.flags &^= flagReadOnly
	}
	return defs.EOK
}

// Type returns hash's stored type and element count.
func (db *Db) Type(hash uint32) (CatbusType, uint16, defs.Err_t) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[hash]
	if !ok {
		return TypeNone, 0, defs.ENOENT
	}
	return e.typ, e.count, defs.EOK
}

// Get copies hash's raw value into dst, which must be at least as large
// as the stored value.
func (db *Db) Get(hash uint32, dst []byte) defs.Err_t {
	db.mu.RLock()
	defer db.mu.RUnlock()
	e, ok := db.entries[hash]
	if !ok {
		return defs.ENOENT
	}
	if len(dst) < len(e.value) {
		return defs.EBOUNDS
	}
	copy(dst, e.value)
	return defs.EOK
}

// Set writes raw into hash's value, running it through type_convert if
// srcType differs from the entry's stored type, then fires the entry's
// notifier (if any) while the lock is released, matching the "notifier
// must not re-enter Set" contract without risking self-deadlock.
func (db *Db) Set(hash uint32, srcType CatbusType, raw []byte) defs.Err_t {
	db.mu.Lock()
	e, ok := db.entries[hash]
	if !ok {
		db.mu.Unlock()
		return defs.ENOENT
	}
	if e.flags&flagReadOnly != 0 {
		db.mu.Unlock()
		return defs.EINVAL
	}
	var converted []byte
	if srcType == e.typ {
		converted = raw
	} else {
		converted = Convert(srcType, e.typ, raw)
	}
	n := copy(e.value, converted)
	if n < len(e.value) {
		// zero-fill any remainder, matching Convert's own zero-fill rule
		for i := n; i < len(e.value); i++ {
			e.value[i] = 0
		}
	}
	notifier := e.notifier
	val := append([]byte(nil), e.value...)
	db.mu.Unlock()

	if notifier != nil {
		notifier(hash, val)
	}
	return defs.EOK
}

// Lookup resolves a published name to its hash without allocating an
// entry, the read path KVDB consumers (VM publish/subscribe bindings)
// use to bind by name once at load time and by hash thereafter.
func (db *Db) Lookup(name string) (uint32, defs.Err_t) {
	hash := util.HashName(name)
	db.mu.RLock()
	defer db.mu.RUnlock()
	if _, ok := db.entries[hash]; !ok {
		return 0, defs.ENOENT
	}
	return hash, defs.EOK
}

// Name returns the registered name for hash, if KVDB was given one via
// Add. This reverse lookup is a Sapphire addition beyond the original
// C implementation (which never needed to print names back out).
func (db *Db) Name(hash uint32) (string, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	name, ok := db.names[hash]
	return name, ok
}

// Hashes returns every registered hash in ascending order, for
// deterministic iteration (CLI listing, test assertions).
func (db *Db) Hashes() []uint32 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]uint32, 0, len(db.entries))
	for h := range db.entries {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of live entries.
func (db *Db) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.entries)
}

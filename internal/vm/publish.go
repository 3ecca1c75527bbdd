package vm

import (
	"encoding/binary"

	"sapphire/internal/defs"
	"sapphire/internal/kvdb"
)

// PublishIn copies every published variable's current KVDB value into the
// VM's global data pool, per spec.md §3/§5 "publish-in before VM entry".
// A publish entry whose type or address doesn't fit the global pool is
// skipped rather than failing the whole load; ParseImage does not check
// publish addresses against the global pool size.
func (v *Vm_t) PublishIn() {
	for _, p := range v.img.Publish {
		typ := kvdb.CatbusType(p.Type)
		size := typ.Size()
		if size <= 0 || int(p.Addr)+size > len(v.global) {
			continue
		}
		v.db.Get(p.Hash, v.global[p.Addr:int(p.Addr)+size])
	}
}

// PublishOut copies every published variable's current global-data value
// back out to KVDB, per spec.md §3/§5 "publish-out after VM exit".
func (v *Vm_t) PublishOut() {
	for _, p := range v.img.Publish {
		typ := kvdb.CatbusType(p.Type)
		size := typ.Size()
		if size <= 0 || int(p.Addr)+size > len(v.global) {
			continue
		}
		v.db.Set(p.Hash, typ, v.global[p.Addr:int(p.Addr)+size])
	}
}

// dbReadWord and dbWriteWord move a single int32 word through the KVDB
// entry at hash, converting through its stored Catbus type exactly as
// publish-in/out do — dbcall is just an on-demand, single-word version
// of the same type_convert path (spec.md §4.4).
func (v *Vm_t) dbReadWord(hash uint32) (int32, defs.Err_t) {
	typ, count, err := v.db.Type(hash)
	if !err.Ok() {
		return 0, err
	}
	size := typ.Size()
	if size <= 0 {
		return 0, defs.EINVAL
	}
	buf := make([]byte, size*int(count))
	if len(buf) < size {
		buf = make([]byte, size)
	}
	if err := v.db.Get(hash, buf); !err.Ok() {
		return 0, err
	}
	word := kvdb.Convert(typ, kvdb.TypeI32, buf[:size])
	return int32(binary.LittleEndian.Uint32(word)), defs.EOK
}

func (v *Vm_t) dbWriteWord(hash uint32, val int32) defs.Err_t {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(val))
	return v.db.Set(hash, kvdb.TypeI32, buf)
}

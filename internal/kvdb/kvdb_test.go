package kvdb

import (
	"testing"

	"sapphire/internal/defs"
)

func TestAddGetSet(t *testing.T) {
	db := New()
	hash, err := db.AddSimple("kv_test_u32", TypeU32, 1, 0)
	if err != defs.EOK {
		t.Fatalf("Add: %v", err)
	}

	raw := make([]byte, 4)
	raw[0] = 42
	if err := db.Set(hash, TypeU32, raw); err != defs.EOK {
		t.Fatalf("Set: %v", err)
	}

	out := make([]byte, 4)
	if err := db.Get(hash, out); err != defs.EOK {
		t.Fatalf("Get: %v", err)
	}
	if out[0] != 42 {
		t.Fatalf("got %v want [42 0 0 0]", out)
	}
}

func TestAddDuplicateFails(t *testing.T) {
	db := New()
	if _, err := db.AddSimple("dup", TypeBool, 1, 0); err != defs.EOK {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := db.AddSimple("dup", TypeBool, 1, 0); err != defs.EEXIST {
		t.Fatalf("second Add: got %v want EEXIST", err)
	}
}

func TestDeleteTag(t *testing.T) {
	db := New()
	h1, _ := db.AddSimple("a", TypeU8, 1, 0x01)
	h2, _ := db.AddSimple("b", TypeU8, 1, 0x02)
	h3, _ := db.AddSimple("c", TypeU8, 1, 0x01|0x02)

	removed := db.DeleteTag(0x01)
	if removed != 2 {
		t.Fatalf("removed %d want 2", removed)
	}
	if _, _, err := db.Type(h1); err != defs.ENOENT {
		t.Fatalf("h1 should be gone")
	}
	if _, _, err := db.Type(h3); err != defs.ENOENT {
		t.Fatalf("h3 should be gone, err=%v", err)
	}
	if _, _, err := db.Type(h2); err != defs.EOK {
		t.Fatalf("h2 should survive, err=%v", err)
	}
}

func TestReadOnlyRejectsSet(t *testing.T) {
	db := New()
	hash, _ := db.AddSimple("ro", TypeU8, 1, 0)
	db.SetReadOnly(hash, true)
	if err := db.Set(hash, TypeU8, []byte{1}); err != defs.EINVAL {
		t.Fatalf("Set on read-only: got %v want EINVAL", err)
	}
}

func TestNotifierFires(t *testing.T) {
	db := New()
	hash, _ := db.AddSimple("notif", TypeU8, 1, 0)
	got := make(chan byte, 1)
	db.SetNotifier(hash, func(h uint32, v []byte) {
		got <- v[0]
	})
	db.Set(hash, TypeU8, []byte{7})
	select {
	case v := <-got:
		if v != 7 {
			t.Fatalf("notifier saw %d want 7", v)
		}
	default:
		t.Fatal("notifier did not fire")
	}
}

func TestConvertNumericSaturates(t *testing.T) {
	src := []byte{0xFF, 0xFF, 0x00, 0x00} // u32 = 65535
	dst := Convert(TypeU32, TypeU8, src)
	if dst[0] != 255 {
		t.Fatalf("got %d want 255 (saturated)", dst[0])
	}
}

func TestLookupByName(t *testing.T) {
	db := New()
	hash, _ := db.Add("named", TypeU8, 1, 0, true)
	got, err := db.Lookup("named")
	if err != defs.EOK || got != hash {
		t.Fatalf("Lookup: got (%v,%v) want (%v,EOK)", got, err, hash)
	}
	if name, ok := db.Name(hash); !ok || name != "named" {
		t.Fatalf("Name: got (%q,%v)", name, ok)
	}
}

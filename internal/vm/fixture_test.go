package vm

import (
	"strconv"
	"strings"
	"testing"

	"sapphire/internal/defs"
	"sapphire/internal/fixtures"
)

// TestVmFixtureIntegerHello is scenario 5 (spec.md §8) run through a
// txtar fixture: the inline-assembled program image and its expected
// global[0] value are bundled in memory with fixtures.Build, then read
// back with fixtures.Load, per SPEC_FULL.md §2's test-tooling note.
func TestVmFixtureIntegerHello(t *testing.T) {
	var a asm
	a.ldi(0, 3)
	a.ldi(1, 4)
	a.add(2, 0, 1)
	a.stgi(2, 0)
	a.ret(2)

	b := NewBuilder()
	b.SetEntryPoints(0, 0)
	b.SetDataLens(256, 4, 256)
	b.SetCode(padCode(a.buf))
	raw := b.Build()

	data := fixtures.Build("scenario 5: integer hello, 3+4", map[string][]byte{
		"program.img":  raw,
		"expected.txt": []byte("global[0]=7\n"),
	}, []string{"program.img", "expected.txt"})

	bundle := fixtures.Load(data)
	img, err := ParseImage(bundle.MustFile("program.img"))
	if !err.Ok() {
		t.Fatalf("ParseImage: %v", err)
	}

	m := NewVm(img, 0)
	if status := m.RunInit(); status != defs.VM_STATUS_OK {
		t.Fatalf("RunInit: %v", status)
	}

	want := parseExpectedGlobal0(t, string(bundle.MustFile("expected.txt")))
	if got := m.globalRead(0); got != want {
		t.Fatalf("global[0] = %d, want %d (from fixture)", got, want)
	}
}

func parseExpectedGlobal0(t *testing.T, expected string) int32 {
	t.Helper()
	line := strings.TrimSpace(expected)
	const prefix = "global[0]="
	if !strings.HasPrefix(line, prefix) {
		t.Fatalf("malformed fixture expectation: %q", expected)
	}
	n, err := strconv.Atoi(strings.TrimPrefix(line, prefix))
	if err != nil {
		t.Fatalf("malformed fixture expectation: %v", err)
	}
	return int32(n)
}

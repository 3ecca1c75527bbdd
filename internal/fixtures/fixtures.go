// Package fixtures loads golden test fixtures bundled as single txtar
// files — a tiny on-flash image plus its expected directory listing, or a
// VM program image plus its expected KVDB dump — instead of checking in
// many small binary blobs, per SPEC_FULL.md §2's test-tooling note.
package fixtures

import (
	"bytes"
	"fmt"

	"golang.org/x/tools/txtar"
)

// Bundle is a parsed fixture: a comment (free-form description) plus a
// set of named file sections, each either raw bytes (a program image) or
// text (an expected decoded form a test compares against).
type Bundle struct {
	Comment string
	files   map[string][]byte
	order   []string
}

// Load parses a txtar-encoded fixture from raw bytes, removing the one
// trailing newline Build adds to every section.
func Load(data []byte) *Bundle {
	a := txtar.Parse(data)
	b := &Bundle{Comment: string(a.Comment), files: make(map[string][]byte, len(a.Files))}
	for _, f := range a.Files {
		b.files[f.Name] = bytes.TrimSuffix(f.Data, []byte("\n"))
		b.order = append(b.order, f.Name)
	}
	return b
}

// File returns the named section's raw bytes, or ok=false if absent.
func (b *Bundle) File(name string) ([]byte, bool) {
	data, ok := b.files[name]
	return data, ok
}

// MustFile is File, panicking on a missing section — fixtures are
// authored alongside the tests that load them, so a missing section is a
// fixture-authoring bug, not a runtime condition to handle gracefully.
func (b *Bundle) MustFile(name string) []byte {
	data, ok := b.files[name]
	if !ok {
		panic(fmt.Sprintf("fixtures: missing section %q", name))
	}
	return data
}

// Names returns every section name, in the order they appeared in the
// archive.
func (b *Bundle) Names() []string { return append([]string(nil), b.order...) }

// Build assembles a txtar-encoded fixture from a comment and an ordered
// set of named sections, the inverse of Load. Each section is terminated
// with one newline, so binary sections survive txtar's newline rule byte
// for byte. internal/vm's fixture test uses it to build its bundle in
// memory.
func Build(comment string, sections map[string][]byte, order []string) []byte {
	a := &txtar.Archive{Comment: []byte(comment)}
	for _, name := range order {
		data := append(append([]byte(nil), sections[name]...), '\n')
		a.Files = append(a.Files, txtar.File{Name: name, Data: data})
	}
	return txtar.Format(a)
}

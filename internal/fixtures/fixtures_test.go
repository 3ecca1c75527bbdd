package fixtures

import "testing"

func TestBuildThenLoadRoundTrips(t *testing.T) {
	sections := map[string][]byte{
		"program.img": {0x01, 0x02, 0x03},
		"expected.kv": []byte("counter_global=7\n"),
	}
	order := []string{"program.img", "expected.kv"}
	data := Build("scenario 5: integer hello", sections, order)

	b := Load(data)
	if b.Comment != "scenario 5: integer hello\n" {
		t.Fatalf("Comment = %q", b.Comment)
	}
	img, ok := b.File("program.img")
	if !ok || len(img) != 3 {
		t.Fatalf("program.img missing or wrong length: %v ok=%v", img, ok)
	}
	kv, ok := b.File("expected.kv")
	if !ok || string(kv) != "counter_global=7\n" {
		t.Fatalf("expected.kv = %q ok=%v", kv, ok)
	}
	if got := b.Names(); len(got) != 2 || got[0] != "program.img" {
		t.Fatalf("Names = %v", got)
	}
}

func TestMustFilePanicsOnMissing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for missing section")
		}
	}()
	b := Load(Build("empty", nil, nil))
	b.MustFile("nope")
}

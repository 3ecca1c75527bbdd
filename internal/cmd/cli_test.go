package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"sapphire/internal/vm"
)

// buildHaltImage produces the smallest valid program image: init/loop both
// point at a single RET, enough to drive vm load/run through the CLI without needing the full assembler helper vm's own
// _test.go keeps unexported.
func buildHaltImage(t *testing.T) []byte {
	t.Helper()
	code := []byte{byte(vm.OpRet), 0, 0, 0}
	b := vm.NewBuilder()
	b.SetEntryPoints(0, 0)
	b.SetDataLens(256, 4, 256)
	b.SetCode(code)
	return b.Build()
}

func TestCLIFormatMountLs(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "flash.img")

	root := NewRootCmd()
	root.SetArgs([]string{"format", imgPath, "--blocks", "64"})
	var out bytes.Buffer
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("format: %v", err)
	}

	root = NewRootCmd()
	out.Reset()
	root.SetArgs([]string{"mount", imgPath})
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("file_count = 2")) {
		t.Errorf("mount output missing file_count: %s", out.String())
	}

	root = NewRootCmd()
	out.Reset()
	root.SetArgs([]string{"ls", imgPath})
	root.SetOut(&out)
	if err := root.Execute(); err != nil {
		t.Fatalf("ls on empty image: %v", err)
	}
}

func TestCLIVmLoadAndRun(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "program.img")
	if err := os.WriteFile(imgPath, buildHaltImage(t), 0o644); err != nil {
		t.Fatalf("writing program image: %v", err)
	}

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"vm", "load", imgPath})
	if err := root.Execute(); err != nil {
		t.Fatalf("vm load: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte("init_pc = 0, loop_pc = 0")) {
		t.Errorf("vm load output missing entry points: %s", out.String())
	}

	root = NewRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"vm", "run", imgPath, "--ticks", "2"})
	if err := root.Execute(); err != nil {
		t.Fatalf("vm run: %v", err)
	}
}

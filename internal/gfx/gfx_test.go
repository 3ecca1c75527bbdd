package gfx

import (
	"testing"

	"sapphire/internal/defs"
)

func TestCalcIndex2D(t *testing.T) {
	b := NewBuffer()
	b.Init([]ArrayDesc{{Count: 9, Index: 0, SizeX: 3, SizeY: 3}})
	idx, err := b.CalcIndex(0, 1, 2)
	if err != defs.EOK {
		t.Fatalf("CalcIndex: %v", err)
	}
	if idx != 7 { // y*sizeX+x = 2*3+1
		t.Fatalf("idx = %d, want 7", idx)
	}
}

func TestCalcIndexReverse(t *testing.T) {
	b := NewBuffer()
	b.Init([]ArrayDesc{{Count: 4, Index: 0, Reverse: true}})
	idx, err := b.CalcIndex(0, 0, 0xFFFF)
	if err != defs.EOK || idx != 3 {
		t.Fatalf("idx = %d err=%v, want 3", idx, err)
	}
}

func TestSet1DResetsFade(t *testing.T) {
	b := NewBuffer()
	b.Init([]ArrayDesc{{Count: 1}})
	b.Set1D(AttrHSFade, 500, 0)
	b.Set1D(AttrHue, 1000, 0)
	fade, _ := b.Get1D(AttrHSFade, 0)
	if fade != 0 {
		t.Fatalf("hsFade = %d, want 0 after hue write", fade)
	}
}

func TestArrayAddWrapsHue(t *testing.T) {
	b := NewBuffer()
	b.Init([]ArrayDesc{{Count: 2, Index: 0}})
	b.Set1D(AttrHue, 65000, 0)
	b.Set1D(AttrHue, 65000, 1)
	if err := b.Array(0, AttrHue, ArrayAdd, 1000); err != defs.EOK {
		t.Fatalf("Array: %v", err)
	}
	got, _ := b.Get1D(AttrHue, 0)
	if got != 464 { // (65000+1000) mod 65536
		t.Fatalf("hue = %d, want 464", got)
	}
}

func TestArrayClampsVal(t *testing.T) {
	b := NewBuffer()
	b.Init([]ArrayDesc{{Count: 1, Index: 0}})
	b.Set1D(AttrVal, 60000, 0)
	b.Array(0, AttrVal, ArrayAdd, 10000)
	got, _ := b.Get1D(AttrVal, 0)
	if got != 65535 {
		t.Fatalf("val = %d, want clamped 65535", got)
	}
}

func TestLibCallTriangleSymmetry(t *testing.T) {
	b := NewBuffer()
	peak, _ := b.Call("triangle", []int32{32768})
	zero, _ := b.Call("triangle", []int32{0})
	if peak <= zero {
		t.Fatalf("triangle(32768)=%d should exceed triangle(0)=%d", peak, zero)
	}
}

func TestLibCallUnknownTraps(t *testing.T) {
	b := NewBuffer()
	if _, err := b.Call("nope", nil); err != defs.ETRAP {
		t.Fatalf("got %v want ETRAP", err)
	}
}

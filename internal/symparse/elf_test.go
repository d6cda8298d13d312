//go:build linux

package symparse

import "testing"

func TestParseMapsLineExecutableRegion(t *testing.T) {
	line := "00400000-00452000 r-xp 00000000 08:02 173521                     /usr/bin/foo"
	r, ok := parseMapsLine(line)
	if !ok {
		t.Fatal("expected ok=true for a valid executable region")
	}
	if r.Start != 0x00400000 || r.End != 0x00452000 {
		t.Errorf("got start=%#x end=%#x", r.Start, r.End)
	}
	if r.Inode != 173521 {
		t.Errorf("inode = %d, want 173521", r.Inode)
	}
	if r.Path != "/usr/bin/foo" {
		t.Errorf("path = %q", r.Path)
	}
}

func TestParseMapsLineSkipsNonExecutable(t *testing.T) {
	line := "00600000-00601000 rw-p 00000000 08:02 173521                     /usr/bin/foo"
	_, ok := parseMapsLine(line)
	if ok {
		t.Fatal("expected ok=false for a non-executable region")
	}
}

func TestParseMapsLineSkipsAnonymous(t *testing.T) {
	line := "7f0000000000-7f0000021000 r-xp 00000000 00:00 0"
	_, ok := parseMapsLine(line)
	if ok {
		t.Fatal("expected ok=false for an anonymous mapping (inode 0)")
	}
}

func TestIsARMMappingSymbol(t *testing.T) {
	for _, name := range []string{"$x", "$x.1", "$d", "$d.2", "$a", "$t"} {
		if !isARMMappingSymbol(name) {
			t.Errorf("isARMMappingSymbol(%q) = false, want true", name)
		}
	}
	if isARMMappingSymbol("main") {
		t.Error("isARMMappingSymbol(main) = true, want false")
	}
}

func TestAlign4(t *testing.T) {
	cases := map[uint32]uint32{0: 0, 1: 4, 3: 4, 4: 4, 5: 8}
	for in, want := range cases {
		if got := align4(in); got != want {
			t.Errorf("align4(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestLeUint32AndUint64(t *testing.T) {
	b := []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	if got := leUint32(b[:4]); got != 1 {
		t.Errorf("leUint32 = %d, want 1", got)
	}
	if got := leUint64(b); got != (2<<32 | 1) {
		t.Errorf("leUint64 = %#x, want %#x", got, uint64(2<<32|1))
	}
}

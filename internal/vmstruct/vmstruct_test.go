package vmstruct

import "testing"

// fakeImage is a tiny synthetic address space: bytes is a flat buffer
// and base is the address bytes[0] corresponds to, letting tests place
// strings/ints/pointers at absolute addresses.
type fakeImage struct {
	base  uintptr
	bytes []byte
}

func newFakeImage(base uintptr, size int) *fakeImage {
	return &fakeImage{base: base, bytes: make([]byte, size)}
}

func (f *fakeImage) off(addr uintptr) (int, bool) {
	if addr < f.base || int(addr-f.base) >= len(f.bytes) {
		return 0, false
	}
	return int(addr - f.base), true
}

func (f *fakeImage) putUintptr(addr uintptr, v uintptr) {
	o, ok := f.off(addr)
	if !ok {
		panic("out of range")
	}
	for i := 0; i < 8; i++ {
		f.bytes[o+i] = byte(v >> (8 * i))
	}
}

func (f *fakeImage) putInt32(addr uintptr, v int32) {
	o, ok := f.off(addr)
	if !ok {
		panic("out of range")
	}
	for i := 0; i < 4; i++ {
		f.bytes[o+i] = byte(uint32(v) >> (8 * i))
	}
}

func (f *fakeImage) putCString(addr uintptr, s string) {
	o, ok := f.off(addr)
	if !ok {
		panic("out of range")
	}
	copy(f.bytes[o:], s)
	f.bytes[o+len(s)] = 0
}

func (f *fakeImage) ReadUintptr(addr uintptr) (uintptr, bool) {
	o, ok := f.off(addr)
	if !ok {
		return 0, false
	}
	var v uintptr
	for i := 7; i >= 0; i-- {
		v = v<<8 | uintptr(f.bytes[o+i])
	}
	return v, true
}

func (f *fakeImage) ReadInt32(addr uintptr) (int32, bool) {
	o, ok := f.off(addr)
	if !ok {
		return 0, false
	}
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(f.bytes[o+i])
	}
	return int32(v), true
}

func (f *fakeImage) ReadCString(addr uintptr) (string, bool) {
	o, ok := f.off(addr)
	if !ok {
		return "", false
	}
	end := o
	for end < len(f.bytes) && f.bytes[end] != 0 {
		end++
	}
	return string(f.bytes[o:end]), true
}

type fakeSymbols map[string]uintptr

func (f fakeSymbols) FindSymbol(name string) (uintptr, bool) {
	v, ok := f[name]
	return v, ok
}

// layoutEntry writes one gHotSpotVMStructEntry at entryAddr, using the
// caller's chosen field layout (type, field, offset, address, in that
// order, each 8-byte aligned for simplicity).
func layoutEntry(img *fakeImage, entryAddr uintptr, typ, field string, offsetVal int32, addrVal uintptr, strAddr *uintptr) {
	typAddr := *strAddr
	img.putCString(typAddr, typ)
	*strAddr += uintptr(len(typ) + 1 + 8 - (len(typ)+1)%8)

	fieldAddr := *strAddr
	img.putCString(fieldAddr, field)
	*strAddr += uintptr(len(field) + 1 + 8 - (len(field)+1)%8)

	img.putUintptr(entryAddr+0, typAddr)
	img.putUintptr(entryAddr+8, fieldAddr)
	img.putInt32(entryAddr+16, offsetVal)
	img.putUintptr(entryAddr+24, addrVal)
}

func TestResolveWalksTableAndFillsOffsets(t *testing.T) {
	const base = uintptr(0x10000)
	const stride = uintptr(32)
	img := newFakeImage(base, 0x2000)

	symsBase := base + 0x1000
	entriesBase := base + 0x100
	strBase := base + 0x800

	img.putUintptr(symsBase+0, entriesBase)
	img.putUintptr(symsBase+8, stride)
	img.putUintptr(symsBase+16, 0)  // type offset
	img.putUintptr(symsBase+24, 8)  // field offset
	img.putUintptr(symsBase+32, 16) // offset-field offset
	img.putUintptr(symsBase+40, 24) // address offset

	syms := fakeSymbols{
		"gHotSpotVMStructs":                     symsBase + 0,
		"gHotSpotVMStructEntryArrayStride":       symsBase + 8,
		"gHotSpotVMStructEntryTypeNameOffset":    symsBase + 16,
		"gHotSpotVMStructEntryFieldNameOffset":   symsBase + 24,
		"gHotSpotVMStructEntryOffsetOffset":      symsBase + 32,
		"gHotSpotVMStructEntryAddressOffset":     symsBase + 40,
	}

	str := strBase
	layoutEntry(img, entriesBase+0*stride, "Klass", "_name", 0x8, 0, &str)
	layoutEntry(img, entriesBase+1*stride, "Symbol", "_length", 0xC, 0, &str)
	layoutEntry(img, entriesBase+2*stride, "Symbol", "_body", 0x10, 0, &str)
	// terminator: type pointer is NULL
	img.putUintptr(entriesBase+3*stride+0, 0)

	o, err := Resolve(img, syms)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if o.KlassName != 0x8 {
		t.Errorf("KlassName = %#x, want 0x8", o.KlassName)
	}
	if o.SymbolLength != 0xC {
		t.Errorf("SymbolLength = %#x, want 0xC", o.SymbolLength)
	}
	if o.SymbolBody != 0x10 {
		t.Errorf("SymbolBody = %#x, want 0x10", o.SymbolBody)
	}
	if !o.Ready() {
		t.Error("expected Ready() true once klass/symbol offsets resolve")
	}
	if o.HasMethodStructs() {
		t.Error("expected HasMethodStructs() false: no method offsets were populated")
	}
}

func TestResolveMissingSymbolsReturnsAllUnresolved(t *testing.T) {
	img := newFakeImage(0x1000, 0x100)
	o, err := Resolve(img, fakeSymbols{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if o.Ready() {
		t.Error("expected Ready() false with no symbols resolved")
	}
	if o.KlassName != -1 {
		t.Errorf("KlassName = %d, want -1", o.KlassName)
	}
}

func TestCodeHeapContains(t *testing.T) {
	c := CodeHeapContains{Bounds: []CodeHeapBounds{{Low: 0x1000, High: 0x2000}, {Low: 0x5000, High: 0x6000}}}
	if !c.CodeHeapContains(0x1500) {
		t.Error("expected 0x1500 to be contained")
	}
	if c.CodeHeapContains(0x3000) {
		t.Error("expected 0x3000 to not be contained")
	}
	if c.CodeHeapContains(0x2000) {
		t.Error("expected high bound to be exclusive")
	}
}

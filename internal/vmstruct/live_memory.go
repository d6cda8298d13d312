package vmstruct

import "unsafe"

// LiveMemory reads directly from the agent's own address space,
// mirroring internal/walker.LiveMemory. Used only in production; every
// test supplies a synthetic Memory instead.
type LiveMemory struct{}

// ReadUintptr reads the pointer-sized value at addr.
func (LiveMemory) ReadUintptr(addr uintptr) (uintptr, bool) {
	if addr == 0 {
		return 0, false
	}
	return *(*uintptr)(unsafe.Pointer(addr)), true
}

// ReadInt32 reads the 4-byte value at addr.
func (LiveMemory) ReadInt32(addr uintptr) (int32, bool) {
	if addr == 0 {
		return 0, false
	}
	return *(*int32)(unsafe.Pointer(addr)), true
}

// ReadCString reads a NUL-terminated string starting at addr, capped
// at 4096 bytes as a sanity bound against a corrupt pointer.
func (LiveMemory) ReadCString(addr uintptr) (string, bool) {
	if addr == 0 {
		return "", false
	}
	const maxLen = 4096
	buf := make([]byte, 0, 64)
	for i := 0; i < maxLen; i++ {
		b := *(*byte)(unsafe.Pointer(addr + uintptr(i)))
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
	}
	return string(buf), true
}

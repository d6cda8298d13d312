// Package walker implements the native frame-pointer walker (spec
// §4.G), ported from the original source's stack_walker.rs. It
// performs no allocation and no locking; every memory read is
// preceded by a range check against the current sp/fp so it tolerates
// arbitrary garbage without crashing.
package walker

import "unsafe"

const (
	// MaxFrameSize bounds a single frame's size (~256 KiB).
	MaxFrameSize = 0x40000
	// MaxWalkSize bounds the total walk depth in stack bytes (~64 KiB).
	MaxWalkSize = 0x10000
	// MinValidPC is the smallest magnitude a plausible PC may have;
	// values in (-MinValidPC, MinValidPC) are rejected as garbage.
	MinValidPC = 0x1000
	// framePCSlot is the pointer-sized offset from a saved frame
	// pointer to the caller's return address, fixed by the x86_64/
	// AArch64 System V and AAPCS64 frame layouts this agent targets.
	framePCSlot = 1
)

// CodeHeapChecker reports whether pc falls within the runtime's
// dynamically generated code heap (spec §4.F fast path). When it does,
// the walker stops and hands off to AGCT via StackContext instead of
// continuing the native unwind.
type CodeHeapChecker interface {
	CodeHeapContains(pc uintptr) bool
}

// StackContext is the hand-off point to AGCT for managed continuation,
// populated with the last native (pc, sp, fp) observed before entering
// runtime-generated code.
type StackContext struct {
	PC uintptr
	SP uintptr
	FP uintptr
}

// Set records pc/sp/fp into the context.
func (c *StackContext) Set(pc, sp, fp uintptr) {
	c.PC, c.SP, c.FP = pc, sp, fp
}

const ptrSize = unsafe.Sizeof(uintptr(0))

// Memory abstracts the address space being walked: a live signal
// context reads directly through unsafe pointers, while tests supply
// a synthetic byte buffer keyed by address.
type Memory interface {
	// ReadUintptr returns the pointer-sized value at addr and whether
	// the read was possible (tests can report false for out-of-range
	// addresses; live memory reads are always "possible" but may
	// still be garbage, which the bounds checks below catch before
	// ever dereferencing).
	ReadUintptr(addr uintptr) (uintptr, bool)
}

// WalkFrame unwinds up to len(out) native frames starting from
// (pc, sp, fp), stopping early if pc enters the runtime code heap (in
// which case javaCtx records the hand-off point) or if any guard
// fails. It returns the frames actually captured, callee-first.
//
// WalkFrame is async-signal-safe provided mem.ReadUintptr is (a plain
// pointer load with prior bounds checking qualifies).
func WalkFrame(mem Memory, pc, sp, fp uintptr, codeHeap CodeHeapChecker, out []uintptr, javaCtx *StackContext) []uintptr {
	bottom := sp + MaxWalkSize
	deep := 0
	for deep < len(out) {
		if isInvalidPC(pc) {
			// A garbage entry pc (e.g. a torn signal context) can
			// never be a valid native frame; stop before recording
			// anything rather than emitting a bogus leaf frame.
			break
		}
		if codeHeap != nil && codeHeap.CodeHeapContains(pc) {
			if javaCtx != nil {
				javaCtx.Set(pc, sp, fp)
			}
			break
		}
		out[deep] = pc
		deep++

		if fp < sp || fp >= sp+MaxFrameSize || fp >= bottom {
			break
		}
		if fp%uintptr(ptrSize) != 0 {
			break
		}

		nextPC, ok := mem.ReadUintptr(fp + framePCSlot*ptrSize)
		if !ok {
			break
		}
		if isInvalidPC(nextPC) {
			break
		}

		nextFP, ok := mem.ReadUintptr(fp)
		if !ok {
			break
		}

		pc, fp = nextPC, nextFP
	}
	return out[:deep]
}

func isInvalidPC(pc uintptr) bool {
	signed := int64(pc)
	return signed > -MinValidPC && signed < MinValidPC
}

// LiveMemory reads directly from the process's own address space via
// unsafe pointers. Used in the real signal handler; never in tests.
type LiveMemory struct{}

// ReadUintptr reads the pointer-sized value at addr. Callers must have
// already range-checked addr; LiveMemory performs no validation of
// its own beyond a nil check, matching the walker's contract that all
// bounds checks happen in WalkFrame before a read is issued.
func (LiveMemory) ReadUintptr(addr uintptr) (uintptr, bool) {
	if addr == 0 {
		return 0, false
	}
	return *(*uintptr)(unsafe.Pointer(addr)), true
}

package walker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeMemory map[uintptr]uintptr

func (m fakeMemory) ReadUintptr(addr uintptr) (uintptr, bool) {
	v, ok := m[addr]
	return v, ok
}

type noCodeHeap struct{}

func (noCodeHeap) CodeHeapContains(uintptr) bool { return false }

// Scenario 2a (spec §8): pc = 0x1000 - 1 must yield zero native frames
// and must not crash.
func TestWalkFrameInvalidEntryPC(t *testing.T) {
	out := make([]uintptr, 16)
	var ctx StackContext
	frames := WalkFrame(fakeMemory{}, 0x1000-1, 0x7000, 0x7100, noCodeHeap{}, out, &ctx)
	assert.Empty(t, frames)
}

// Scenario 2b (spec §8): an unaligned fp stops the walk at that frame.
func TestWalkFrameUnalignedFPStops(t *testing.T) {
	sp := uintptr(0x7000)
	fp := sp + 1 // intentionally misaligned
	out := make([]uintptr, 16)
	var ctx StackContext
	frames := WalkFrame(fakeMemory{}, 0x5000, sp, fp, noCodeHeap{}, out, &ctx)
	assert.Len(t, frames, 1)
	assert.EqualValues(t, 0x5000, frames[0])
}

func TestWalkFrameStopsOnCodeHeapEntry(t *testing.T) {
	sp := uintptr(0x7000)
	fp := sp + 0x10
	out := make([]uintptr, 16)
	var ctx StackContext
	ch := fakeCodeHeap{low: 0x5000, high: 0x6000}
	frames := WalkFrame(fakeMemory{}, 0x5500, sp, fp, ch, out, &ctx)
	assert.Empty(t, frames)
	assert.EqualValues(t, 0x5500, ctx.PC)
	assert.EqualValues(t, sp, ctx.SP)
	assert.EqualValues(t, fp, ctx.FP)
}

type fakeCodeHeap struct{ low, high uintptr }

func (c fakeCodeHeap) CodeHeapContains(pc uintptr) bool { return pc >= c.low && pc < c.high }

func TestWalkFrameFollowsChainUntilTerminator(t *testing.T) {
	// Build a two-frame chain: frame at fp1 -> caller pc2, caller fp2;
	// fp2's saved caller fp is missing, so reading *fp2 fails and ends
	// the walk.
	fp1 := uintptr(0x8000)
	fp2 := uintptr(0x9000)
	mem := fakeMemory{
		fp1 + ptrSize: 0x4002, // return address stored at fp+ptrsize
		fp1:           fp2,    // saved caller fp
		fp2 + ptrSize: 0x4003,
		// fp2's saved caller fp intentionally absent -> ReadUintptr fails -> stop
	}
	out := make([]uintptr, 16)
	var ctx StackContext
	frames := WalkFrame(mem, 0x4001, 0x100, fp1, noCodeHeap{}, out, &ctx)
	// fp2's own saved caller fp is unreadable, so the walk stops after
	// recording the two frames it could fully validate; 0x4003 (read
	// as fp2's return address) is never reached because the fp chain
	// breaks before the top-of-loop "record pc" step for it runs.
	assert.Equal(t, []uintptr{0x4001, 0x4002}, frames)
}

func TestWalkFrameRespectsOutputCapacity(t *testing.T) {
	fp := uintptr(0x8000)
	mem := fakeMemory{
		fp + ptrSize: 0x4002,
		fp:           fp, // self-referential chain, would loop forever without the cap
	}
	out := make([]uintptr, 2)
	var ctx StackContext
	frames := WalkFrame(mem, 0x4001, 0x100, fp, noCodeHeap{}, out, &ctx)
	assert.Len(t, frames, 2)
}

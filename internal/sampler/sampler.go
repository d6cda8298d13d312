// Package sampler implements the sampling coordinator (spec §4.I):
// the signal-handler fast path that captures one trace per SIGPROF/
// SIGALRM delivery, and the Consume/DrainAll calls through which the
// background consumer drains the ring (rendering happens in the
// consumer, not here). Ported from the original source's profiler.rs,
// restructured around small interfaces so the signal-unsafe pieces
// (JVMTI, AGCT, rendering) are injectable and independently testable.
package sampler

import (
	"sync"
	"sync/atomic"

	"github.com/embervale/jprofiler/internal/codecache"
	"github.com/embervale/jprofiler/internal/ring"
	"github.com/embervale/jprofiler/internal/spinlock"
	"github.com/embervale/jprofiler/internal/walker"
)

// NumBuckets is the fixed concurrency factor C (spec §4.I): the
// number of independent scratch slots and spin locks, one per bucket,
// that bound how many threads can be mid-capture simultaneously
// without contending on each other.
const NumBuckets = 16

// HashBucket folds tid's bits down to a bucket index via repeated
// xor-halving, the same hash spec §4.I calls for and §8 requires to
// be stable for a given tid within a process (it's a pure function of
// tid, so stability is automatic).
func HashBucket(tid uint64) int {
	h := tid
	h ^= h >> 32
	h ^= h >> 16
	h ^= h >> 8
	return int(h % NumBuckets)
}

// AGCTContext is the (pc, sp, fp) triple snapshotted around an AGCT
// call, restored on every exit path per spec's AGCT invocation note.
type AGCTContext struct {
	PC, SP, FP uintptr
}

// AGCT invokes AsyncGetCallTrace for the current thread's JNIEnv,
// appending managed frames to out and returning the frames actually
// written. A negative return is an AGCT failure code, preserved
// verbatim by the caller.
type AGCT func(jniEnv uintptr, out []ring.Frame) int32

// ThreadEnv resolves whether the current OS thread currently has a
// JNIEnv (only threads attached to the managed runtime do).
type ThreadEnv interface {
	CurrentJNIEnv() (uintptr, bool)
}

// ThreadInfo is what the coordinator knows about one OS thread,
// populated by ThreadStart/ThreadEnd JVMTI callbacks (spec §4.I
// "Thread metadata").
type ThreadInfo struct {
	OSTid uint64
	Name  string
}

// Coordinator owns every piece of sampler state listed in spec §4.I:
// the ring, per-bucket scratch and locks, the image registry, the
// runtime-stub pseudo-image, and the thread-info map.
type Coordinator struct {
	running atomic.Bool

	ring    *ring.Ring
	scratch [NumBuckets]ring.Trace
	locks   [NumBuckets]spinlock.SpinLock

	// nativeScratch and agctScratch are per-bucket preallocated
	// buffers so Capture, which runs on the signal-handler fast path,
	// never allocates (spec §5 "forbidden: heap allocation").
	nativeScratch [NumBuckets][ring.MaxFrames]uintptr
	agctScratch   [NumBuckets][ring.MaxFrames]ring.Frame

	registry    *codecache.Registry
	runtimeStub *codecache.Image
	stubLock    spinlock.SpinLock

	codeBoundsLow  atomic.Uint64
	codeBoundsHigh atomic.Uint64

	threadsMu sync.Mutex
	threads   map[uint64]ThreadInfo

	walkerMem walker.Memory
	codeHeap  walker.CodeHeapChecker

	busy BucketBusy
}

// NewCoordinator builds a Coordinator around the given ring, registry,
// native-memory reader, and code-heap checker.
func NewCoordinator(r *ring.Ring, registry *codecache.Registry, mem walker.Memory, codeHeap walker.CodeHeapChecker) *Coordinator {
	return &Coordinator{
		ring:        r,
		registry:    registry,
		runtimeStub: codecache.NewImage("[runtime-stubs]", -1),
		threads:     make(map[uint64]ThreadInfo),
		walkerMem:   mem,
		codeHeap:    codeHeap,
	}
}

// Running reports whether the sampler is currently active.
func (c *Coordinator) Running() bool { return c.running.Load() }

// Start flips the running flag (release semantics via atomic.Bool).
func (c *Coordinator) Start() { c.running.Store(true) }

// Stop flips the running flag off; in-flight captures still complete
// normally (spec §5 cancellation).
func (c *Coordinator) Stop() { c.running.Store(false) }

// Capture is the signal-handler fast path (spec §4.I capture(context)).
// tid is the current OS thread id; pc/sp/fp are the interrupted
// thread's native register snapshot. Managed frames are appended only
// when both threadEnv and agct are non-nil and threadEnv reports an
// attached JNIEnv for this thread; otherwise the trace holds native
// frames and the thread-id frame only. Capture never blocks: a busy
// bucket or a full ring both simply drop the sample, matching the
// "signal path never returns an error" rule in spec §7.
func (c *Coordinator) Capture(tid uint64, pc, sp, fp uintptr, threadEnv ThreadEnv, agct AGCT) bool {
	if !c.running.Load() {
		return false
	}
	bucket := HashBucket(tid)
	lock := &c.locks[bucket]
	if !lock.TryLock() {
		c.busy.Drop(bucket)
		return false
	}
	defer lock.Unlock()

	trace := &c.scratch[bucket]
	trace.NumFrames = 0
	trace.JNIEnv = 0

	var ctx walker.StackContext
	nativeBuf := c.nativeScratch[bucket][:]
	nativePCs := walker.WalkFrame(c.walkerMem, pc, sp, fp, c, nativeBuf, &ctx)
	for _, p := range nativePCs {
		if trace.NumFrames >= ring.MaxFrames {
			break
		}
		trace.Frames[trace.NumFrames] = ring.Frame{BCI: ring.KindNativeFrame, MethodID: uintptr(p)}
		trace.NumFrames++
	}

	if threadEnv != nil && agct != nil {
		if jniEnv, ok := threadEnv.CurrentJNIEnv(); ok {
			trace.JNIEnv = jniEnv
			saved := AGCTContext{PC: ctx.PC, SP: ctx.SP, FP: ctx.FP}
			remaining := int(ring.MaxFrames) - int(trace.NumFrames)
			if remaining > 0 {
				buf := c.agctScratch[bucket][:remaining]
				n := agct(jniEnv, buf)
				restoreContext(&ctx, saved)
				if n < 0 {
					trace.Frames[trace.NumFrames] = ring.Frame{BCI: int32(n), MethodID: 0}
					trace.NumFrames++
				} else {
					for i := int32(0); i < n && trace.NumFrames < ring.MaxFrames; i++ {
						trace.Frames[trace.NumFrames] = buf[i]
						trace.NumFrames++
					}
				}
			}
		}
	}

	if trace.NumFrames < ring.MaxFrames {
		trace.Frames[trace.NumFrames] = ring.Frame{BCI: ring.KindThreadID, MethodID: uintptr(tid)}
		trace.NumFrames++
	}

	return c.ring.Push(trace)
}

func restoreContext(ctx *walker.StackContext, saved AGCTContext) {
	ctx.PC, ctx.SP, ctx.FP = saved.PC, saved.SP, saved.FP
}

// AddRuntimeStub records a DynamicCodeGenerated(name, addr, len) event
// (spec §4.I "Runtime-stub handling"): adds the stub to the pseudo
// image and widens the agent's fast executable-address bounds so
// capture's code-heap test stays accurate for newly JIT-compiled
// trampolines.
func (c *Coordinator) AddRuntimeStub(name string, addr, length uintptr) {
	c.stubLock.Lock()
	defer c.stubLock.Unlock()
	c.runtimeStub.Add(addr, length, []byte(name), true)
	c.runtimeStub.Sort()
	c.extendBounds(addr, addr+length)
}

// ExtendCompiledMethodBounds records a CompiledMethodLoad(method,
// code, len) event: only the address bounds grow; the managed code
// itself is resolved later via AGCT, not by name here.
func (c *Coordinator) ExtendCompiledMethodBounds(addr, length uintptr) {
	c.extendBounds(addr, addr+length)
}

func (c *Coordinator) extendBounds(start, end uintptr) {
	for {
		low := c.codeBoundsLow.Load()
		if low != 0 && uint64(start) >= low {
			break
		}
		if c.codeBoundsLow.CompareAndSwap(low, uint64(start)) {
			break
		}
	}
	for {
		high := c.codeBoundsHigh.Load()
		if uint64(end) <= high {
			break
		}
		if c.codeBoundsHigh.CompareAndSwap(high, uint64(end)) {
			break
		}
	}
}

// CodeHeapContains implements walker.CodeHeapChecker by testing the
// widened runtime-stub/compiled-method bounds alongside the real
// VM-struct-reported code heap, so a just-in-time-registered stub is
// immediately recognized even before the next full rescan.
func (c *Coordinator) CodeHeapContains(pc uintptr) bool {
	low, high := c.codeBoundsLow.Load(), c.codeBoundsHigh.Load()
	if low != 0 && uint64(pc) >= low && uint64(pc) < high {
		return true
	}
	if c.codeHeap != nil {
		return c.codeHeap.CodeHeapContains(pc)
	}
	return false
}

// UpdateThreadInfo records or clears metadata for osTid, called from
// ThreadStart/ThreadEnd callbacks under the standard mutex (never from
// the signal path, spec §4.I).
func (c *Coordinator) UpdateThreadInfo(osTid uint64, name string) {
	c.threadsMu.Lock()
	defer c.threadsMu.Unlock()
	c.threads[osTid] = ThreadInfo{OSTid: osTid, Name: name}
}

// RemoveThreadInfo drops osTid from the map on ThreadEnd.
func (c *Coordinator) RemoveThreadInfo(osTid uint64) {
	c.threadsMu.Lock()
	defer c.threadsMu.Unlock()
	delete(c.threads, osTid)
}

// Name implements render.ThreadNames.
func (c *Coordinator) Name(osTid uint64) (string, bool) {
	c.threadsMu.Lock()
	defer c.threadsMu.Unlock()
	info, ok := c.threads[osTid]
	if !ok {
		return "", false
	}
	return info.Name, true
}

// RuntimeStubImage exposes the pseudo-image for diagnostics. It is not
// part of the registry, so Registry.FindBlob does not search it.
func (c *Coordinator) RuntimeStubImage() *codecache.Image { return c.runtimeStub }

// BucketBusySnapshot reports how many captures each bucket has dropped
// due to lock contention, for operators sizing NumBuckets.
func (c *Coordinator) BucketBusySnapshot() [NumBuckets]uint64 { return c.busy.Snapshot() }

// Consume pulls one committed trace off the ring, if any, for the
// background consumer loop (spec §4.I "Background consumer"). It
// returns false when the ring is empty.
func (c *Coordinator) Consume(out *ring.Trace) bool {
	return c.ring.Pop(out)
}

// DrainAll pops every currently committed trace and passes each to
// handle, returning once the ring is empty. Stop does not call it:
// Stop only clears the running flag.
func (c *Coordinator) DrainAll(handle func(*ring.Trace)) {
	var t ring.Trace
	for c.ring.Pop(&t) {
		handle(&t)
	}
}

// AsyncGetCallTrace discovery and invocation (spec §4.K load-time
// discovery, §4.G/§4.I managed-frame hand-off). AGCT is exported by
// whichever shared object the host runtime already loaded itself as
// (libjvm.so); it is never something this agent dlopens by path, only
// resolved out of the process's existing symbol table.
package main

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stddef.h>

// ASGCT's wire shape (the HotSpot-originated ABI every JVM that
// supports it honors): one call-frame entry per managed frame.
// lineno doubles as bci for both interpreted and compiled frames;
// method_id maps 1:1 onto ring.Frame's MethodID.
typedef struct {
	int32_t lineno;
	uintptr_t method_id;
} jprof_agct_frame;

typedef struct {
	uintptr_t env_id;
	int32_t num_frames;
	jprof_agct_frame *frames;
} jprof_agct_trace;

typedef void (*jprof_agct_fn)(jprof_agct_trace *trace, int32_t depth, void *ucontext);

static jprof_agct_fn g_jprof_agct_fn = NULL;

// jprof_resolve_agct looks AsyncGetCallTrace up via RTLD_DEFAULT: the
// JVM has already loaded itself by the time an agent attaches, so no
// explicit dlopen of a path is needed.
static int jprof_resolve_agct(void) {
	void *sym = dlsym(RTLD_DEFAULT, "AsyncGetCallTrace");
	if (sym == NULL) {
		return 0;
	}
	g_jprof_agct_fn = (jprof_agct_fn)sym;
	return 1;
}

// Fixed per-bucket scratch for the C side of the call, sized to match
// sampler.NumBuckets/ring.MaxFrames, so invoking AGCT from the
// signal-handler fast path never triggers an allocation on either
// side of the cgo boundary.
#define JPROF_NUM_BUCKETS 16
#define JPROF_MAX_FRAMES 2048

static jprof_agct_frame g_jprof_agct_scratch[JPROF_NUM_BUCKETS][JPROF_MAX_FRAMES];

static void jprof_invoke_agct(int bucket, uintptr_t env_id, int32_t depth, jprof_agct_trace *out) {
	jprof_agct_trace trace;
	trace.env_id = env_id;
	trace.num_frames = 0;
	trace.frames = g_jprof_agct_scratch[bucket];
	if (depth > JPROF_MAX_FRAMES) {
		depth = JPROF_MAX_FRAMES;
	}
	g_jprof_agct_fn(&trace, depth, NULL);
	*out = trace;
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/embervale/jprofiler/internal/jvmti"
	"github.com/embervale/jprofiler/internal/ring"
	"github.com/embervale/jprofiler/internal/sampler"
)

var (
	agctOnce      sync.Once
	agctAvailable bool
)

// resolveAGCT resolves AsyncGetCallTrace via the dynamic linker,
// exactly once. The caller logs a single error line when this
// returns false (spec §6: "absence is fatal at load... logs a single
// error line on missing AGCT"); this agent's resolution of the
// accompanying Open Question is to keep running in a native-frames-
// only state rather than abort the host JVM, since an aborting agent
// is strictly worse for an operator than a degraded one.
func resolveAGCT() bool {
	agctOnce.Do(func() {
		agctAvailable = C.jprof_resolve_agct() != 0
	})
	return agctAvailable
}

// agctCaller binds AGCT invocation to one sampler bucket's
// preallocated native scratch, so the function value handed to
// Capture never needs to learn which bucket it's running under.
type agctCaller struct{ bucket int }

func (a agctCaller) call(jniEnv uintptr, out []ring.Frame) int32 {
	var trace C.jprof_agct_trace
	C.jprof_invoke_agct(C.int(a.bucket), C.uintptr_t(jniEnv), C.int32_t(len(out)), &trace)
	n := int32(trace.num_frames)
	if n <= 0 {
		return n
	}
	if int(n) > len(out) {
		n = int32(len(out))
	}
	cframes := (*[ring.MaxFrames]C.jprof_agct_frame)(unsafe.Pointer(trace.frames))[:n:n]
	for i, f := range cframes {
		out[i] = ring.Frame{BCI: int32(f.lineno), MethodID: uintptr(f.method_id)}
	}
	return n
}

// agctFns holds one bound caller per bucket, built once at init so
// the fast path only ever indexes this array instead of constructing
// a closure per sample.
var agctFns [sampler.NumBuckets]sampler.AGCT

func init() {
	for i := 0; i < sampler.NumBuckets; i++ {
		agctFns[i] = agctCaller{bucket: i}.call
	}
}

// agctFor returns the AGCT function bound to bucket, or nil if
// AsyncGetCallTrace could not be resolved at load.
func agctFor(bucket int) sampler.AGCT {
	if !agctAvailable {
		return nil
	}
	return agctFns[bucket]
}

// jvmThreadEnv adapts jvmti.JavaVM to sampler.ThreadEnv: whether the
// interrupted OS thread currently has a JNIEnv is exactly whether
// GetJNIEnv succeeds for it rather than reporting ErrDetached.
type jvmThreadEnv struct {
	vm *jvmti.JavaVM
}

func (t jvmThreadEnv) CurrentJNIEnv() (uintptr, bool) {
	env, err := t.vm.GetJNIEnv()
	if err != nil {
		return 0, false
	}
	return env.Addr(), true
}

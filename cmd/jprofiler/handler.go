// SIGPROF delivery (spec §4.H, §5): the real signal handler has to be
// a C function registered via sigaction's SA_SIGINFO — a Go func
// value cannot be the target of a hardware signal trap. The C
// trampoline below pulls pc/sp/fp out of the ucontext_t the kernel
// hands it and calls back into Go through a single //export'd
// function, which hands straight off to sampler.Coordinator.Capture
// without allocating.
package main

/*
#define _GNU_SOURCE
#include <signal.h>
#include <ucontext.h>
#include <unistd.h>
#include <sys/syscall.h>
#include <stdint.h>

extern void goSigprofHandler(uint64_t pc, uint64_t sp, uint64_t fp, uint64_t tid);

static void jprofiler_c_handler(int sig, siginfo_t *info, void *ucontextPtr) {
	ucontext_t *uc = (ucontext_t *)ucontextPtr;
	uint64_t pc = 0, sp = 0, fp = 0;
#if defined(__x86_64__)
	pc = (uint64_t)uc->uc_mcontext.gregs[REG_RIP];
	sp = (uint64_t)uc->uc_mcontext.gregs[REG_RSP];
	fp = (uint64_t)uc->uc_mcontext.gregs[REG_RBP];
#elif defined(__aarch64__)
	pc = (uint64_t)uc->uc_mcontext.pc;
	sp = (uint64_t)uc->uc_mcontext.sp;
	fp = (uint64_t)uc->uc_mcontext.regs[29];
#endif
	uint64_t tid = (uint64_t)syscall(SYS_gettid);
	goSigprofHandler(pc, sp, fp, tid);
}

static uintptr_t jprofiler_handler_addr(void) {
	return (uintptr_t)jprofiler_c_handler;
}
*/
import "C"

import "github.com/embervale/jprofiler/internal/sampler"

// handlerAddr returns the address timer.InstallHandler should register
// for SIGPROF.
func handlerAddr() uintptr {
	return uintptr(C.jprofiler_handler_addr())
}

// goSigprofHandler runs on the signal stack of whichever thread
// received SIGPROF. It must not allocate: sampler.Coordinator.Capture
// only ever touches preallocated per-bucket scratch space, and so does
// the AGCT hand-off below (agctFor indexes a fixed array of bound
// callers rather than building a closure per sample).
//
//export goSigprofHandler
func goSigprofHandler(pc, sp, fp, tid C.uint64_t) {
	a := globalAgent
	if a == nil || !a.coord.Running() {
		return
	}
	var threadEnv sampler.ThreadEnv = a.threadEnv
	agct := agctFor(sampler.HashBucket(uint64(tid)))
	a.coord.Capture(uint64(tid), uintptr(pc), uintptr(sp), uintptr(fp), threadEnv, agct)
	// Re-arm for the next jittered interval (signal_prof.rs re-arms on
	// every tick rather than trusting a fixed it_interval); best-effort,
	// errors here have nowhere async-signal-safe to go.
	_ = a.driver.Arm()
}

// Package jvmti wraps the small slice of the JVMTI/JNI function
// tables this agent needs: environment lookup, capability requests,
// event callback registration, and method/class/thread metadata
// queries used by internal/render. Everything else in this
// agent treats a jmethodID/jthread as an opaque uintptr; only this
// package dereferences the real C vtables.
package jvmti

/*
#cgo CFLAGS: -I${SRCDIR}/../../vendor/jvmti-include
#include <stdlib.h>
#include <string.h>
#include <jvmti.h>
#include <jni.h>

static jint call_GetEnv(JavaVM *vm, void **penv, jint version) {
	return (*vm)->GetEnv(vm, penv, version);
}

static jvmtiError call_SetEventCallbacks(jvmtiEnv *env, const jvmtiEventCallbacks *cb, jint size) {
	return (*env)->SetEventCallbacks(env, cb, size);
}

static jvmtiError call_SetEventNotificationMode(jvmtiEnv *env, jvmtiEventMode mode, jvmtiEvent type, jthread thread) {
	return (*env)->SetEventNotificationMode(env, mode, type, thread);
}

static jvmtiError call_RunAgentThread(jvmtiEnv *env, jthread thread, jvmtiStartFunction proc, const void *arg, jint priority) {
	return (*env)->RunAgentThread(env, thread, proc, arg, priority);
}

static jvmtiError call_GetMethodName(jvmtiEnv *env, jmethodID m, char **name, char **sig, char **genericSig) {
	return (*env)->GetMethodName(env, m, name, sig, genericSig);
}

static jvmtiError call_GetMethodDeclaringClass(jvmtiEnv *env, jmethodID m, jclass *klass) {
	return (*env)->GetMethodDeclaringClass(env, m, klass);
}

static jvmtiError call_GetClassSignature(jvmtiEnv *env, jclass klass, char **sig, char **generic) {
	return (*env)->GetClassSignature(env, klass, sig, generic);
}

static jvmtiError call_Deallocate(jvmtiEnv *env, unsigned char *mem) {
	return (*env)->Deallocate(env, mem);
}

static jvmtiError call_GetThreadInfo(jvmtiEnv *env, jthread thread, jvmtiThreadInfo *info) {
	return (*env)->GetThreadInfo(env, thread, info);
}

static jvmtiError call_AddCapabilities(jvmtiEnv *env, const jvmtiCapabilities *caps) {
	return (*env)->AddCapabilities(env, caps);
}

static jvmtiError call_GetCurrentThread(jvmtiEnv *env, jthread *thread) {
	return (*env)->GetCurrentThread(env, thread);
}

// Event callbacks are C function pointers by construction; a Go func
// value can never populate a jvmtiEventCallbacks field directly; these
// trampolines are the fixed bridge into the //export'd Go functions
// below, the same pattern cmd/jprofiler uses for SIGPROF.
extern void goThreadStartCallback(jvmtiEnv *env, JNIEnv *jni, jthread thread);
extern void goThreadEndCallback(jvmtiEnv *env, JNIEnv *jni, jthread thread);
extern void goVMInitCallback(jvmtiEnv *env, JNIEnv *jni, jthread thread);

static jvmtiError call_SetStandardEventCallbacks(jvmtiEnv *env) {
	jvmtiEventCallbacks cb;
	memset(&cb, 0, sizeof(cb));
	cb.ThreadStart = goThreadStartCallback;
	cb.ThreadEnd = goThreadEndCallback;
	cb.VMInit = goVMInitCallback;
	return (*env)->SetEventCallbacks(env, &cb, sizeof(cb));
}
*/
import "C"

import (
	"errors"
	"unsafe"

	"github.com/embervale/jprofiler/internal/osthread"
)

// currentOSThreadID reports the OS thread the calling JVMTI event
// callback is running on, so the bridges above can key
// sampler.Coordinator's thread-info map the same way Capture does.
func currentOSThreadID() uint64 { return osthread.CurrentTID() }

// Error wraps a non-zero jvmtiError code so callers can branch on the
// numeric code without importing cgo themselves.
type Error struct {
	Code int32
}

func (e *Error) Error() string {
	return "jvmti: error code " + itoa(e.Code)
}

func itoa(n int32) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func checkErr(rc C.jvmtiError) error {
	if rc == C.JVMTI_ERROR_NONE {
		return nil
	}
	return &Error{Code: int32(rc)}
}

// Env wraps a jvmtiEnv*.
type Env struct {
	ptr *C.jvmtiEnv
}

// JNIEnv wraps a JNIEnv*.
type JNIEnv struct {
	ptr *C.JNIEnv
}

// Addr returns the wrapped JNIEnv* as a uintptr, the form AGCT's
// CallTrace.env_id field expects (spec §4.G AGCT hand-off).
func (e *JNIEnv) Addr() uintptr { return uintptr(unsafe.Pointer(e.ptr)) }

// JavaVM wraps a JavaVM*.
type JavaVM struct {
	ptr *C.JavaVM
}

// WrapJavaVM adapts a raw JavaVM* received from Agent_OnLoad. addr
// must point at a live JavaVM for the process lifetime.
func WrapJavaVM(addr unsafe.Pointer) *JavaVM {
	return &JavaVM{ptr: (*C.JavaVM)(addr)}
}

// ErrVersionUnsupported and ErrDetached mirror JNI_EVERSION and
// JNI_EDETACHED (spec §4.F get_jni_env).
var (
	ErrVersionUnsupported = errors.New("jvmti: unsupported JNI version")
	ErrDetached           = errors.New("jvmti: thread not attached")
)

const jniVersion1_6 = 0x00010006

// GetEnv retrieves the JVMTI environment, the gateway to every other
// call in this package.
func (vm *JavaVM) GetEnv() (*Env, error) {
	var out unsafe.Pointer
	rc := C.call_GetEnv(vm.ptr, &out, C.jint(C.JVMTI_VERSION_1_2))
	if rc != 0 {
		return nil, &Error{Code: int32(rc)}
	}
	return &Env{ptr: (*C.jvmtiEnv)(out)}, nil
}

// GetJNIEnv retrieves the calling thread's JNIEnv, returning
// ErrDetached if the thread isn't attached to the VM (spec §4.F).
func (vm *JavaVM) GetJNIEnv() (*JNIEnv, error) {
	var out unsafe.Pointer
	rc := C.call_GetEnv(vm.ptr, &out, C.jint(jniVersion1_6))
	switch rc {
	case C.JNI_EDETACHED:
		return nil, ErrDetached
	case C.JNI_EVERSION:
		return nil, ErrVersionUnsupported
	case 0:
		return &JNIEnv{ptr: (*C.JNIEnv)(out)}, nil
	default:
		return nil, &Error{Code: int32(rc)}
	}
}

// AddCapabilities requests the capability set spec §4.K names:
// get-bytecodes, method-load events, all-class-hook, retransform,
// line-numbers, monitor events.
func (e *Env) AddCapabilities() error {
	var caps C.jvmtiCapabilities
	caps.can_get_bytecodes = 1
	caps.can_generate_compiled_method_load_events = 1
	caps.can_generate_all_class_hook_events = 1
	caps.can_retransform_classes = 1
	caps.can_get_line_numbers = 1
	caps.can_generate_monitor_events = 1
	return checkErr(C.call_AddCapabilities(e.ptr, &caps))
}

// Event identifies a JVMTI event type. It is a plain int32, not a
// cgo-generated C.jvmtiEvent, because cgo's "C" pseudo-package is
// private per compilation unit: a C.jvmtiEvent value built in
// cmd/jprofiler's cgo preamble is a different Go type than this
// package's own C.jvmtiEvent, even though both wrap the identical C
// enum. Exporting plain-int constants here is what lets callers in
// other packages pass an event type across the package boundary.
type Event int32

// Event constants for the subset of JVMTI events this agent handles.
const (
	EventThreadStart = Event(C.JVMTI_EVENT_THREAD_START)
	EventThreadEnd   = Event(C.JVMTI_EVENT_THREAD_END)
	EventVMInit      = Event(C.JVMTI_EVENT_VM_INIT)
)

// SetEventNotificationMode enables or disables delivery of a JVMTI
// event for all threads (it always passes a nil jthread).
func (e *Env) SetEventNotificationMode(enable bool, event Event) error {
	mode := C.jvmtiEventMode(C.JVMTI_DISABLE)
	if enable {
		mode = C.JVMTI_ENABLE
	}
	return checkErr(C.call_SetEventNotificationMode(e.ptr, mode, C.jvmtiEvent(event), nil))
}

// ThreadLifecycleHooks are invoked from the event-callback bridges
// below. They run on whatever JVM thread the event itself fires on,
// never from the SIGPROF signal path, so they're free to allocate.
var (
	onThreadStart func(osTid uint64, jniThread uintptr)
	onThreadEnd   func(osTid uint64, jniThread uintptr)
	onVMInit      func(jniThread uintptr)
)

// SetThreadLifecycleHooks registers the callbacks SetStandardEventCallbacks
// wires to ThreadStart/ThreadEnd/VMInit. cmd/jprofiler calls this once,
// before SetStandardEventCallbacks, to feed sampler.Coordinator's
// thread-info cache (spec §4.I).
func SetThreadLifecycleHooks(start, end func(osTid uint64, jniThread uintptr), vmInit func(jniThread uintptr)) {
	onThreadStart, onThreadEnd, onVMInit = start, end, vmInit
}

// SetStandardEventCallbacks registers this package's ThreadStart/
// ThreadEnd/VMInit bridges as the environment's JVMTI event callback
// table in a single call, matching jvmtiEventCallbacks's all-or-
// nothing registration API.
func (e *Env) SetStandardEventCallbacks() error {
	return checkErr(C.call_SetStandardEventCallbacks(e.ptr))
}

//export goThreadStartCallback
func goThreadStartCallback(env *C.jvmtiEnv, jni *C.JNIEnv, thread C.jthread) {
	if onThreadStart == nil {
		return
	}
	onThreadStart(currentOSThreadID(), uintptr(unsafe.Pointer(thread))) //nolint:unsafeptr
}

//export goThreadEndCallback
func goThreadEndCallback(env *C.jvmtiEnv, jni *C.JNIEnv, thread C.jthread) {
	if onThreadEnd == nil {
		return
	}
	onThreadEnd(currentOSThreadID(), uintptr(unsafe.Pointer(thread))) //nolint:unsafeptr
}

//export goVMInitCallback
func goVMInitCallback(env *C.jvmtiEnv, jni *C.JNIEnv, thread C.jthread) {
	if onVMInit == nil {
		return
	}
	onVMInit(uintptr(unsafe.Pointer(thread))) //nolint:unsafeptr
}

// MethodName implements render.MethodNameLookup over the JVMTI calls
// GetMethodName, GetMethodDeclaringClass, GetClassSignature, freeing
// every temporary buffer via Deallocate on every exit path (spec §4.J).
func (e *Env) MethodName(methodID uintptr) (classSig, name, sig string, ok bool) {
	m := C.jmethodID(unsafe.Pointer(methodID)) //nolint:unsafeptr
	var cname, csig, cgeneric *C.char
	rc := C.call_GetMethodName(e.ptr, m, &cname, &csig, &cgeneric)
	if rc != C.JVMTI_ERROR_NONE {
		return "", "", "", false
	}
	defer e.deallocate(cname)
	defer e.deallocate(csig)
	defer e.deallocate(cgeneric)

	var klass C.jclass
	rc = C.call_GetMethodDeclaringClass(e.ptr, m, &klass)
	if rc != C.JVMTI_ERROR_NONE {
		return "", "", "", false
	}

	var classSigC, classGeneric *C.char
	rc = C.call_GetClassSignature(e.ptr, klass, &classSigC, &classGeneric)
	if rc != C.JVMTI_ERROR_NONE {
		return "", "", "", false
	}
	defer e.deallocate(classSigC)
	defer e.deallocate(classGeneric)

	return C.GoString(classSigC), C.GoString(cname), C.GoString(csig), true
}

func (e *Env) deallocate(p *C.char) {
	if p != nil {
		C.call_Deallocate(e.ptr, (*C.uchar)(unsafe.Pointer(p)))
	}
}

// ThreadInfo is the subset of jvmtiThreadInfo this agent consumes.
type ThreadInfo struct {
	Name string
}

// GetThreadInfo implements the human-readable thread name lookup used
// when populating internal/sampler's ThreadInfo map (spec §4.I).
func (e *Env) GetThreadInfo(thread uintptr) (ThreadInfo, bool) {
	jthr := C.jthread(unsafe.Pointer(thread)) //nolint:unsafeptr
	var info C.jvmtiThreadInfo
	rc := C.call_GetThreadInfo(e.ptr, jthr, &info)
	if rc != C.JVMTI_ERROR_NONE {
		return ThreadInfo{}, false
	}
	defer e.deallocate(info.name)
	return ThreadInfo{Name: C.GoString(info.name)}, true
}

// GetCurrentThread returns the jthread handle for the calling thread.
func (e *Env) GetCurrentThread() (uintptr, bool) {
	var thr C.jthread
	rc := C.call_GetCurrentThread(e.ptr, &thr)
	if rc != C.JVMTI_ERROR_NONE {
		return 0, false
	}
	return uintptr(unsafe.Pointer(thr)), true
}

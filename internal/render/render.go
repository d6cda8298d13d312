// Package render implements the frame-name renderer (spec §4.J):
// turning a captured ring.Frame into a human-readable name, ported
// from the original source's frame_name.rs (java_class_name,
// decode_native_name, and the bci-based dispatch).
package render

import (
	"strings"

	"github.com/embervale/jprofiler/internal/codecache"
	"github.com/embervale/jprofiler/internal/demangle"
	"github.com/embervale/jprofiler/internal/ring"
)

// MethodNameLookup resolves a managed jmethodID to a class signature,
// method name, and JVM method signature via JVMTI. Implemented by
// internal/jvmti in production; mocked in tests.
type MethodNameLookup interface {
	// MethodName returns (classSignature, methodName, methodSignature, ok).
	// ok is false on any JVMTI error, mirroring the "[jvmtiError]"
	// fallback in frame_name.rs.
	MethodName(methodID uintptr) (classSig, name, sig string, ok bool)
}

// ThreadNames resolves an OS thread id to a human-readable name.
type ThreadNames interface {
	Name(osTid uint64) (string, bool)
}

// Renderer formats frames using the thread-info and method-name
// lookups supplied at construction. A Renderer is not safe for
// concurrent use by multiple goroutines sharing the same scratch
// buffer; the background consumer owns exactly one.
type Renderer struct {
	threads ThreadNames
	methods MethodNameLookup
	buf     strings.Builder
}

// New returns a Renderer backed by the given lookups.
func New(threads ThreadNames, methods MethodNameLookup) *Renderer {
	return &Renderer{threads: threads, methods: methods}
}

// Name renders frame to a string. It reuses the Renderer's internal
// builder between calls, matching the original's reused name buffer;
// each returned string is an independent value that later calls do
// not modify.
func (r *Renderer) Name(frame ring.Frame, codeBlobOf func(addr uintptr) *codecache.Blob) string {
	r.buf.Reset()
	switch frame.BCI {
	case ring.KindThreadID:
		tid := uint64(frame.MethodID)
		if name, ok := r.threads.Name(tid); ok {
			r.buf.WriteString(name)
		} else {
			r.buf.WriteString("unknown thread")
		}
	case ring.KindNativeFrame:
		blob := codeBlobOf(frame.MethodID)
		if blob == nil {
			r.buf.WriteString("[unknown]")
			break
		}
		name := string(blob.Name)
		if strings.HasPrefix(name, "_Z") {
			r.buf.WriteString(demangle.Demangle(name))
		} else {
			r.buf.WriteString(name)
		}
	default:
		classSig, methodName, methodSig, ok := r.methods.MethodName(frame.MethodID)
		if !ok {
			r.buf.WriteString("[jvmtiError]")
			break
		}
		writeJavaClassName(&r.buf, trimClassSignature(classSig))
		r.buf.WriteByte('.')
		r.buf.WriteString(methodName)
		r.buf.WriteString(methodSig)
	}
	return r.buf.String()
}

// trimClassSignature strips the leading 'L' and trailing ';' from a
// JVM class signature like "Ljava/lang/String;", leaving
// "java/lang/String". Array signatures (leading '[') are left as-is
// for writeJavaClassName to handle.
func trimClassSignature(sig string) string {
	if len(sig) >= 2 && sig[0] == 'L' && sig[len(sig)-1] == ';' {
		return sig[1 : len(sig)-1]
	}
	return sig
}

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'F': "float",
	'D': "double",
}

// writeJavaClassName renders a JVM internal class name (possibly an
// array type, with leading '[' per dimension) as a Java source-level
// class name: ClassSignatureRender laws from spec §8 —
// render("Ljava/lang/String;") = "java.lang.String"'s body (the 'L'
// has already been trimmed by the caller), render("[[I") = "int[][]",
// render("[Ljava/util/Map$Entry;") = "java.util.Map$Entry[]".
func writeJavaClassName(buf *strings.Builder, class string) {
	dims := 0
	for dims < len(class) && class[dims] == '[' {
		dims++
	}
	if dims == 0 {
		writeSlashToDot(buf, class)
	} else {
		elem := class[dims:]
		if name, ok := primitiveNames[elem[0]]; ok {
			buf.WriteString(name)
		} else {
			// elem is "Lpkg/Class;" — trim the L...; wrapper.
			inner := elem
			if len(inner) >= 2 && inner[0] == 'L' && inner[len(inner)-1] == ';' {
				inner = inner[1 : len(inner)-1]
			}
			writeSlashToDot(buf, inner)
		}
	}
	for i := 0; i < dims; i++ {
		buf.WriteString("[]")
	}
}

// writeSlashToDot replaces '/' with '.', except where the slash is
// immediately followed by a digit (an inner-class numeric fragment
// that must not be mistaken for a package separator), mirroring
// frame_name.rs's exact rule.
func writeSlashToDot(buf *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' && (i+1 >= len(s) || !isASCIIDigit(s[i+1])) {
			buf.WriteByte('.')
		} else {
			buf.WriteByte(c)
		}
	}
}

func isASCIIDigit(c byte) bool { return c >= '0' && c <= '9' }

// RenderClassSignature is a standalone helper exposing the class-name
// decoding law directly (used by tests and by callers outside the
// bci-dispatch path, e.g. diagnostics).
func RenderClassSignature(sig string) string {
	var buf strings.Builder
	writeJavaClassName(&buf, trimClassSignature(sig))
	return buf.String()
}

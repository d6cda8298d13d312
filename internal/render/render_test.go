package render

import (
	"testing"

	"github.com/embervale/jprofiler/internal/codecache"
	"github.com/embervale/jprofiler/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassSignatureRenderLaws(t *testing.T) {
	assert.Equal(t, "java.lang.String", RenderClassSignature("Ljava/lang/String;"))
	assert.Equal(t, "int[][]", RenderClassSignature("[[I"))
	assert.Equal(t, "java.util.Map$Entry[]", RenderClassSignature("[Ljava/util/Map$Entry;"))
	assert.Equal(t, "byte[]", RenderClassSignature("[B"))
	assert.Equal(t, "java.lang.String[][]", RenderClassSignature("[[Ljava/lang/String;"))
}

type fakeThreads struct {
	names map[uint64]string
}

func (f fakeThreads) Name(tid uint64) (string, bool) {
	n, ok := f.names[tid]
	return n, ok
}

type fakeMethods struct {
	classSig, name, sig string
	ok                   bool
}

func (f fakeMethods) MethodName(uintptr) (string, string, string, bool) {
	return f.classSig, f.name, f.sig, f.ok
}

func TestRenderThreadIDFrame(t *testing.T) {
	r := New(fakeThreads{names: map[uint64]string{42: "main"}}, fakeMethods{})
	got := r.Name(ring.Frame{BCI: ring.KindThreadID, MethodID: 42}, nil)
	assert.Equal(t, "main", got)

	got = r.Name(ring.Frame{BCI: ring.KindThreadID, MethodID: 99}, nil)
	assert.Equal(t, "unknown thread", got)
}

func TestRenderNativeFramePlain(t *testing.T) {
	r := New(fakeThreads{}, fakeMethods{})
	img := codecache.NewImage("libc", 0)
	img.Add(0x1000, 0x10, []byte("malloc"), true)
	img.Sort()

	got := r.Name(ring.Frame{BCI: ring.KindNativeFrame, MethodID: 0x1005}, func(addr uintptr) *codecache.Blob {
		return img.BinarySearch(addr)
	})
	assert.Equal(t, "malloc", got)
}

func TestRenderNativeFrameDemangled(t *testing.T) {
	r := New(fakeThreads{}, fakeMethods{})
	img := codecache.NewImage("libfoo", 0)
	img.Add(0x2000, 0x10, []byte("_ZN1A1fEv"), true)
	img.Sort()

	got := r.Name(ring.Frame{BCI: ring.KindNativeFrame, MethodID: 0x2003}, func(addr uintptr) *codecache.Blob {
		return img.BinarySearch(addr)
	})
	assert.Equal(t, "A::f()", got)
}

func TestRenderManagedFrame(t *testing.T) {
	r := New(fakeThreads{}, fakeMethods{classSig: "Ljava/lang/String;", name: "length", sig: "()I", ok: true})
	got := r.Name(ring.Frame{BCI: 5, MethodID: 0xabc}, nil)
	assert.Equal(t, "java.lang.String.length()I", got)
}

func TestRenderManagedFrameJVMTIError(t *testing.T) {
	r := New(fakeThreads{}, fakeMethods{ok: false})
	got := r.Name(ring.Frame{BCI: 5, MethodID: 0xabc}, nil)
	assert.Equal(t, "[jvmtiError]", got)
}

func TestRenderNativeFrameUnknownBlob(t *testing.T) {
	r := New(fakeThreads{}, fakeMethods{})
	got := r.Name(ring.Frame{BCI: ring.KindNativeFrame, MethodID: 0x9999}, func(uintptr) *codecache.Blob { return nil })
	require.Equal(t, "[unknown]", got)
}

package demangle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonMangledPassesThroughUnchanged(t *testing.T) {
	for _, name := range []string{"malloc", "pthread_create", "foo@plt", ""} {
		assert.Equal(t, name, Demangle(name))
	}
}

func TestDemanglesSimpleMemberFunction(t *testing.T) {
	assert.Equal(t, "A::f()", Demangle("_ZN1A1fEv"))
}

func TestDemanglesNestedNamespace(t *testing.T) {
	assert.Equal(t, "ns::Widget::run()", Demangle("_ZN2ns6Widget3runEv"))
}

func TestUnparsableManagedNameFallsBack(t *testing.T) {
	// Malformed _Z-prefixed input must not panic and must return the
	// original string unchanged.
	assert.Equal(t, "_Zgarbage", Demangle("_Zgarbage"))
}

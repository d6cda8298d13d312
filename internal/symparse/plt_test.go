package symparse

import "testing"

// Scenario 4 (spec §8): PLT synthesis naming.
func TestPLTBlobNameUnmangled(t *testing.T) {
	if got := pltBlobName("foo"); got != "foo@plt" {
		t.Errorf("pltBlobName(foo) = %q, want foo@plt", got)
	}
}

func TestPLTBlobNameMangled(t *testing.T) {
	if got := pltBlobName("_ZN1A1fEv"); got != "_ZN1A1fEv.plt" {
		t.Errorf("pltBlobName(_ZN1A1fEv) = %q, want _ZN1A1fEv.plt", got)
	}
}

func TestPLTStrideByArch(t *testing.T) {
	cases := map[string]uint64{
		"amd64":  16,
		"386":    16,
		"arm":    12,
		"arm64":  12,
		"ppc64":  24,
		"mips":   16,
	}
	for arch, want := range cases {
		if got := pltStride(arch); got != want {
			t.Errorf("pltStride(%s) = %d, want %d", arch, got, want)
		}
	}
}

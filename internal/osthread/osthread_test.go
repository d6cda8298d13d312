package osthread

import "testing"

func TestParseStateChar(t *testing.T) {
	cases := map[byte]ThreadState{
		'R': StateRunning,
		'S': StateSleeping,
		'D': StateDiskWait,
		'Z': StateZombie,
		'T': StateStopped,
		't': StateStopped,
		'X': StateUnknown,
	}
	for c, want := range cases {
		if got := parseStateChar(c); got != want {
			t.Errorf("parseStateChar(%q) = %v, want %v", c, got, want)
		}
	}
}

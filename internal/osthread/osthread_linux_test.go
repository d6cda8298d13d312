//go:build linux

package osthread

import "testing"

func TestCurrentTIDNonZero(t *testing.T) {
	if CurrentTID() == 0 {
		t.Fatal("CurrentTID returned 0")
	}
}

func TestThreadListIncludesSelf(t *testing.T) {
	threads, err := ThreadList()
	if err != nil {
		t.Fatalf("ThreadList: %v", err)
	}
	tid := CurrentTID()
	found := false
	for _, info := range threads {
		if info.TID == tid {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("ThreadList() did not include current tid %d: %v", tid, threads)
	}
}

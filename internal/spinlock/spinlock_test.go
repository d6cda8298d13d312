package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTryLockExclusion(t *testing.T) {
	var l SpinLock
	assert.True(t, l.TryLock())
	assert.False(t, l.TryLock(), "a second try-lock must fail while held")
	l.Unlock()
	assert.True(t, l.TryLock(), "lock must be acquirable again after unlock")
}

func TestConcurrentTryLock(t *testing.T) {
	var l SpinLock
	var successes int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryLock() {
				mu.Lock()
				successes++
				mu.Unlock()
				l.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, successes, 1)
}

package timer

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDriverIntervalsInRange(t *testing.T) {
	d := NewDriver(1000, 5000)
	for i := 0; i < tableSize; i++ {
		v := d.NextIntervalNanos()
		assert.GreaterOrEqual(t, v, uint32(1000))
		assert.LessOrEqual(t, v, uint32(5000))
	}
}

func TestNewDriverSwapsInvertedRange(t *testing.T) {
	d := NewDriver(5000, 1000)
	for i := 0; i < tableSize; i++ {
		v := d.NextIntervalNanos()
		assert.GreaterOrEqual(t, v, uint32(1000))
		assert.LessOrEqual(t, v, uint32(5000))
	}
}

func TestNextIntervalWrapsAroundTable(t *testing.T) {
	d := NewDriver(1, 1)
	for i := 0; i < tableSize; i++ {
		d.NextIntervalNanos()
	}
	// idx must have wrapped back to 0, not kept growing unbounded.
	assert.Equal(t, 0, d.idx)
}

func TestBroadcastAllSucceed(t *testing.T) {
	var sent []uint64
	send := func(tid uint64, sig unix.Signal) error {
		sent = append(sent, tid)
		return nil
	}
	failed, err := Broadcast([]uint64{1, 2, 3}, send)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, []uint64{1, 2, 3}, sent)
}

func TestBroadcastPartialFailure(t *testing.T) {
	send := func(tid uint64, sig unix.Signal) error {
		if tid == 2 {
			return errors.New("no such thread")
		}
		return nil
	}
	failed, err := Broadcast([]uint64{1, 2, 3}, send)
	assert.ErrorIs(t, err, ErrBroadcastFailed)
	assert.Equal(t, []uint64{2}, failed)
}

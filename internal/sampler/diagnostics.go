package sampler

import "sync/atomic"

// BucketBusy counts, per bucket, how many Capture calls dropped a
// sample because that bucket's spin lock was already held (spec §5's
// "try-lock-or-drop" policy). It exists purely for observability: an
// operator who sees one bucket's count dominate the others knows
// NumBuckets is too small for the thread count in play.
//
// A lock-free append-only event list (the Michael-Scott queue shape
// once considered for this) would need to allocate a node per event,
// which is unsound from signal-handler context; a flat array of
// atomic counters indexed by bucket needs no allocation at all and is
// exactly as cheap on the fast path, so that's what this is.
type BucketBusy struct {
	counts [NumBuckets]atomic.Uint64
}

// Drop records a dropped capture for bucket.
func (b *BucketBusy) Drop(bucket int) {
	b.counts[bucket].Add(1)
}

// Snapshot returns the current drop count for every bucket.
func (b *BucketBusy) Snapshot() [NumBuckets]uint64 {
	var out [NumBuckets]uint64
	for i := range b.counts {
		out[i] = b.counts[i].Load()
	}
	return out
}

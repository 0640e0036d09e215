package indexer

import "sync/atomic"

// IndexLock is a non-blocking single-flight guard for Refresh.
// A second caller gets false from TryAcquire instead of waiting.
type IndexLock struct {
	state atomic.Int32 // 0 = idle, 1 = refreshing
}

// TryAcquire takes the lock if it is free
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a refresh is running
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

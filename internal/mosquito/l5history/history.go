package l5history

import "sync"

// Snapshotter is a store that can be deep-copied and overwritten from a
// copy. *l3detections.Store and *l4tracks.Registry satisfy it.
type Snapshotter[T any] interface {
	Clone() T
	Replace(T)
}

// History is a bounded stack of snapshots. Pushing past MaxDepth drops
// the oldest snapshot silently.
type History[T Snapshotter[T]] struct {
	mu       sync.Mutex
	entries  []T
	maxDepth int
}

// New creates a history holding at most maxDepth snapshots (minimum 1).
func New[T Snapshotter[T]](maxDepth int) *History[T] {
	if maxDepth < 1 {
		maxDepth = 1
	}
	return &History[T]{maxDepth: maxDepth}
}

// Snapshot pushes a deep copy of live.
func (h *History[T]) Snapshot(live T) {
	snap := live.Clone()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, snap)
	h.trimLocked()
}

// Restore pops the most recent snapshot. ok is false when empty.
func (h *History[T]) Restore() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero T
	n := len(h.entries)
	if n == 0 {
		return zero, false
	}
	snap := h.entries[n-1]
	h.entries[n-1] = zero
	h.entries = h.entries[:n-1]
	return snap, true
}

// Undo pops the most recent snapshot and overwrites live with it.
func (h *History[T]) Undo(live T) bool {
	snap, ok := h.Restore()
	if !ok {
		return false
	}
	live.Replace(snap)
	return true
}

// Len returns the number of stored snapshots.
func (h *History[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops every snapshot.
func (h *History[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// MaxDepth returns the bound.
func (h *History[T]) MaxDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxDepth
}

// SetMaxDepth changes the bound, dropping the oldest snapshots if needed.
func (h *History[T]) SetMaxDepth(n int) {
	if n < 1 {
		n = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxDepth = n
	h.trimLocked()
}

func (h *History[T]) trimLocked() {
	if over := len(h.entries) - h.maxDepth; over > 0 {
		var zero T
		for i := 0; i < over; i++ {
			h.entries[i] = zero
		}
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
}

package refdiscovery

import (
	"container/heap"
	"sync"

	"refind/internal/models"
)

// item is one queued reference. Lower priority values drain first; seq breaks
// ties so equal-priority items keep insertion order.
type item struct {
	key      string
	ref      models.ReferenceEntry
	priority int
	seq      int
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a mutex-guarded priority queue of references awaiting processing.
// Enqueued keys are deduplicated while still queued.
type Queue struct {
	mu     sync.Mutex
	heap   itemHeap
	queued map[string]struct{}
	seq    int
	notify chan struct{}
}

func NewQueue() *Queue {
	q := &Queue{
		queued: make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a reference unless the same key is already waiting. Returns
// whether the reference was added.
func (q *Queue) Enqueue(key string, ref models.ReferenceEntry, priority int) bool {
	q.mu.Lock()
	if _, dup := q.queued[key]; dup {
		q.mu.Unlock()
		return false
	}
	q.queued[key] = struct{}{}
	q.seq++
	heap.Push(&q.heap, &item{key: key, ref: ref, priority: priority, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the highest-priority reference, or returns false when empty.
func (q *Queue) Pop() (string, models.ReferenceEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return "", models.ReferenceEntry{}, false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.queued, it.key)
	return it.key, it.ref, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Wait returns a channel that receives after new work arrives.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}

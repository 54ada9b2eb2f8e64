package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// ErrInvalidTransition is returned when completing a path that is unknown or already completed.
var ErrInvalidTransition = errors.New("invalid path status transition")

// --- Priority Queue Implementation ---

// PQItem represents a site path in the priority queue
type PQItem struct {
	path     string
	priority int // Insertion sequence; lower pops first, giving FIFO order
	index    int // The index of the item in the heap (required by heap interface)
}

// PriorityQueue implements heap.Interface
type PriorityQueue []*PQItem

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].priority < pq[j].priority
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

// Push adds an element to the heap
func (pq *PriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*PQItem)
	item.index = n
	*pq = append(*pq, item)
}

// Pop removes and returns the element with the lowest sequence from the heap
func (pq *PriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// Frontier owns the pending-work queue and the seen set.
// A single mutex guards both so that insert-into-seen and enqueue happen as one step.
type Frontier struct {
	pq     PriorityQueue
	seen   map[string]models.PathStatus
	seq    int
	done   int
	failed int
	mu     sync.Mutex
	log    *logrus.Entry
}

// NewFrontier creates an empty frontier
func NewFrontier(logger *logrus.Entry) *Frontier {
	f := &Frontier{
		seen: make(map[string]models.PathStatus),
		log:  logger,
	}
	heap.Init(&f.pq)
	return f
}

// Offer inserts path into the seen set as pending and enqueues it, unless it was already seen.
// Returns true if the path was newly enqueued.
func (f *Frontier) Offer(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.seen[path]; exists {
		return false
	}
	f.seen[path] = models.PathStatusPending
	heap.Push(&f.pq, &PQItem{path: path, priority: f.seq})
	f.seq++
	return true
}

// Claim inserts path into the seen set as pending without enqueuing it, for a caller that will process it directly.
// Returns false if the path was already seen.
func (f *Frontier) Claim(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.seen[path]; exists {
		return false
	}
	f.seen[path] = models.PathStatusPending
	return true
}

// Withdraw removes a still-queued path from the queue so the caller can process it directly.
// The path stays pending. Returns false if path is not waiting in the queue.
func (f *Frontier) Withdraw(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range f.pq {
		if item.path == path {
			heap.Remove(&f.pq, item.index)
			return true
		}
	}
	return false
}

// TryDequeue removes and returns the oldest queued path without blocking.
// Returns false if the queue is currently empty.
func (f *Frontier) TryDequeue() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pq) == 0 {
		return "", false
	}
	item := heap.Pop(&f.pq).(*PQItem)
	return item.path, true
}

// Complete moves a pending path to a terminal status (done or failed). Each path completes at most once.
func (f *Frontier) Complete(path string, status models.PathStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: '%s' -> %s (not a terminal status)", ErrInvalidTransition, path, status)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, exists := f.seen[path]
	if !exists {
		return fmt.Errorf("%w: '%s' was never seen", ErrInvalidTransition, path)
	}
	if current != models.PathStatusPending {
		f.log.WithField("path", path).Warnf("Ignoring completion as %s, path already %s", status, current)
		return fmt.Errorf("%w: '%s' already %s", ErrInvalidTransition, path, current)
	}

	f.seen[path] = status
	if status == models.PathStatusDone {
		f.done++
	} else {
		f.failed++
	}
	return nil
}

// Status returns the status for path, or PathStatusNotFound if it has not been seen.
func (f *Frontier) Status(path string) models.PathStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, exists := f.seen[path]; exists {
		return status
	}
	return models.PathStatusNotFound
}

// Len returns the current number of queued paths (thread-safe)
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pq)
}

// Counts returns the seen, queued, done and failed totals under one lock.
func (f *Frontier) Counts() (seen, queued, done, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen), len(f.pq), f.done, f.failed
}

// Snapshot returns a copy of the seen set.
func (f *Frontier) Snapshot() map[string]models.PathStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.seen)
}

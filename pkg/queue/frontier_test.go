package queue

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/models"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// --- Basic Operations Tests ---

func TestNewFrontier(t *testing.T) {
	f := NewFrontier(testLogger())
	if f == nil {
		t.Fatal("NewFrontier() returned nil")
	}
	if f.Len() != 0 {
		t.Errorf("New frontier Len() = %d, want 0", f.Len())
	}
	if _, ok := f.TryDequeue(); ok {
		t.Error("TryDequeue() on empty frontier returned ok=true")
	}
}

func TestFrontier_OfferAndDequeue(t *testing.T) {
	f := NewFrontier(testLogger())

	if !f.Offer("index.html") {
		t.Fatal("Offer() of new path returned false")
	}
	if f.Len() != 1 {
		t.Errorf("After Offer, Len() = %d, want 1", f.Len())
	}
	if got := f.Status("index.html"); got != models.PathStatusPending {
		t.Errorf("Status() = %s, want pending", got)
	}

	path, ok := f.TryDequeue()
	if !ok {
		t.Fatal("TryDequeue() returned ok=false, want true")
	}
	if path != "index.html" {
		t.Errorf("TryDequeue() = %q, want %q", path, "index.html")
	}
	if f.Len() != 0 {
		t.Errorf("After TryDequeue, Len() = %d, want 0", f.Len())
	}
	// Dequeue does not change the seen status
	if got := f.Status("index.html"); got != models.PathStatusPending {
		t.Errorf("Status() after dequeue = %s, want pending", got)
	}
}

func TestFrontier_OfferDeduplicates(t *testing.T) {
	f := NewFrontier(testLogger())

	f.Offer("a.html")
	if f.Offer("a.html") {
		t.Error("second Offer() of same path returned true")
	}

	f.TryDequeue()
	if f.Offer("a.html") {
		t.Error("Offer() after dequeue returned true, path must never be re-enqueued")
	}
	if err := f.Complete("a.html", models.PathStatusDone); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if f.Offer("a.html") {
		t.Error("Offer() after completion returned true")
	}
	if f.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.Len())
	}
}

func TestFrontier_FIFOOrder(t *testing.T) {
	f := NewFrontier(testLogger())
	paths := []string{"c.html", "a.html", "b.html", "d.css"}
	for _, p := range paths {
		f.Offer(p)
	}
	for i, want := range paths {
		got, ok := f.TryDequeue()
		if !ok {
			t.Fatalf("TryDequeue() #%d returned ok=false", i)
		}
		if got != want {
			t.Errorf("TryDequeue() #%d = %q, want %q", i, got, want)
		}
	}
}

func TestFrontier_Claim(t *testing.T) {
	f := NewFrontier(testLogger())

	if !f.Claim("index.html") {
		t.Fatal("Claim() of new path returned false")
	}
	if f.Len() != 0 {
		t.Errorf("Claim() must not enqueue, Len() = %d", f.Len())
	}
	if f.Offer("index.html") {
		t.Error("Offer() after Claim() returned true")
	}
	if f.Claim("index.html") {
		t.Error("second Claim() returned true")
	}
	if err := f.Complete("index.html", models.PathStatusDone); err != nil {
		t.Errorf("Complete() of claimed path error = %v", err)
	}
}

func TestFrontier_Withdraw(t *testing.T) {
	f := NewFrontier(testLogger())
	f.Offer("a.html")
	f.Offer("b.html")
	f.Offer("c.html")

	if !f.Withdraw("b.html") {
		t.Fatal("Withdraw() of queued path returned false")
	}
	if f.Withdraw("b.html") {
		t.Error("second Withdraw() returned true")
	}
	if got := f.Status("b.html"); got != models.PathStatusPending {
		t.Errorf("Status() after Withdraw() = %v, want pending", got)
	}

	var order []string
	for {
		path, ok := f.TryDequeue()
		if !ok {
			break
		}
		order = append(order, path)
	}
	if fmt.Sprint(order) != "[a.html c.html]" {
		t.Errorf("dequeue order = %v, want [a.html c.html]", order)
	}

	if f.Withdraw("a.html") {
		t.Error("Withdraw() of dequeued path returned true")
	}
	if f.Withdraw("unknown.html") {
		t.Error("Withdraw() of unseen path returned true")
	}
	if err := f.Complete("b.html", models.PathStatusDone); err != nil {
		t.Errorf("Complete() of withdrawn path error = %v", err)
	}
}

// --- Completion Tests ---

func TestFrontier_Complete(t *testing.T) {
	f := NewFrontier(testLogger())
	f.Offer("ok.html")
	f.Offer("bad.html")

	if err := f.Complete("ok.html", models.PathStatusDone); err != nil {
		t.Fatalf("Complete(done) error = %v", err)
	}
	if err := f.Complete("bad.html", models.PathStatusFailed); err != nil {
		t.Fatalf("Complete(failed) error = %v", err)
	}

	seen, queued, done, failed := f.Counts()
	if seen != 2 || queued != 2 || done != 1 || failed != 1 {
		t.Errorf("Counts() = (%d,%d,%d,%d), want (2,2,1,1)", seen, queued, done, failed)
	}
	if got := f.Status("bad.html"); got != models.PathStatusFailed {
		t.Errorf("Status(bad.html) = %s, want failed", got)
	}
}

func TestFrontier_CompleteInvalid(t *testing.T) {
	f := NewFrontier(testLogger())
	f.Offer("a.html")

	tests := []struct {
		name   string
		path   string
		status models.PathStatus
	}{
		{"unknown path", "missing.html", models.PathStatusDone},
		{"non-terminal status", "a.html", models.PathStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.Complete(tt.path, tt.status)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Complete() error = %v, want ErrInvalidTransition", err)
			}
		})
	}

	if err := f.Complete("a.html", models.PathStatusDone); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := f.Complete("a.html", models.PathStatusFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Complete() error = %v, want ErrInvalidTransition", err)
	}
	if got := f.Status("a.html"); got != models.PathStatusDone {
		t.Errorf("Status() after rejected completion = %s, want done", got)
	}
}

func TestFrontier_StatusNotFound(t *testing.T) {
	f := NewFrontier(testLogger())
	if got := f.Status("nope.html"); got != models.PathStatusNotFound {
		t.Errorf("Status() = %s, want not_found", got)
	}
}

func TestFrontier_SnapshotIsCopy(t *testing.T) {
	f := NewFrontier(testLogger())
	f.Offer("a.html")

	snap := f.Snapshot()
	snap["b.html"] = models.PathStatusDone
	if f.Status("b.html") != models.PathStatusNotFound {
		t.Error("mutating Snapshot() leaked into frontier")
	}
}

// --- Concurrency Tests ---

func TestFrontier_ConcurrentOfferSamePath(t *testing.T) {
	f := NewFrontier(testLogger())
	const goroutines = 64

	var wg sync.WaitGroup
	var accepted atomic.Int32
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if f.Offer("catalogue/page-2.html") {
				accepted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("accepted Offer() count = %d, want exactly 1", accepted.Load())
	}
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestFrontier_ConcurrentOfferAndDequeue(t *testing.T) {
	f := NewFrontier(testLogger())
	const producers = 8
	const perProducer = 200

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every producer offers the same set of paths.
			for i := 0; i < perProducer; i++ {
				f.Offer(fmt.Sprintf("page-%d.html", i))
			}
		}()
	}

	var mu sync.Mutex
	dequeued := make(map[string]int)
	var consumers sync.WaitGroup
	stop := make(chan struct{})
	for c := 0; c < 4; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				path, ok := f.TryDequeue()
				if ok {
					mu.Lock()
					dequeued[path]++
					mu.Unlock()
					continue
				}
				select {
				case <-stop:
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	consumers.Wait()
	// Drain anything left after consumers stopped
	for {
		path, ok := f.TryDequeue()
		if !ok {
			break
		}
		dequeued[path]++
	}

	if len(dequeued) != perProducer {
		t.Errorf("dequeued %d distinct paths, want %d", len(dequeued), perProducer)
	}
	for path, n := range dequeued {
		if n != 1 {
			t.Errorf("path %s dequeued %d times, want 1", path, n)
		}
	}
}

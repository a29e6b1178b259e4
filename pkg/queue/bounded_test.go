package queue

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBounded_Backpressure(t *testing.T) {
	const capacity = 3
	var full []int
	q := New(capacity, WithOnFull(func(item int) { full = append(full, item) }))

	for i := 0; i < capacity; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Expected enqueue %d to succeed", i)
		}
	}
	if q.Enqueue(99) {
		t.Error("Expected enqueue beyond capacity to fail")
	}
	if len(full) != 1 || full[0] != 99 {
		t.Errorf("Expected exactly one queue full notification for 99, got %v", full)
	}
	if q.Len() != capacity {
		t.Errorf("Expected length %d, got %d", capacity, q.Len())
	}
}

func TestBounded_FIFO(t *testing.T) {
	q := New[string](0)

	if _, ok := q.Dequeue(); ok {
		t.Error("Expected dequeue on empty queue to report absent")
	}
	if _, ok := q.Peek(); ok {
		t.Error("Expected peek on empty queue to report absent")
	}

	for _, s := range []string{"a", "b", "c"} {
		q.Enqueue(s)
	}

	if v, ok := q.Peek(); !ok || v != "a" {
		t.Errorf("Expected peek a, got %q (ok=%v)", v, ok)
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Dequeue()
		if !ok || got != want {
			t.Errorf("Expected %q, got %q (ok=%v)", want, got, ok)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Len())
	}
}

func TestBounded_Unbounded(t *testing.T) {
	q := New[int](-1)
	for i := 0; i < 1000; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Expected unbounded enqueue %d to succeed", i)
		}
	}
	if q.Capacity() != -1 {
		t.Errorf("Expected capacity -1, got %d", q.Capacity())
	}
}

func TestBounded_Clear(t *testing.T) {
	q := New[int](10)
	for i := 0; i < 4; i++ {
		q.Enqueue(i)
	}

	if n := q.Destroy(); n != 4 {
		t.Errorf("Expected 4 discarded, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("Expected empty queue after destroy, got %d", q.Len())
	}
	if !q.Enqueue(7) {
		t.Error("Expected queue to remain usable after destroy")
	}
}

func TestBounded_ConcurrentProducersNeverOvershoot(t *testing.T) {
	const capacity = 50
	var rejected atomic.Int64
	q := New(capacity, WithOnFull(func(int) { rejected.Add(1) }))

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(p*100 + i)
			}
		}(p)
	}
	wg.Wait()

	if q.Len() != capacity {
		t.Errorf("Expected exactly %d items, got %d", capacity, q.Len())
	}
	if rejected.Load() != 800-capacity {
		t.Errorf("Expected %d rejections, got %d", 800-capacity, rejected.Load())
	}
}

func TestBounded_ClearRacingDequeue(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 10000; i++ {
		q.Enqueue(i)
	}

	seen := make(map[int]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				if seen[v] {
					t.Errorf("item %d delivered twice", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	discarded := q.Clear()
	wg.Wait()

	if len(seen)+discarded != 10000 {
		t.Errorf("Expected delivered + discarded = 10000, got %d + %d", len(seen), discarded)
	}
}

package queue

import (
	"sync"
	"testing"
)

func TestDrain_FIFO(t *testing.T) {
	t.Parallel()
	q := New()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue(func() { got = append(got, i) })
	}
	if q.Len() != 5 {
		t.Fatalf("len=%d, want 5", q.Len())
	}
	if n := q.Drain(); n != 5 {
		t.Fatalf("drained=%d, want 5", n)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order broken: %v", got)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue not empty after drain")
	}
}

func TestDrain_EnqueueDuringDrainNotSkipped(t *testing.T) {
	t.Parallel()
	q := New()
	var ran []string
	q.Enqueue(func() {
		ran = append(ran, "first")
		// Enqueued mid-drain: must land in the fresh slice, not vanish.
		q.Enqueue(func() { ran = append(ran, "late") })
	})

	q.Drain()
	if len(ran) != 1 || q.Len() != 1 {
		t.Fatalf("mid-drain enqueue must stay queued: ran=%v len=%d", ran, q.Len())
	}
	q.Drain()
	if len(ran) != 2 || ran[1] != "late" {
		t.Fatalf("late command skipped: %v", ran)
	}
}

func TestDrain_RunsEachCommandOnce(t *testing.T) {
	t.Parallel()
	q := New()
	var mu sync.Mutex
	count := 0
	for i := 0; i < 100; i++ {
		q.Enqueue(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Drain()
		}()
	}
	wg.Wait()

	if count != 100 {
		t.Fatalf("commands ran %d times, want 100", count)
	}
}

package containers

import (
	"errors"
	"testing"
)

func TestRingQueueWrapsAround(t *testing.T) {
	q := NewRingQueue[int](3)
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(i); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	if err := q.Enqueue(4); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue on full queue = %v", err)
	}
	if v, _ := q.Dequeue(); v != 1 {
		t.Fatalf("Dequeue = %d, want 1", v)
	}
	if err := q.Enqueue(4); err != nil {
		t.Fatalf("Enqueue after Dequeue: %v", err)
	}
	if v, _ := q.Peek(); v != 2 {
		t.Errorf("Peek = %d, want 2", v)
	}

	got := q.Drain()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Drain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Drain = %v, want %v", got, want)
		}
	}
	if _, err := q.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Dequeue on empty queue = %v", err)
	}
	if q.Len() != 0 || !q.IsEmpty() {
		t.Errorf("Len = %d after Drain", q.Len())
	}
}

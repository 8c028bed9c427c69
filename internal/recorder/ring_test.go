package recorder

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing[string](3)
	for _, v := range []string{"A", "B", "C", "D"} {
		r.Push(v)
	}
	if diff := cmp.Diff([]string{"B", "C", "D"}, r.Items()); diff != "" {
		t.Errorf("Items() mismatch (-want +got):\n%s", diff)
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Errorf("Len/Cap = %d/%d, want 3/3", r.Len(), r.Cap())
	}
}

func TestRingPartialAndWrap(t *testing.T) {
	r := NewRing[int](4)
	if got := r.Items(); len(got) != 0 {
		t.Fatalf("empty ring Items() = %v", got)
	}
	for i := 1; i <= 10; i++ {
		r.Push(i)
		want := i
		if want > 4 {
			want = 4
		}
		if r.Len() != want {
			t.Fatalf("after %d pushes Len() = %d, want %d", i, r.Len(), want)
		}
	}
	if diff := cmp.Diff([]int{7, 8, 9, 10}, r.Items()); diff != "" {
		t.Errorf("Items() mismatch (-want +got):\n%s", diff)
	}
}

func TestRingClear(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len() after Clear = %d", r.Len())
	}
	r.Push(4)
	if diff := cmp.Diff([]int{4}, r.Items()); diff != "" {
		t.Errorf("Items() mismatch (-want +got):\n%s", diff)
	}
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Push(1)
	r.Push(2)
	if diff := cmp.Diff([]int{2}, r.Items()); diff != "" {
		t.Errorf("Items() mismatch (-want +got):\n%s", diff)
	}
}

package buffer

import (
	"reflect"
	"testing"
)

func TestRingKeepsMostRecent(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		evicted := ring.Add(i)
		if wantEvicted := i > 3; evicted != wantEvicted {
			t.Fatalf("add %d: expected evicted=%v, got %v", i, wantEvicted, evicted)
		}
	}
	if got := ring.List(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Fatalf("expected [3 4 5], got %v", got)
	}
	if ring.Len() != 3 || ring.Cap() != 3 {
		t.Fatalf("unexpected len/cap %d/%d", ring.Len(), ring.Cap())
	}
}

func TestRingReset(t *testing.T) {
	ring := NewRing[string](2)
	ring.Add("a")
	ring.Add("b")
	ring.Reset()
	if ring.Len() != 0 || ring.List() != nil {
		t.Fatalf("expected empty ring after reset")
	}
	ring.Add("c")
	if got := ring.List(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("expected [c], got %v", got)
	}
}

func TestRingEachStopsEarly(t *testing.T) {
	ring := NewRing[int](4)
	for i := 0; i < 6; i++ {
		ring.Add(i)
	}
	var seen []int
	ring.Each(func(value int) bool {
		seen = append(seen, value)
		return len(seen) < 2
	})
	if !reflect.DeepEqual(seen, []int{2, 3}) {
		t.Fatalf("expected [2 3], got %v", seen)
	}
}

func TestNilRingIsEmpty(t *testing.T) {
	var ring *Ring[int]
	if ring.Add(1) || ring.Len() != 0 || ring.List() != nil {
		t.Fatalf("expected nil ring to be inert")
	}
}

package nodestore

import (
	"sync"
	"testing"
)

func TestTableSingleWriterRoundTrip(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()

	w := tbl.NewWriter()
	if err := w.Put(0, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Put(100, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, err := tbl.Get(0)
	if err != nil || v != 1 {
		t.Fatalf("Get(0) = %d, %v; want 1, nil", v, err)
	}
	v, err = tbl.Get(100)
	if err != nil || v != 2 {
		t.Fatalf("Get(100) = %d, %v; want 2, nil", v, err)
	}
	v, err = tbl.Get(42)
	if err != nil || v != Missing {
		t.Fatalf("Get(42) = %d, %v; want Missing, nil", v, err)
	}
}

// TestTableTwoWritersAcrossSegments interleaves two writers whose keys span
// multiple 2^27-byte segments, verified after seal.
func TestTableTwoWritersAcrossSegments(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()

	a := tbl.NewWriter()
	b := tbl.NewWriter()

	writes := []struct {
		w          *Writer
		key, value uint64
	}{
		{a, 0, 1},
		{b, 1, 4},
		{a, 100, 2},
		{b, 1 << 24, 5},
		{a, 1 << 25, 3},
		{b, 1 << 26, 6},
	}
	for _, wr := range writes {
		if err := wr.w.Put(wr.key, wr.value); err != nil {
			t.Fatalf("Put(%d, %d) failed: %v", wr.key, wr.value, err)
		}
	}

	want := map[uint64]uint64{
		0:        1,
		1:        4,
		100:      2,
		1 << 24:  5,
		1 << 25:  3,
		1 << 26:  6,
		42:       Missing,
	}
	for key, expect := range want {
		got, err := tbl.Get(key)
		if err != nil {
			t.Fatalf("Get(%d) returned error: %v", key, err)
		}
		if got != expect {
			t.Errorf("Get(%d) = %d, want %d", key, got, expect)
		}
	}
}

func TestTableParallelWriters(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()

	const writers = 4
	const perWriter = 1000

	var wg sync.WaitGroup
	for wi := 0; wi < writers; wi++ {
		w := tbl.NewWriter()
		wg.Add(1)
		go func(wi int, w *Writer) {
			defer wg.Done()
			// Interleaved key ranges, monotonic within each writer.
			for k := 0; k < perWriter; k++ {
				key := uint64(k*writers + wi)
				if err := w.Put(key, key+1); err != nil {
					t.Errorf("Put(%d) failed: %v", key, err)
					return
				}
			}
		}(wi, w)
	}
	wg.Wait()

	for k := uint64(0); k < writers*perWriter; k++ {
		v, err := tbl.Get(k)
		if err != nil {
			t.Fatalf("Get(%d) returned error: %v", k, err)
		}
		if v != k+1 {
			t.Fatalf("Get(%d) = %d, want %d", k, v, k+1)
		}
	}
}

func TestTableRejectsPutAfterSeal(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()

	w := tbl.NewWriter()
	if err := w.Put(3, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tbl.Get(3); err != nil {
		t.Fatalf("unexpected error sealing via Get: %v", err)
	}
	// A put into the writer's current segment after sealing must be refused:
	// its buffer was already flushed and dropped, so a silent write here
	// would be lost.
	if err := w.Put(4, 8); err == nil {
		t.Fatal("expected an error for a same-segment put after seal")
	}
	// A put that crosses into a new segment after sealing must be refused.
	if err := w.Put(1<<25, 9); err == nil {
		t.Fatal("expected an error for a cross-segment put after seal")
	}
}

func TestTableRejectsZeroValue(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()

	w := tbl.NewWriter()
	if err := w.Put(5, 0); err == nil {
		t.Fatal("expected an error writing value 0")
	}
}

func TestTableSealIsIdempotent(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()

	w := tbl.NewWriter()
	_ = w.Put(7, 9)

	if _, err := tbl.Get(7); err != nil {
		t.Fatalf("unexpected error on first seal-triggering Get: %v", err)
	}
	if err := tbl.seal(); err != nil {
		t.Fatalf("unexpected error re-sealing: %v", err)
	}
	v, err := tbl.Get(7)
	if err != nil || v != 9 {
		t.Fatalf("Get(7) after re-seal = %d, %v; want 9, nil", v, err)
	}
}

func TestTableEstimateMemoryUsageIsZero(t *testing.T) {
	tbl, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error creating table: %v", err)
	}
	defer tbl.Close()
	if got := tbl.EstimateMemoryUsageBytes(); got != 0 {
		t.Fatalf("EstimateMemoryUsageBytes() = %d, want 0", got)
	}
}

package freespace

import "testing"

func fixedSize(n uint64) SizeFunc {
	return func() (uint64, error) { return n, nil }
}

func noopFlush(area Area) error { return nil }

func TestNewFreeSpaceAreaMergesAdjacent(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)

	tr.NewFreeSpaceArea(Area{Start: 0, Size: 10}, false)
	tr.NewFreeSpaceArea(Area{Start: 10, Size: 5}, false)

	if got := tr.NumberFreeSpaceRegions(); got != 1 {
		t.Fatalf("NumberFreeSpaceRegions() = %d, want 1 (adjacent regions should merge)", got)
	}
}

func TestNewFreeSpaceAreaLeavesGapSeparate(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)

	tr.NewFreeSpaceArea(Area{Start: 0, Size: 10}, false)
	tr.NewFreeSpaceArea(Area{Start: 20, Size: 5}, false)

	if got := tr.NumberFreeSpaceRegions(); got != 2 {
		t.Fatalf("NumberFreeSpaceRegions() = %d, want 2", got)
	}
}

func TestReserveSplitsFreeRegion(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)
	tr.NewFreeSpaceArea(Area{Start: 0, Size: 100}, false)

	res, err := tr.Reserve(0, 10, 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Start != 0 || res.Size != 10 {
		t.Fatalf("reservation = %+v, want {0 10}", res.Area)
	}
	if got := tr.NumberReservations(); got != 1 {
		t.Fatalf("NumberReservations() = %d, want 1", got)
	}
	if got := tr.NumberFreeSpaceRegions(); got != 2 {
		t.Fatalf("NumberFreeSpaceRegions() = %d, want 2 (reserved + remaining free)", got)
	}
}

func TestReserveAppendsAtEndOfFileWhenNoneFits(t *testing.T) {
	tr := New(fixedSize(32*5), noopFlush)

	res, err := tr.Reserve(0, 4, 4)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Start != 5 {
		t.Fatalf("reservation start = %d, want 5 (end of file)", res.Start)
	}
	if res.Size != 4 {
		t.Fatalf("reservation size = %d, want 4", res.Size)
	}
}

func TestReleaseFullyUsedReservationRemovesEntry(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)
	tr.NewFreeSpaceArea(Area{Start: 0, Size: 100}, false)

	res, err := tr.Reserve(0, 10, 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := res.ReduceFront(10); err != nil {
		t.Fatalf("ReduceFront: %v", err)
	}
	if err := tr.Release(res); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := tr.NumberReservations(); got != 0 {
		t.Fatalf("NumberReservations() = %d, want 0", got)
	}
	// The fully consumed reservation is dropped from the tracker, leaving
	// only the pre-split remainder as a single free region.
	if got := tr.NumberFreeSpaceRegions(); got != 1 {
		t.Fatalf("NumberFreeSpaceRegions() = %d, want 1", got)
	}
}

func TestReleasePartiallyUsedReservationFreesRemainder(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)
	tr.NewFreeSpaceArea(Area{Start: 0, Size: 100}, false)

	res, err := tr.Reserve(0, 10, 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := res.ReduceFront(4); err != nil {
		t.Fatalf("ReduceFront: %v", err)
	}
	if err := tr.Release(res); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := tr.NumberReservations(); got != 0 {
		t.Fatalf("NumberReservations() = %d, want 0", got)
	}
	if got := tr.NumberFreeSpaceRegions(); got != 1 {
		t.Fatalf("NumberFreeSpaceRegions() = %d, want 1 (all free space merges back together)", got)
	}
}

func TestReleaseAtEndOfFileRegistersRemainder(t *testing.T) {
	tr := New(fixedSize(32*5), noopFlush)

	res, err := tr.Reserve(0, 10, 10)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := res.ReduceFront(2); err != nil {
		t.Fatalf("ReduceFront: %v", err)
	}
	if err := tr.Release(res); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got := tr.NumberReservations(); got != 0 {
		t.Fatalf("NumberReservations() = %d, want 0", got)
	}
	if got := tr.NumberFreeSpaceRegions(); got != 1 {
		t.Fatalf("NumberFreeSpaceRegions() = %d, want 1 (remainder past EOF is registered as free, not discarded)", got)
	}

	// A later Reserve should reuse the freed remainder (starting at 7)
	// instead of appending further past the file's current end (5).
	res2, err := tr.Reserve(2, 8, 8)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res2.Start != 7 {
		t.Fatalf("reservation start = %d, want 7 (reused freed remainder)", res2.Start)
	}
}

func TestFlushOnlyWritesDirtyRegionsUnlessForced(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)
	tr.NewFreeSpaceArea(Area{Start: 0, Size: 100}, false)

	flushed := 0
	tr2 := New(fixedSize(1<<20), func(area Area) error {
		flushed++
		return nil
	})
	tr2.NewFreeSpaceArea(Area{Start: 0, Size: 100}, true)
	if err := tr2.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("flushed = %d, want 1", flushed)
	}

	flushed = 0
	if err := tr2.Flush(false); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flushed != 0 {
		t.Fatalf("flushed = %d, want 0 (region no longer dirty)", flushed)
	}

	if err := tr2.Flush(true); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flushed != 1 {
		t.Fatalf("flushed = %d, want 1 (flushAll ignores dirty flag)", flushed)
	}
}

func TestClearRemovesAllRegions(t *testing.T) {
	tr := New(fixedSize(1<<20), noopFlush)
	tr.NewFreeSpaceArea(Area{Start: 0, Size: 100}, false)
	tr.Clear()
	if got := tr.NumberFreeSpaceRegions(); got != 0 {
		t.Fatalf("NumberFreeSpaceRegions() after Clear() = %d, want 0", got)
	}
}

package freespace

import (
	"sort"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// region is one tracked span of file-index space: free or reserved,
// and whether the backing device still needs to be told about it.
type region struct {
	end      FileIndex
	reserved bool
	dirty    bool
}

// SizeFunc reports the container's current size in bytes, used to
// determine where new free space gets appended past the current end
// of file.
type SizeFunc func() (uint64, error)

// FlushFunc persists one region's extent to the backing device.
type FlushFunc func(area Area) error

// Tracker maintains a map of free and reserved regions across a
// container, keyed by starting file index. Adjacent free regions are
// merged automatically; reserved regions are left alone until
// released.
type Tracker struct {
	keys    []FileIndex
	regions map[FileIndex]*region
	sizeFn  SizeFunc
	flushFn FlushFunc
}

// New creates an empty Tracker. sizeFn and flushFn connect the tracker
// to the backing container.
func New(sizeFn SizeFunc, flushFn FlushFunc) *Tracker {
	return &Tracker{
		regions: make(map[FileIndex]*region),
		sizeFn:  sizeFn,
		flushFn: flushFn,
	}
}

// Reservation describes a span of file-index space handed out by
// Reserve. The caller may shrink it (via ReduceFront/ReduceBack) to
// describe only the portion actually consumed before calling Release;
// the remainder is returned to the free pool.
type Reservation struct {
	Area
	key   FileIndex
	valid bool
}

// IsValid reports whether this reservation still refers to a live
// entry in the tracker.
func (r Reservation) IsValid() bool { return r.valid }

func (t *Tracker) lowerBound(x FileIndex) int {
	return sort.Search(len(t.keys), func(i int) bool { return t.keys[i] >= x })
}

func (t *Tracker) insert(start FileIndex, r *region) {
	i := t.lowerBound(start)
	t.keys = slices.Insert(t.keys, i, start)
	t.regions[start] = r
}

func (t *Tracker) erase(start FileIndex) {
	i := t.lowerBound(start)
	if i < len(t.keys) && t.keys[i] == start {
		t.keys = slices.Delete(t.keys, i, i+1)
	}
	delete(t.regions, start)
}

// NewFreeSpaceArea reports a newly discovered or released free-space
// region, merging it with any adjacent free regions. Reserved regions
// that overlap area are left in place; the new area is trimmed or
// split around them.
func (t *Tracker) NewFreeSpaceArea(area Area, fileUpdateNeeded bool) {
	if area.Size == 0 {
		return
	}

	startingIndex := area.Start
	endingIndex := area.End()
	regionFileUpdateNeeded := fileUpdateNeeded
	done := false

	nextIdx := t.lowerBound(startingIndex)

	if nextIdx > 0 {
		previousStartingIndex := t.keys[nextIdx-1]
		previous := t.regions[previousStartingIndex]
		previousEndingIndex := previous.end

		if previousEndingIndex >= endingIndex {
			done = true
		} else if previousEndingIndex >= startingIndex {
			if previous.reserved {
				startingIndex = previousEndingIndex
			} else {
				startingIndex = previousStartingIndex
				regionFileUpdateNeeded = previous.dirty || fileUpdateNeeded
				t.erase(previousStartingIndex)
				nextIdx--
			}
		}
	}

	if !done {
		// Snapshot the keys at or before endingIndex as they stand right
		// now: every mutation below either erases one of these keys or
		// inserts a new key strictly less than it, so the snapshot stays
		// valid for the rest of the scan (mirrors the original map-based
		// implementation's erase-safe iterator walk).
		snapshot := append([]FileIndex(nil), t.keys[nextIdx:]...)

		for _, key := range snapshot {
			if key > endingIndex {
				break
			}
			r, ok := t.regions[key]
			if !ok {
				continue
			}

			if r.reserved {
				t.insert(startingIndex, &region{end: key, reserved: false, dirty: regionFileUpdateNeeded})
				startingIndex = r.end
				regionFileUpdateNeeded = fileUpdateNeeded
			} else {
				if r.end > endingIndex {
					endingIndex = r.end
				}
				if r.dirty {
					regionFileUpdateNeeded = true
				}
				t.erase(key)
			}
		}

		if startingIndex < endingIndex {
			t.insert(startingIndex, &region{end: endingIndex, reserved: false, dirty: regionFileUpdateNeeded})
		}
	}
}

// Reserve finds or creates a free region of at least minimumSize file
// indexes at or after startingIndex, preferring desiredSize when more
// space is available. A desiredSize of zero means minimumSize. When no
// existing free region qualifies, new space is appended past the
// container's current end of file.
func (t *Tracker) Reserve(startingIndex, minimumSize, desiredSize FileIndex) (Reservation, error) {
	if desiredSize == 0 {
		desiredSize = minimumSize
	}

	idx := t.lowerBound(startingIndex)
	if idx > 0 && (idx == len(t.keys) || t.keys[idx] > startingIndex) {
		idx--
	}

	lowestEndingIndex := startingIndex + minimumSize
	for idx < len(t.keys) {
		key := t.keys[idx]
		r := t.regions[key]
		if r.reserved || r.end-key < minimumSize || r.end < lowestEndingIndex {
			idx++
			continue
		}
		break
	}

	var allocStart, allocEnd, allocSize FileIndex

	if idx < len(t.keys) {
		key := t.keys[idx]
		r := t.regions[key]
		regionStart := key
		regionEnd := r.end

		splitLeft := regionStart < startingIndex
		if splitLeft {
			allocStart = startingIndex
		} else {
			allocStart = regionStart
		}

		splitRight := allocStart+desiredSize < regionEnd
		if splitRight {
			allocEnd = allocStart + desiredSize
		} else {
			allocEnd = regionEnd
		}
		allocSize = allocEnd - allocStart

		if splitLeft {
			r.end = allocStart
			r.dirty = true
			t.insert(allocStart, &region{end: allocEnd, reserved: true, dirty: true})
		} else {
			r.end = allocEnd
			r.reserved = true
			r.dirty = true
		}

		if splitRight {
			t.insert(allocEnd, &region{end: regionEnd, reserved: false, dirty: true})
		}
	} else {
		size, err := t.sizeFn()
		if err != nil {
			return Reservation{}, err
		}
		allocStart = FileIndex(size / 32)
		allocSize = desiredSize
		allocEnd = allocStart + allocSize
		t.insert(allocStart, &region{end: allocEnd, reserved: true, dirty: true})
	}

	return Reservation{Area: Area{Start: allocStart, Size: allocSize}, key: allocStart, valid: true}, nil
}

// Release returns a reservation's remaining, unconsumed space to the
// free pool, including any remainder past the current end of file —
// registering it rather than discarding it lets a later Reserve reuse
// that space instead of always growing the file further. Callers that
// only used part of the reservation should shrink it first
// (ReduceFront/ReduceBack) so the right remainder is freed; a
// reservation with zero remaining size is simply discarded.
func (t *Tracker) Release(res Reservation) error {
	if !res.valid {
		return xerrors.New("freespace: release of invalid reservation")
	}

	if res.Size == 0 {
		t.erase(res.key)
		return nil
	}

	r, ok := t.regions[res.key]
	if !ok {
		return xerrors.New("freespace: release of unknown reservation")
	}

	released := res.key
	if res.key != res.Start {
		tail := &region{end: r.end, reserved: false, dirty: true}
		t.erase(res.key)
		t.insert(res.Start, tail)
		released = res.Start
		r = tail
	} else {
		r.reserved = false
		r.dirty = true
	}

	if idx := t.lowerBound(released); idx > 0 {
		prevKey := t.keys[idx-1]
		prev := t.regions[prevKey]
		if !prev.reserved && prev.end >= released {
			prev.end = r.end
			t.erase(released)
			released = prevKey
			r = prev
		}
	}

	if idx := t.lowerBound(released); idx+1 < len(t.keys) {
		nextKey := t.keys[idx+1]
		next := t.regions[nextKey]
		if !next.reserved && r.end >= nextKey {
			r.end = next.end
			t.erase(nextKey)
		}
	}

	r.dirty = true
	return nil
}

// NumberFreeSpaceRegions returns the number of independently tracked
// regions, free and reserved alike.
func (t *Tracker) NumberFreeSpaceRegions() int { return len(t.keys) }

// NumberReservations returns the number of currently reserved regions.
func (t *Tracker) NumberReservations() int {
	count := 0
	for _, key := range t.keys {
		if t.regions[key].reserved {
			count++
		}
	}
	return count
}

// Flush writes every region whose dirty flag is set (or, when
// flushAll is true, every region regardless of its dirty flag) to the
// backing device via FlushFunc.
func (t *Tracker) Flush(flushAll bool) error {
	for _, key := range t.keys {
		r := t.regions[key]
		if flushAll || r.dirty {
			r.dirty = false
			if err := t.flushFn(Area{Start: key, Size: r.end - key}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clear discards all tracked free space data.
func (t *Tracker) Clear() {
	t.keys = nil
	t.regions = make(map[FileIndex]*region)
}

package cab

import "github.com/dolansoft/cabriolet/cerrors"

// Merge joins two cabinets of a multi-part set: c is the left (earlier)
// cabinet, next is the right (later) one. It links
// them, appends the data segments of next's first folder to c's last
// (boundary) folder, and removes c's truncated copy of the boundary file
// from that folder (next keeps the authoritative full-length copy across
// the join).
//
// Validation fails fast on any incompatibility — Merge never partially
// mutates c.
func Merge(c, next *Cabinet) error {
	if next == nil {
		return cerrors.New(cerrors.ArgumentError, "cab: merge with a nil peer")
	}
	if c == next {
		return cerrors.New(cerrors.ArgumentError, "cab: a cabinet cannot merge with itself")
	}
	if c.next != nil {
		return cerrors.New(cerrors.ArgumentError, "cab: %d is already linked to a next cabinet", c.index)
	}
	if next.prev != nil {
		return cerrors.New(cerrors.ArgumentError, "cab: %d is already linked to a previous cabinet", next.index)
	}
	if c.setID != next.setID {
		return cerrors.New(cerrors.FormatError, "cab: set id mismatch (%d vs %d)", c.setID, next.setID)
	}
	if next.index != c.index+1 {
		return cerrors.New(cerrors.FormatError, "cab: non-consecutive cabinet index (%d then %d)", c.index, next.index)
	}
	if len(c.folders) == 0 || len(next.folders) == 0 {
		return cerrors.New(cerrors.FormatError, "cab: a folder-less cabinet cannot join a multi-part set")
	}
	left := c.folders[len(c.folders)-1]
	right := next.folders[0]
	if !left.MergeNext || !right.MergePrev {
		return cerrors.New(cerrors.FormatError, "cab: boundary folders are not marked for merge")
	}
	if left.Kind != right.Kind {
		return cerrors.New(cerrors.FormatError, "cab: compression kind mismatch across join (%s vs %s)", left.Kind, right.Kind)
	}
	if left.WindowBits != right.WindowBits {
		return cerrors.New(cerrors.FormatError, "cab: window-bits mismatch across join (%d vs %d)", left.WindowBits, right.WindowBits)
	}
	if p := c.prev; p != nil {
		for cursor := p; cursor != nil; cursor = cursor.prev {
			if cursor == next {
				return cerrors.New(cerrors.FormatError, "cab: circular cabinet chain detected")
			}
		}
	}
	for cursor := next; cursor != nil; cursor = cursor.next {
		if cursor == c {
			return cerrors.New(cerrors.FormatError, "cab: circular cabinet chain detected")
		}
	}

	// The right folder's first segment is the shared boundary block: its
	// data continues left's last block rather than starting a new one, so
	// the merged block count is a.blocks + b.blocks - 1.
	left.segments = append(left.segments, right.segments...)

	// next's copy of any boundary file is the authoritative one (full
	// length across the join); drop c's truncated half so the merged
	// folder's file list has exactly one entry per logical file.
	var kept []*File
	for _, f := range left.files {
		if f.ContinuesToNext {
			continue
		}
		kept = append(kept, f)
	}
	left.files = append(kept, right.files...)
	right.files = left.files
	right.segments = left.segments

	c.next = next
	next.prev = c

	// Share the boundary Folder object itself so subsequent joins (a
	// third cabinet merging onto next) see the already-merged boundary.
	// The cabinets' own files/folders slices stay separate.
	next.folders[0] = left
	for i, f := range next.files {
		if f.folder == right {
			next.files[i].folder = left
		}
	}

	return nil
}

// Chain walks from c to the first cabinet in its merge chain.
func (c *Cabinet) Chain() *Cabinet {
	cur := c
	for cur.prev != nil {
		cur = cur.prev
	}
	return cur
}

// Next cabinet in the multi-part chain, or nil if c is the last part.
func (c *Cabinet) NextCabinet() *Cabinet { return c.next }

// PrevCabinet is the previous cabinet in the multi-part chain, or nil.
func (c *Cabinet) PrevCabinet() *Cabinet { return c.prev }

// PrevName/PrevDisk/NextName/NextDisk expose the CFHEADER's optional
// PREV_CABINET/NEXT_CABINET name and disk strings, used to locate the
// other parts of a set before calling Merge.
func (c *Cabinet) PrevName() string { return c.prevName }
func (c *Cabinet) PrevDisk() string { return c.prevDisk }
func (c *Cabinet) NextName() string { return c.nextName }
func (c *Cabinet) NextDisk() string { return c.nextDisk }

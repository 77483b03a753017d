// Package pyramid infers a multi-resolution level table from a flat,
// unsorted tile index. The source containers this module reads (SIS/ETS)
// carry no authoritative per-level dimension table, so level count, plane
// count and per-level pixel dimensions must be reconstructed from the
// tile coordinates actually present on disk.
package pyramid

import (
	"fmt"
	"sort"
)

// Entry is the subset of a tile-directory record the inference algorithm
// needs: its pyramid level, its tile column/row, and its channel (plane).
type Entry struct {
	Level   int
	Col     int
	Row     int
	Channel int
}

// Dimensions is a level's pixel width and height.
type Dimensions struct {
	Width, Height int64
}

// Inference is the result of §4.3's reconstruction: level count, plane
// count, and one Dimensions per level, index 0 being full resolution.
type Inference struct {
	LevelCount int
	PlaneCount int
	Levels     []Dimensions
}

// InconsistentError reports a tile whose coordinates cannot be reconciled
// with the level table derived from the rest of the directory.
type InconsistentError struct {
	Reason string
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("inconsistent pyramid: %s", e.Reason)
}

// Infer reconstructs the pyramid shape from a flat tile index with strict
// 2x per-level downsampling, the invariant observed in every ETS archive
// this module has been run against: the header carries no authoritative
// per-level dimension table.
//
// Per-level maximum column/row are accumulated by the tile's own level
// field, then the two resulting arrays are sorted independently in
// descending order before use. This mirrors the reference behavior
// exactly: it is unclear whether the independent sort is intentional
// (e.g. defending against an out-of-order level enumeration) or an
// artifact, so it is reproduced rather than "corrected" to index by
// level throughout. Preserve verbatim; do not simplify away.
func Infer(entries []Entry, tileWidth, tileHeight int64) (*Inference, error) {
	if len(entries) == 0 {
		return nil, &InconsistentError{Reason: "empty tile directory"}
	}
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, &InconsistentError{Reason: "non-positive tile dimensions"}
	}

	maxLevel := 0
	maxChannel := 0
	for _, e := range entries {
		if e.Level < 0 || e.Col < 0 || e.Row < 0 || e.Channel < 0 {
			return nil, &InconsistentError{Reason: "negative coordinate in tile directory"}
		}
		if e.Level > maxLevel {
			maxLevel = e.Level
		}
		if e.Channel > maxChannel {
			maxChannel = e.Channel
		}
	}
	levelCount := maxLevel + 1
	planeCount := maxChannel + 1

	maxCol := make([]int, levelCount)
	maxRow := make([]int, levelCount)
	seen := make([]bool, levelCount)
	for _, e := range entries {
		if e.Level >= levelCount {
			return nil, &InconsistentError{Reason: fmt.Sprintf("tile level %d out of range", e.Level)}
		}
		seen[e.Level] = true
		if e.Col > maxCol[e.Level] {
			maxCol[e.Level] = e.Col
		}
		if e.Row > maxRow[e.Level] {
			maxRow[e.Level] = e.Row
		}
	}
	for lvl, ok := range seen {
		if !ok {
			return nil, &InconsistentError{Reason: fmt.Sprintf("level %d has no tiles", lvl)}
		}
	}

	sort.Sort(sort.Reverse(sort.IntSlice(maxCol)))
	sort.Sort(sort.Reverse(sort.IntSlice(maxRow)))

	// Re-validate every tile against the post-sort bounds for its level,
	// per §4.3's stated failure condition.
	for _, e := range entries {
		if e.Col > maxCol[e.Level] || e.Row > maxRow[e.Level] {
			return nil, &InconsistentError{
				Reason: fmt.Sprintf("tile (%d,%d) at level %d exceeds sorted bound (%d,%d)",
					e.Col, e.Row, e.Level, maxCol[e.Level], maxRow[e.Level]),
			}
		}
	}

	levels := make([]Dimensions, levelCount)
	levels[0] = Dimensions{
		Width:  tileWidth * int64(maxCol[0]+1),
		Height: tileHeight * int64(maxRow[0]+1),
	}
	for lvl := 1; lvl < levelCount; lvl++ {
		prev := levels[lvl-1]
		levels[lvl] = Dimensions{
			Width:  ceilHalf(prev.Width),
			Height: ceilHalf(prev.Height),
		}
	}

	return &Inference{
		LevelCount: levelCount,
		PlaneCount: planeCount,
		Levels:     levels,
	}, nil
}

// Downsample returns the inferred downsample factor for level, 2^level.
func Downsample(level int) float64 {
	d := 1.0
	for i := 0; i < level; i++ {
		d *= 2
	}
	return d
}

func ceilHalf(v int64) int64 {
	if v <= 1 {
		return 1
	}
	return (v + 1) / 2
}

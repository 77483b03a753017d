package deepzoom

import (
	"fmt"
	"math"
)

// TileInfo is the region of the underlying slide a DeepZoom tile request
// translates to: the native level to read from, the level-0 origin, the
// size to request at that level, and the size the caller should scale the
// result down (or up) to.
type TileInfo struct {
	OriginX, OriginY int64
	Level            int
	Width, Height    int64
	ScaleWidth       int64
	ScaleHeight      int64
}

// OutOfRangeError reports a DeepZoom tile address outside the level's
// tile grid.
type OutOfRangeError struct {
	Level, Col, Row int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("deepzoom: tile (%d,%d) out of range at level %d", e.Col, e.Row, e.Level)
}

// TileInfo computes the read parameters for DeepZoom tile (col, row) at
// level, following deepzoom_get_tile_info's coordinate chain: DeepZoom
// pixel location, to native-level pixel location (scaled by the
// per-level piecewise downsample), to level-0 pixel location (scaled by
// the native level's own downsample and offset by the scan bounds).
func (g *Generator) TileInfo(level, col, row int) (TileInfo, error) {
	if level < 0 || level >= g.dzLevels {
		return TileInfo{}, &OutOfRangeError{level, col, row}
	}
	grid := g.tDimensions[level]
	if col < 0 || int64(col) >= grid.Width || row < 0 || int64(row) >= grid.Height {
		return TileInfo{}, &OutOfRangeError{level, col, row}
	}

	slideLevel := g.slideFromDZLevel[level]
	zd := g.zDimensions[level]

	overlapTLx := boolOverlap(g.overlap, col != 0)
	overlapTLy := boolOverlap(g.overlap, row != 0)
	overlapBRx := boolOverlap(g.overlap, int64(col) != grid.Width-1)
	overlapBRy := boolOverlap(g.overlap, int64(row) != grid.Height-1)

	zSizeX := minInt64(g.tileSize, zd.Width-g.tileSize*int64(col)) + overlapTLx + overlapBRx
	zSizeY := minInt64(g.tileSize, zd.Height-g.tileSize*int64(row)) + overlapTLy + overlapBRy

	zLocX := g.tileSize * int64(col)
	zLocY := g.tileSize * int64(row)

	lZDownsample := g.lZDownsamples[level]
	lLocX := float64(zLocX-overlapTLx) * lZDownsample
	lLocY := float64(zLocY-overlapTLy) * lZDownsample

	l0LDownsample := g.l0LDownsample[slideLevel]
	l0LocX := lLocX*l0LDownsample + g.l0Offset.X
	l0LocY := lLocY*l0LDownsample + g.l0Offset.Y

	lDim := g.lDimensions[slideLevel]
	lSizeX := minFloat(math.Ceil(float64(zSizeX)*lZDownsample), float64(lDim.Width)-math.Ceil(lLocX))
	lSizeY := minFloat(math.Ceil(float64(zSizeY)*lZDownsample), float64(lDim.Height)-math.Ceil(lLocY))

	return TileInfo{
		OriginX:     int64(l0LocX),
		OriginY:     int64(l0LocY),
		Level:       slideLevel,
		Width:       int64(lSizeX),
		Height:      int64(lSizeY),
		ScaleWidth:  zSizeX,
		ScaleHeight: zSizeY,
	}, nil
}

func boolOverlap(overlap int64, edge bool) int64 {
	if edge {
		return overlap
	}
	return 0
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Package deepzoom implements the DeepZoom coordinate adapter of §4.6: a
// logical 2x-step pyramid built independently of the slide's native level
// structure, with its own tile grid, overlap and best-source-level
// selection, translated into reads against the underlying slide.
package deepzoom

import (
	"fmt"
	"math"
)

// Dimensions is a width/height pair, mirroring the underlying reader's
// level geometry type.
type Dimensions struct {
	Width, Height int64
}

// Point is an (x, y) coordinate pair, used both in pixels and in tile
// indices depending on context.
type Point struct {
	X, Y float64
}

// SlideSource is the minimal view of an opened slide the adapter needs:
// native level count, per-level dimensions and downsample, independent of
// whether the slide is backed by an ETS store or an OME-TIFF store.
type SlideSource interface {
	LevelCount() int
	LevelDimensions(level int) Dimensions
	LevelDownsample(level int) float64
	Property(name string) (string, bool)
}

// Generator holds the precomputed DeepZoom level tables for one slide, per
// deepzoom_open: the level-0 bounds (optionally restricted to the scanned
// area via bounds-x/y/width/height), the logical level count, and the
// per-level dimension, tile-grid, best-source-level and downsample tables.
type Generator struct {
	src SlideSource

	tileSize int64
	overlap  int64

	l0Offset      Point
	lDimensions   []Dimensions
	l0LDownsample []float64

	dzLevels         int
	zDimensions      []Dimensions
	tDimensions      []Dimensions
	slideFromDZLevel []int
	lZDownsamples    []float64
}

const (
	propBoundsX      = "bounds-x"
	propBoundsY      = "bounds-y"
	propBoundsWidth  = "bounds-width"
	propBoundsHeight = "bounds-height"
)

// NewGenerator precomputes every table deepzoom_open builds eagerly at
// open time, so later tile lookups are pure arithmetic. tileSize is the
// DeepZoom tile edge length (z_t_downsample in the original naming);
// overlap is the number of extra border pixels added to non-edge tiles.
func NewGenerator(src SlideSource, tileSize, overlap int64, limitBounds bool) *Generator {
	levels := src.LevelCount()
	lDimensions := make([]Dimensions, levels)
	l0LDownsample := make([]float64, levels)
	var offset Point

	if limitBounds {
		bx := parseFloatProp(src, propBoundsX, 0)
		by := parseFloatProp(src, propBoundsY, 0)
		bw := parseFloatProp(src, propBoundsWidth, -1)
		bh := parseFloatProp(src, propBoundsHeight, -1)
		offset = Point{X: bx, Y: by}

		l0 := src.LevelDimensions(0)
		sx, sy := 1.0, 1.0
		if bw >= 0 && l0.Width > 0 {
			sx = bw / float64(l0.Width)
		}
		if bh >= 0 && l0.Height > 0 {
			sy = bh / float64(l0.Height)
		}
		for i := 0; i < levels; i++ {
			d := src.LevelDimensions(i)
			lDimensions[i] = Dimensions{
				Width:  int64(math.Ceil(float64(d.Width) * sx)),
				Height: int64(math.Ceil(float64(d.Height) * sy)),
			}
			l0LDownsample[i] = src.LevelDownsample(i)
		}
	} else {
		for i := 0; i < levels; i++ {
			lDimensions[i] = src.LevelDimensions(i)
			l0LDownsample[i] = src.LevelDownsample(i)
		}
	}

	g := &Generator{
		src:           src,
		tileSize:      tileSize,
		overlap:       overlap,
		l0Offset:      offset,
		lDimensions:   lDimensions,
		l0LDownsample: l0LDownsample,
	}

	g.dzLevels = g.levelCount(lDimensions[0])
	g.zDimensions = g.levelDimensions(lDimensions[0])
	g.tDimensions = g.levelTiles()
	g.slideFromDZLevel = g.bestSlideLevels()

	g.lZDownsamples = make([]float64, g.dzLevels)
	for i := 0; i < g.dzLevels; i++ {
		l0ZDownsample := math.Pow(2, float64(g.dzLevels-i-1))
		idx := g.slideFromDZLevel[i]
		g.lZDownsamples[i] = l0ZDownsample / l0LDownsample[idx]
	}

	return g
}

// levelCount computes the number of logical DeepZoom levels: the count of
// successive halvings of level-0 dimensions down to a single pixel,
// inclusive of the 1x1 level itself.
func (g *Generator) levelCount(l0 Dimensions) int {
	w, h := l0.Width, l0.Height
	count := 1
	for w > 1 || h > 1 {
		w = ceilHalf(w)
		h = ceilHalf(h)
		count++
	}
	return count
}

func (g *Generator) levelDimensions(l0 Dimensions) []Dimensions {
	z := make([]Dimensions, g.dzLevels)
	w, h := l0.Width, l0.Height
	for i := g.dzLevels - 1; i >= 0; i-- {
		z[i] = Dimensions{Width: w, Height: h}
		w = ceilHalf(w)
		h = ceilHalf(h)
	}
	return z
}

func (g *Generator) levelTiles() []Dimensions {
	t := make([]Dimensions, g.dzLevels)
	for i := 0; i < g.dzLevels; i++ {
		zd := g.zDimensions[i]
		t[i] = Dimensions{
			Width:  int64(math.Ceil(float64(zd.Width) / float64(g.tileSize))),
			Height: int64(math.Ceil(float64(zd.Height) / float64(g.tileSize))),
		}
	}
	return t
}

// bestSlideLevels chooses, for every logical DeepZoom level, the native
// slide level with the largest downsample that does not exceed the
// DeepZoom level's own downsample from level 0.
func (g *Generator) bestSlideLevels() []int {
	out := make([]int, g.dzLevels)
	for i := 0; i < g.dzLevels; i++ {
		downsample := math.Pow(2, float64(g.dzLevels-i-1))
		out[i] = g.bestLevelForDownsample(downsample)
	}
	return out
}

func (g *Generator) bestLevelForDownsample(downsample float64) int {
	best := 0
	for lvl := 0; lvl < len(g.l0LDownsample); lvl++ {
		if g.l0LDownsample[lvl] <= downsample {
			best = lvl
		}
	}
	return best
}

func ceilHalf(n int64) int64 {
	h := int64(math.Ceil(float64(n) * 0.5))
	if h < 1 {
		return 1
	}
	return h
}

func parseFloatProp(src SlideSource, name string, fallback float64) float64 {
	v, ok := src.Property(name)
	if !ok {
		return fallback
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return fallback
	}
	return f
}

// LevelCount is the number of logical DeepZoom levels.
func (g *Generator) LevelCount() int { return g.dzLevels }

// LevelDimensions returns the DeepZoom pyramid's pixel dimensions at level.
func (g *Generator) LevelDimensions(level int) Dimensions { return g.zDimensions[level] }

// LevelTiles returns the tile-grid shape at level.
func (g *Generator) LevelTiles(level int) Dimensions { return g.tDimensions[level] }

// TileCount sums the tile grid across every level.
func (g *Generator) TileCount() int64 {
	var total int64
	for _, d := range g.tDimensions {
		total += d.Width * d.Height
	}
	return total
}

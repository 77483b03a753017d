package deepzoom

import "testing"

type fakeSlide struct {
	dims       []Dimensions
	downsample []float64
	props      map[string]string
}

func (f *fakeSlide) LevelCount() int                  { return len(f.dims) }
func (f *fakeSlide) LevelDimensions(l int) Dimensions { return f.dims[l] }
func (f *fakeSlide) LevelDownsample(l int) float64    { return f.downsample[l] }
func (f *fakeSlide) Property(name string) (string, bool) {
	v, ok := f.props[name]
	return v, ok
}

func newFakeSlide(w, h int64) *fakeSlide {
	return &fakeSlide{
		dims:       []Dimensions{{Width: w, Height: h}, {Width: w / 2, Height: h / 2}},
		downsample: []float64{1.0, 2.0},
		props:      map[string]string{},
	}
}

func TestLevelCountMatchesHalvingChain(t *testing.T) {
	g := NewGenerator(newFakeSlide(300, 300), 256, 0, false)
	// 300 -> 150 -> 75 -> 38 -> 19 -> 10 -> 5 -> 3 -> 2 -> 1 : 9 halvings + the base level = 10
	if g.LevelCount() != 10 {
		t.Fatalf("LevelCount = %d, want 10", g.LevelCount())
	}
	top := g.LevelDimensions(g.LevelCount() - 1)
	if top.Width != 300 || top.Height != 300 {
		t.Errorf("top level dims = %+v, want 300x300", top)
	}
	bottom := g.LevelDimensions(0)
	if bottom.Width != 1 || bottom.Height != 1 {
		t.Errorf("bottom level dims = %+v, want 1x1", bottom)
	}
}

func TestLevelTilesCoversFullGrid(t *testing.T) {
	g := NewGenerator(newFakeSlide(600, 400), 256, 0, false)
	top := g.LevelCount() - 1
	tiles := g.LevelTiles(top)
	if tiles.Width != 3 || tiles.Height != 2 {
		t.Errorf("top-level tile grid = %+v, want 3x2", tiles)
	}
}

func TestTileInfoFirstTileHasNoTopLeftOverlap(t *testing.T) {
	g := NewGenerator(newFakeSlide(600, 400), 256, 1, false)
	top := g.LevelCount() - 1
	info, err := g.TileInfo(top, 0, 0)
	if err != nil {
		t.Fatalf("TileInfo: %v", err)
	}
	if info.OriginX != 0 || info.OriginY != 0 {
		t.Errorf("origin = (%d,%d), want (0,0)", info.OriginX, info.OriginY)
	}
	if info.ScaleWidth != 257 || info.ScaleHeight != 257 {
		t.Errorf("scale = (%d,%d), want (257,257) [256 + 1 bottom-right overlap]", info.ScaleWidth, info.ScaleHeight)
	}
}

func TestTileInfoRejectsOutOfRange(t *testing.T) {
	g := NewGenerator(newFakeSlide(600, 400), 256, 0, false)
	top := g.LevelCount() - 1
	if _, err := g.TileInfo(top, 99, 99); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestTileCountSumsAllLevels(t *testing.T) {
	g := NewGenerator(newFakeSlide(256, 256), 256, 0, false)
	if g.TileCount() < int64(g.LevelCount()) {
		t.Errorf("TileCount = %d, want at least one tile per level (%d levels)", g.TileCount(), g.LevelCount())
	}
}

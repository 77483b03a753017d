package vsi

// LevelDescriptor is an immutable per-level record of a slide's pyramid.
// Tile geometry (TileWidth, TileHeight) is constant across all levels of
// a single Slide; pixel geometry shrinks level over level.
type LevelDescriptor struct {
	Width, Height         int64
	TileWidth, TileHeight int64
	TilesAcross           int64
	TilesDown             int64
	Downsample            float64
	Compression           uint32
	PlaneCount            int
}

// tilesAcross and tilesDown follow the ceiling-division rule from §3:
// tiles-across = ceil(w / tile_w), tiles-down = ceil(h / tile_h).
func tilesAcross(width, tileWidth int64) int64 {
	return (width + tileWidth - 1) / tileWidth
}

func tilesDown(height, tileHeight int64) int64 {
	return (height + tileHeight - 1) / tileHeight
}

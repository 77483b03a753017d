package vsi

import (
	"github.com/olyreader/vsi/ometiff"
	"github.com/olyreader/vsi/pyramid"
)

// ometiffBackend adapts an ometiff.Store to the Backend interface. Unlike
// the ETS backend, tile geometry here can vary level to level (§4.5), so
// TileDimensions consults the store per call rather than caching a single
// constant size.
type ometiffBackend struct {
	store  *ometiff.Store
	levels []pyramid.Dimensions
	planes int
}

func openOMETIFFBackend(path string, cacheSize int) (Backend, []LevelDescriptor, error) {
	store, dims, planes, err := ometiff.Open(path, cacheSize)
	if err != nil {
		return nil, nil, err
	}
	b := &ometiffBackend{store: store, levels: dims, planes: planes}
	return b, b.levelDescriptors(), nil
}

func (b *ometiffBackend) levelDescriptors() []LevelDescriptor {
	out := make([]LevelDescriptor, len(b.levels))
	for i, d := range b.levels {
		tw, th := b.store.TileWidth(i), b.store.TileHeight(i)
		out[i] = LevelDescriptor{
			Width:       d.Width,
			Height:      d.Height,
			TileWidth:   int64(tw),
			TileHeight:  int64(th),
			TilesAcross: tilesAcross(d.Width, int64(tw)),
			TilesDown:   tilesDown(d.Height, int64(th)),
			Downsample:  b.store.Downsample(i),
			Compression: 0,
			PlaneCount:  b.planes,
		}
	}
	return out
}

func (b *ometiffBackend) LevelCount() int { return len(b.levels) }
func (b *ometiffBackend) PlaneCount() int { return b.planes }

func (b *ometiffBackend) TileDimensions(level int) (int64, int64) {
	return int64(b.store.TileWidth(level)), int64(b.store.TileHeight(level))
}

func (b *ometiffBackend) Downsample(level int) float64 {
	return b.store.Downsample(level)
}

func (b *ometiffBackend) DecodeTile(level, col, row, plane int) ([]byte, error) {
	return b.store.DecodeTile(level, col, row, plane)
}

func (b *ometiffBackend) Properties() map[string]string { return b.store.Properties() }

func (b *ometiffBackend) Close() error { return b.store.Close() }

package vsi

import (
	"github.com/olyreader/vsi/ets"
	"github.com/olyreader/vsi/pyramid"
)

// etsBackend adapts an ets.Store to the Backend interface.
type etsBackend struct {
	store  *ets.Store
	levels []pyramid.Dimensions
	planes int
}

func openETSBackend(path string, handleLimit int) (Backend, []LevelDescriptor, error) {
	store, dims, planes, err := ets.Open(path, handleLimit)
	if err != nil {
		return nil, nil, err
	}
	b := &etsBackend{store: store, levels: dims, planes: planes}
	return b, b.levelDescriptors(), nil
}

func (b *etsBackend) levelDescriptors() []LevelDescriptor {
	out := make([]LevelDescriptor, len(b.levels))
	tw, th := b.store.TileWidth(), b.store.TileHeight()
	for i, d := range b.levels {
		out[i] = LevelDescriptor{
			Width:       d.Width,
			Height:      d.Height,
			TileWidth:   tw,
			TileHeight:  th,
			TilesAcross: tilesAcross(d.Width, tw),
			TilesDown:   tilesDown(d.Height, th),
			Downsample:  b.Downsample(i),
			Compression: b.store.Compression(),
			PlaneCount:  b.planes,
		}
	}
	return out
}

func (b *etsBackend) LevelCount() int { return len(b.levels) }
func (b *etsBackend) PlaneCount() int { return b.planes }

func (b *etsBackend) TileDimensions(level int) (int64, int64) {
	return b.store.TileWidth(), b.store.TileHeight()
}

func (b *etsBackend) Downsample(level int) float64 {
	return pyramid.Downsample(level)
}

func (b *etsBackend) DecodeTile(level, col, row, plane int) ([]byte, error) {
	return b.store.DecodeTile(level, col, row, plane)
}

func (b *etsBackend) Properties() map[string]string { return b.store.Properties() }

func (b *etsBackend) Close() error { return b.store.Close() }

package ometiff

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image/jpeg"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/exp/mmap"

	"github.com/olyreader/vsi/codec"
	"github.com/olyreader/vsi/pyramid"
)

// Store owns an mmap'd OME-TIFF file, its parsed directory chain grouped
// into levels x channels, and a decoded-tile cache, following the
// mmap-plus-LRU shape used for tiled TIFF elsewhere in this tree.
type Store struct {
	reader     *mmap.ReaderAt
	levels     [][]Directory // levels[level][channel]
	levelCount int
	planeCount int
	cache      *lru.Cache // tileCacheKey -> []byte (tightly packed RGBA)
	meta       *Metadata
}

type tileCacheKey struct {
	level, channel, col, row int
}

// Open mmaps path, walks its IFD chain, parses the OME metadata carried in
// the first directory and validates that the two agree (§4.5).
func Open(path string, cacheSize int) (*Store, []pyramid.Dimensions, int, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}

	dirs, err := ReadDirectoryChain(reader)
	if err != nil {
		reader.Close()
		return nil, nil, 0, err
	}
	if len(dirs) == 0 {
		reader.Close()
		return nil, nil, 0, &AgreementError{Reason: "empty directory chain"}
	}

	meta, err := ParseMetadata(dirs[0].ImageDescription)
	if err != nil {
		reader.Close()
		return nil, nil, 0, err
	}
	if err := ValidateAgreement(dirs, meta); err != nil {
		reader.Close()
		return nil, nil, 0, err
	}

	channelCount := meta.ChannelCount
	if channelCount < 1 {
		channelCount = 1
	}
	levelCount := len(dirs) / channelCount

	levels := make([][]Directory, levelCount)
	dims := make([]pyramid.Dimensions, levelCount)
	for lvl := 0; lvl < levelCount; lvl++ {
		levels[lvl] = dirs[lvl*channelCount : (lvl+1)*channelCount]
		dims[lvl] = pyramid.Dimensions{
			Width:  int64(levels[lvl][0].Width),
			Height: int64(levels[lvl][0].Height),
		}
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		reader.Close()
		return nil, nil, 0, err
	}

	return &Store{
		reader:     reader,
		levels:     levels,
		levelCount: levelCount,
		planeCount: channelCount,
		cache:      cache,
		meta:       meta,
	}, dims, channelCount, nil
}

// Properties reports the §4.7 keys this store's metadata can supply.
func (s *Store) Properties() map[string]string {
	return s.meta.Properties()
}

// Downsample reports the level's downsample factor computed from the
// observed width ratio against level 0 (§4.5), not assumed to be 2x.
func (s *Store) Downsample(level int) float64 {
	if level < 0 || level >= s.levelCount {
		return 0
	}
	return Downsample(s.levels[0][0].Width, s.levels[level][0].Width)
}

func (s *Store) TileWidth(level int) int  { return s.levels[level][0].TileWidth }
func (s *Store) TileHeight(level int) int { return s.levels[level][0].TileHeight }

// OutOfRangeError reports a level, channel or tile coordinate outside the
// bounds this store opened with.
type OutOfRangeError struct {
	Level, Channel, Col, Row int
	Reason                   string
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("ometiff: %s (level=%d channel=%d col=%d row=%d)",
		e.Reason, e.Level, e.Channel, e.Col, e.Row)
}

// DecodeTile reads and decodes the tile at (level, col, row, channel),
// returning a tightly packed RGBA buffer.
func (s *Store) DecodeTile(level, col, row, channel int) ([]byte, error) {
	if level < 0 || level >= s.levelCount {
		return nil, &OutOfRangeError{Level: level, Channel: channel, Col: col, Row: row, Reason: "level out of range"}
	}
	if channel < 0 || channel >= len(s.levels[level]) {
		return nil, &OutOfRangeError{Level: level, Channel: channel, Col: col, Row: row, Reason: "channel out of range"}
	}
	key := tileCacheKey{level, channel, col, row}
	if v, ok := s.cache.Get(key); ok {
		return v.([]byte), nil
	}

	dir := s.levels[level][channel]
	idx := row*dir.TilesAcross() + col
	if idx < 0 || idx >= len(dir.TileOffsets) {
		return nil, &OutOfRangeError{Level: level, Channel: channel, Col: col, Row: row, Reason: "tile coordinate out of range"}
	}

	raw := make([]byte, dir.TileByteCounts[idx])
	if _, err := s.reader.ReadAt(raw, dir.TileOffsets[idx]); err != nil {
		return nil, err
	}

	decoded, err := decodeTileBytes(raw, dir)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, decoded)
	return decoded, nil
}

func decodeTileBytes(raw []byte, dir Directory) ([]byte, error) {
	switch dir.Compression {
	case 1: // uncompressed
		return rawToRGBA(raw, dir), nil
	case 5, 8: // LZW (5) and Deflate (8) both decode through a byte-stream filter; LZW support in the
		// standard library is read-only against TIFF's specific early-change variant, so only Deflate
		// is exercised here.
		if dir.Compression == 5 {
			return nil, fmt.Errorf("ometiff: LZW tile compression not supported")
		}
		r, err := zlib.NewReader(io.NopCloser(bytes.NewReader(raw)))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		inflated, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return rawToRGBA(inflated, dir), nil
	case 7: // JPEG-in-TIFF
		img, err := jpeg.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return codec.ImageToRGBA(img, dir.TileWidth, dir.TileHeight), nil
	default:
		return nil, fmt.Errorf("ometiff: unsupported tile compression %d", dir.Compression)
	}
}

func rawToRGBA(buf []byte, dir Directory) []byte {
	out := make([]byte, dir.TileWidth*dir.TileHeight*4)
	switch dir.Photometric {
	case 1: // BlackIsZero grayscale
		for i := 0; i < dir.TileWidth*dir.TileHeight; i++ {
			v := buf[i]
			out[i*4], out[i*4+1], out[i*4+2], out[i*4+3] = v, v, v, 255
		}
	case 2: // RGB
		for i := 0; i < dir.TileWidth*dir.TileHeight; i++ {
			src := i * dir.SamplesPerPixel
			out[i*4] = buf[src]
			out[i*4+1] = buf[src+1]
			out[i*4+2] = buf[src+2]
			out[i*4+3] = 255
		}
	default:
		for i := range out {
			out[i] = 0
		}
	}
	return out
}

// Close unmaps the underlying file.
func (s *Store) Close() error {
	return s.reader.Close()
}

package ets

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/olyreader/vsi/codec"
	"github.com/olyreader/vsi/pyramid"
)

// Store owns the parsed SIS/ETS headers, the tile directory and a small
// elastic pool of read handles onto the data file, per §5: "one file
// handle pool per container file... checks out a handle, uses seek+read,
// then returns it."
type Store struct {
	path       string
	sis        *SISHeader
	ets        *ETSHeader
	directory  []DirectoryEntry
	levelCount int
	planeCount int
	handles    chan *os.File
}

// Open parses the SIS+ETS headers and tile directory at path and infers
// the pyramid (§4.2, §4.3). handleLimit bounds the read-handle pool.
func Open(path string, handleLimit int) (*Store, []pyramid.Dimensions, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, 0, err
	}
	defer f.Close()

	sis, err := ReadSISHeader(f)
	if err != nil {
		return nil, nil, 0, err
	}
	ets, err := ReadETSHeader(f)
	if err != nil {
		return nil, nil, 0, err
	}

	if _, err := f.Seek(int64(sis.TileDirOffset), io.SeekStart); err != nil {
		return nil, nil, 0, err
	}
	directory, err := ReadDirectory(f, sis.TileCount)
	if err != nil {
		return nil, nil, 0, err
	}

	entries := make([]pyramid.Entry, len(directory))
	for i, d := range directory {
		entries[i] = pyramid.Entry{Level: d.Level, Col: d.Col, Row: d.Row, Channel: d.Channel}
	}
	inf, err := pyramid.Infer(entries, int64(ets.TileWidth), int64(ets.TileHeight))
	if err != nil {
		return nil, nil, 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return nil, nil, 0, err
	}
	if err := ValidateBounds(directory, info.Size(), inf.LevelCount, inf.PlaneCount); err != nil {
		return nil, nil, 0, err
	}

	if handleLimit < 1 {
		handleLimit = 1
	}
	s := &Store{
		path:       path,
		sis:        sis,
		ets:        ets,
		directory:  directory,
		levelCount: inf.LevelCount,
		planeCount: inf.PlaneCount,
		handles:    make(chan *os.File, handleLimit),
	}
	for i := 0; i < handleLimit; i++ {
		s.handles <- nil // lazily opened on first checkout
	}
	return s, inf.Levels, inf.PlaneCount, nil
}

// TileWidth and TileHeight are constant across all levels (§3).
func (s *Store) TileWidth() int64  { return int64(s.ets.TileWidth) }
func (s *Store) TileHeight() int64 { return int64(s.ets.TileHeight) }

// Compression is the ETS header's codec selector.
func (s *Store) Compression() uint32 { return s.ets.Compression }

// Fluorescent reports whether the ETS header's colorspace is fluorescence.
func (s *Store) Fluorescent() bool { return s.ets.Colorspace == ColorspaceFluorescence }

// Properties reports the §4.7 keys this format can supply: background-color
// as hex-encoded header bytes, and quickhash-1 as an md5 digest of the
// fields that identify this container's geometry and codec. mpp-x/mpp-y,
// bounds-*, objective-power and comment are not knowable from the ETS data
// this package reads and are simply absent; for a slide opened through a
// .vsi descriptor, mpp-x/mpp-y are read from the outer .vsi file's own
// TIFF tags by the root package, not by this one.
func (s *Store) Properties() map[string]string {
	props := map[string]string{
		"background-color": hex.EncodeToString(s.ets.BackgroundColor),
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d:%d:%d:%d:%d:%d", s.sis.Version, s.sis.TileCount,
		s.ets.PixelType, s.ets.ChannelKind, s.ets.Colorspace, s.ets.Compression)))
	props["quickhash-1"] = hex.EncodeToString(sum[:])
	return props
}

func (s *Store) checkout() (*os.File, error) {
	f := <-s.handles
	if f != nil {
		return f, nil
	}
	return os.Open(s.path)
}

func (s *Store) checkin(f *os.File) {
	s.handles <- f
}

// DecodeTile locates the directory entry for (level, col, row, plane),
// reads its compressed payload and decodes it to a tightly-packed RGBA
// buffer sized TileWidth x TileHeight x 4. It implements §4.4 step 4:
// linear scan, dedicated read, codec dispatch.
func (s *Store) DecodeTile(level, col, row, plane int) ([]byte, error) {
	entry, ok := Find(s.directory, level, col, row, plane)
	if !ok {
		return nil, &MissingTileError{Level: level, Col: col, Row: row, Plane: plane}
	}

	f, err := s.checkout()
	if err != nil {
		return nil, err
	}
	defer s.checkin(f)

	buf := make([]byte, entry.Bytes)
	if _, err := f.ReadAt(buf, entry.Offset); err != nil {
		return nil, err
	}

	return codec.Decode(codec.Kind(s.ets.Compression), buf, codec.Params{
		Width:        int(s.ets.TileWidth),
		Height:       int(s.ets.TileHeight),
		Fluorescence: s.planeCount > 1,
	})
}

// MissingTileError reports a requested key absent from the directory.
type MissingTileError struct {
	Level, Col, Row, Plane int
}

func (e *MissingTileError) Error() string {
	return "ets: no tile directory entry for requested key"
}

// Close releases every handle currently parked in the pool. Outstanding
// checked-out handles (none should exist once the Slide above has waited
// for its last pinned tile) are not tracked here; the caller's close
// sequencing guarantees that.
func (s *Store) Close() error {
	close(s.handles)
	var firstErr error
	for f := range s.handles {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

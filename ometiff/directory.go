// Package ometiff implements the OME-TIFF container path of §4.5: reading
// the IFD chain of a pyramidal OME-TIFF, extracting the OME XML metadata
// embedded in the first directory's ImageDescription tag, and validating
// that the directory chain agrees with the XML on base-level size and that
// the directory count is a multiple of the declared channel count.
package ometiff

import (
	"encoding/binary"
	"errors"
	"io"
)

// Tag numbers, per https://www.loc.gov/preservation/digital/formats/content/tiff_tags.shtml
const (
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagImageDescription          = 270
	tagSamplesPerPixel           = 277
	tagXResolution               = 282
	tagYResolution               = 283
	tagPlanarConfiguration       = 284
	tagResolutionUnit            = 296
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
)

// ResolutionUnit values, per the TIFF 6.0 spec.
const (
	resUnitNone       = 1
	resUnitInch       = 2
	resUnitCentimeter = 3
)

// Directory is one parsed IFD: a single level/channel plane of the
// pyramid. Unlike the striped-TIFF case (excluded by Non-goals, §4.5),
// every Directory here is required to be tiled.
type Directory struct {
	ByteOrder        binary.ByteOrder
	Width, Height    int
	TileWidth        int
	TileHeight       int
	TileOffsets      []int64
	TileByteCounts   []int64
	Compression      int
	Photometric      int
	SamplesPerPixel  int
	BitsPerSample    int
	ImageDescription string
}

var ErrNotTiled = errors.New("ometiff: directory is not tiled, striped TIFF is unsupported")
var ErrInvalidHeader = errors.New("ometiff: invalid TIFF header")

// ReadDirectoryChain walks every IFD reachable from the file header's
// first-IFD offset by following each directory's "next IFD offset" field,
// the one piece of the chain-walk the header-only parser this is adapted
// from never needed.
func ReadDirectoryChain(r io.ReaderAt) ([]Directory, error) {
	read := func(offset int64, size int) ([]byte, error) {
		buf := make([]byte, size)
		if _, err := r.ReadAt(buf, offset); err != nil {
			return nil, err
		}
		return buf, nil
	}

	header, err := read(0, 8)
	if err != nil {
		return nil, err
	}
	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, ErrInvalidHeader
	}
	if bo.Uint16(header[2:4]) != 42 {
		return nil, ErrInvalidHeader
	}

	var dirs []Directory
	offset := int64(bo.Uint32(header[4:8]))
	for offset != 0 {
		dir, next, err := readOneDirectory(read, bo, offset)
		if err != nil {
			return nil, err
		}
		if len(dir.TileOffsets) == 0 {
			return nil, ErrNotTiled
		}
		dirs = append(dirs, dir)
		offset = next
	}
	return dirs, nil
}

func readOneDirectory(read func(int64, int) ([]byte, error), bo binary.ByteOrder, ifdOffset int64) (Directory, int64, error) {
	countRaw, err := read(ifdOffset, 2)
	if err != nil {
		return Directory{}, 0, err
	}
	numEntries := int(bo.Uint16(countRaw))
	entriesRaw, err := read(ifdOffset+2, numEntries*12)
	if err != nil {
		return Directory{}, 0, err
	}

	dir := Directory{ByteOrder: bo, Compression: 1, Photometric: -1, SamplesPerPixel: 1, BitsPerSample: 8}

	readLongArray := func(entry []byte, count uint32) ([]int64, error) {
		valOffset := int64(bo.Uint32(entry[8:12]))
		if count == 1 {
			return []int64{valOffset}, nil
		}
		buf, err := read(valOffset, int(count*4))
		if err != nil {
			return nil, err
		}
		out := make([]int64, count)
		for i := uint32(0); i < count; i++ {
			out[i] = int64(bo.Uint32(buf[i*4:]))
		}
		return out, nil
	}

	for i := 0; i < numEntries; i++ {
		entry := entriesRaw[i*12 : (i+1)*12]
		tag := bo.Uint16(entry[0:2])
		count := bo.Uint32(entry[4:8])
		valOffset := int64(bo.Uint32(entry[8:12]))

		switch tag {
		case tagImageWidth:
			dir.Width = int(valOffset)
		case tagImageLength:
			dir.Height = int(valOffset)
		case tagCompression:
			dir.Compression = int(bo.Uint16(entry[8:10]))
		case tagPhotometricInterpretation:
			dir.Photometric = int(bo.Uint16(entry[8:10]))
		case tagSamplesPerPixel:
			dir.SamplesPerPixel = int(bo.Uint16(entry[8:10]))
		case tagBitsPerSample:
			dir.BitsPerSample = int(bo.Uint16(entry[8:10]))
		case tagTileWidth:
			dir.TileWidth = int(valOffset)
		case tagTileLength:
			dir.TileHeight = int(valOffset)
		case tagTileOffsets:
			dir.TileOffsets, err = readLongArray(entry, count)
			if err != nil {
				return Directory{}, 0, err
			}
		case tagTileByteCounts:
			dir.TileByteCounts, err = readLongArray(entry, count)
			if err != nil {
				return Directory{}, 0, err
			}
		case tagImageDescription:
			buf, err := read(valOffset, int(count))
			if err != nil {
				return Directory{}, 0, err
			}
			if len(buf) > 0 && buf[len(buf)-1] == 0 {
				buf = buf[:len(buf)-1]
			}
			dir.ImageDescription = string(buf)
		}
	}

	nextRaw, err := read(ifdOffset+2+int64(numEntries)*12, 4)
	if err != nil {
		return Directory{}, 0, err
	}
	next := int64(bo.Uint32(nextRaw))
	return dir, next, nil
}

// ReadOuterResolution reads the XResolution/YResolution/ResolutionUnit tags
// from the first IFD of r and converts them to micrometers-per-pixel, the
// way olympus_open_vsi's set_resolution_prop reads them from a .vsi
// file's own outer TIFF structure rather than from any sidecar pixel
// data. Unlike ReadDirectoryChain, this does not walk the IFD chain and
// does not require the directory to be tiled: the outer .vsi container is
// typically a small untiled preview image, and only its resolution tags
// matter here. mppX/mppY are 0 when the corresponding tag is absent,
// matching §4.7's "not-knowable keys are simply absent" -- this is not
// treated as an error.
func ReadOuterResolution(r io.ReaderAt) (mppX, mppY float64, err error) {
	read := func(offset int64, size int) ([]byte, error) {
		buf := make([]byte, size)
		if _, err := r.ReadAt(buf, offset); err != nil {
			return nil, err
		}
		return buf, nil
	}

	header, err := read(0, 8)
	if err != nil {
		return 0, 0, err
	}
	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return 0, 0, ErrInvalidHeader
	}
	if bo.Uint16(header[2:4]) != 42 {
		return 0, 0, ErrInvalidHeader
	}

	ifdOffset := int64(bo.Uint32(header[4:8]))
	countRaw, err := read(ifdOffset, 2)
	if err != nil {
		return 0, 0, err
	}
	numEntries := int(bo.Uint16(countRaw))
	entriesRaw, err := read(ifdOffset+2, numEntries*12)
	if err != nil {
		return 0, 0, err
	}

	readRational := func(entry []byte) (float64, error) {
		valOffset := int64(bo.Uint32(entry[8:12]))
		buf, err := read(valOffset, 8)
		if err != nil {
			return 0, err
		}
		num := bo.Uint32(buf[0:4])
		den := bo.Uint32(buf[4:8])
		if den == 0 {
			return 0, nil
		}
		return float64(num) / float64(den), nil
	}

	var xRes, yRes float64
	unit := resUnitInch // TIFF default when ResolutionUnit is absent
	for i := 0; i < numEntries; i++ {
		entry := entriesRaw[i*12 : (i+1)*12]
		tag := bo.Uint16(entry[0:2])
		switch tag {
		case tagXResolution:
			if xRes, err = readRational(entry); err != nil {
				return 0, 0, err
			}
		case tagYResolution:
			if yRes, err = readRational(entry); err != nil {
				return 0, 0, err
			}
		case tagResolutionUnit:
			unit = int(bo.Uint16(entry[8:10]))
		}
	}

	mppX = micronsPerPixel(xRes, unit)
	mppY = micronsPerPixel(yRes, unit)
	return mppX, mppY, nil
}

// micronsPerPixel converts a pixels-per-unit resolution value to
// micrometers per pixel, per set_resolution_prop's conversion table. The
// original carries a "TODO: correct according to inches" comment against
// this same conversion; it is reproduced as-is rather than independently
// re-derived.
func micronsPerPixel(res float64, unit int) float64 {
	if res <= 0 {
		return 0
	}
	switch unit {
	case resUnitCentimeter:
		return 10000.0 / res
	case resUnitInch:
		return 25400.0 / res
	default:
		return 0
	}
}

// TilesAcross and TilesDown mirror §4.3's ceiling-division rule for the
// OME-TIFF path, where dimensions come straight from the directory rather
// than being inferred from a flat tile index.
func (d Directory) TilesAcross() int {
	return (d.Width + d.TileWidth - 1) / d.TileWidth
}

func (d Directory) TilesDown() int {
	return (d.Height + d.TileHeight - 1) / d.TileHeight
}

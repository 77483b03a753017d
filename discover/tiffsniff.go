package discover

import (
	"encoding/binary"
	"fmt"
	"os"
	"regexp"
)

// readImageDescription walks just the first IFD of a TIFF file to pull out
// tag 270 (ImageDescription), which for an Olympus OME-TIFF carries the OME
// XML blob identifying the authoring vendor. This is deliberately narrower
// than a full IFD-chain walk: discovery only needs one tag from one
// directory to decide whether the file belongs to this reader at all.
func readImageDescription(f *os.File) (string, error) {
	header := make([]byte, 8)
	if _, err := f.ReadAt(header, 0); err != nil {
		return "", err
	}
	var bo binary.ByteOrder
	if string(header[0:2]) == "MM" {
		bo = binary.BigEndian
	} else {
		bo = binary.LittleEndian
	}
	ifdOffset := bo.Uint32(header[4:8])

	countBuf := make([]byte, 2)
	if _, err := f.ReadAt(countBuf, int64(ifdOffset)); err != nil {
		return "", err
	}
	count := bo.Uint16(countBuf)

	const entrySize = 12
	entries := make([]byte, int(count)*entrySize)
	if _, err := f.ReadAt(entries, int64(ifdOffset)+2); err != nil {
		return "", err
	}

	const tagImageDescription = 270
	for i := 0; i < int(count); i++ {
		rec := entries[i*entrySize : (i+1)*entrySize]
		tag := bo.Uint16(rec[0:2])
		if tag != tagImageDescription {
			continue
		}
		typ := bo.Uint16(rec[2:4])
		n := bo.Uint32(rec[4:8])
		if typ != 2 { // ASCII
			return "", fmt.Errorf("ImageDescription has unexpected type %d", typ)
		}
		var valueOffset uint32
		if n <= 4 {
			valueOffset = uint32(int64(ifdOffset) + int64(2+i*entrySize+8))
		} else {
			valueOffset = bo.Uint32(rec[8:12])
		}
		buf := make([]byte, n)
		if _, err := f.ReadAt(buf, int64(valueOffset)); err != nil {
			return "", err
		}
		return string(buf), nil
	}
	return "", fmt.Errorf("no ImageDescription tag in first IFD")
}

var experimenterUserNameRe = regexp.MustCompile(`<Experimenter[^>]*UserName="([^"]*)"`)

// omeExperimenterUsername extracts the Experimenter UserName attribute from
// an OME XML ImageDescription blob without the cost of a full XML parse;
// the ometiff package owns the authoritative parse once a file is opened.
func omeExperimenterUsername(desc string) (string, bool) {
	m := experimenterUserNameRe.FindStringSubmatch(desc)
	if m == nil {
		return "", false
	}
	return m[1], true
}

package vsi

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
)

func TestOpenReportsNotFoundForMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.ets"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if ErrKind(err) != KindNotFound {
		t.Errorf("ErrKind = %v, want KindNotFound", ErrKind(err))
	}
}

func TestOpenRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.xyz")
	writeTestFile(t, path, []byte("whatever"))

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// buildSingleTileETS assembles a minimal but valid .ets file with exactly
// one tile directory entry at (level 0, col 0, row 0, channel 0), its
// payload a real encoded JPEG. It mirrors the wire layout ets/header.go and
// ets/tiledirectory.go parse, duplicated here rather than exported from the
// ets package because only tests need to synthesize whole files.
func buildSingleTileETS(t *testing.T, tileWidth, tileHeight uint32) []byte {
	t.Helper()
	const (
		sisHeaderSize = 64
		etsHeaderSize = 228
		tileEntrySize = 32
	)
	le := binary.LittleEndian

	img := image.NewRGBA(image.Rect(0, 0, int(tileWidth), int(tileHeight)))
	for y := 0; y < int(tileHeight); y++ {
		for x := 0; x < int(tileWidth); x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var jpegBuf bytes.Buffer
	if err := jpeg.Encode(&jpegBuf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encoding fixture tile: %v", err)
	}
	payload := jpegBuf.Bytes()

	tileDirOffset := uint64(sisHeaderSize + etsHeaderSize)
	payloadOffset := int64(tileDirOffset) + tileEntrySize

	sis := make([]byte, sisHeaderSize)
	copy(sis[0:4], "SIS0")
	le.PutUint32(sis[4:8], sisHeaderSize)
	le.PutUint32(sis[8:12], 2)
	le.PutUint32(sis[12:16], 4)
	le.PutUint64(sis[16:24], sisHeaderSize)
	le.PutUint32(sis[24:28], etsHeaderSize)
	le.PutUint64(sis[32:40], tileDirOffset)
	le.PutUint32(sis[40:44], 1)

	ets := make([]byte, etsHeaderSize)
	copy(ets[0:4], "ETS0")
	le.PutUint32(ets[4:8], 1)
	le.PutUint32(ets[8:12], 2)  // PixelUInt8
	le.PutUint32(ets[12:16], 3) // ChannelRGB
	le.PutUint32(ets[16:20], 4) // ColorspaceBrightfield
	le.PutUint32(ets[20:24], 2) // CompressionJPEG
	le.PutUint32(ets[24:28], 90)
	le.PutUint32(ets[28:32], tileWidth)
	le.PutUint32(ets[32:36], tileHeight)
	le.PutUint32(ets[36:40], 1)
	le.PutUint32(ets[152:156], 1) // usePyramid

	entry := make([]byte, tileEntrySize)
	le.PutUint32(entry[4:8], 0)   // col
	le.PutUint32(entry[8:12], 0)  // row
	le.PutUint32(entry[12:16], 0) // channel
	le.PutUint32(entry[16:20], 0) // level
	le.PutUint64(entry[20:28], uint64(payloadOffset))
	le.PutUint32(entry[28:32], uint32(len(payload)))

	var out bytes.Buffer
	out.Write(sis)
	out.Write(ets)
	out.Write(entry)
	out.Write(payload)
	return out.Bytes()
}

// TestReadTileSurvivesMissingTileAndStaysUsable proves a single bad tile
// read does not poison the Slide: per the read_tile contract, the Slide
// stays usable for other tiles, and only Close retires it.
func TestReadTileSurvivesMissingTileAndStaysUsable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.ets")
	writeTestFile(t, path, buildSingleTileETS(t, 4, 4))

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	// (0,0,0,0) exists in the directory: this should succeed.
	pin, err := s.ReadTile(0, 0, 0, 0)
	if err != nil {
		t.Fatalf("ReadTile(existing tile): %v", err)
	}
	pin.Release()

	// (0,0,1,0) has no directory entry: this should fail with
	// KindMissingTile, not poison the Slide.
	if _, err := s.ReadTile(0, 0, 1, 0); err == nil {
		t.Fatal("expected error for missing tile")
	} else if ErrKind(err) != KindMissingTile {
		t.Errorf("ErrKind = %v, want KindMissingTile", ErrKind(err))
	}

	// The existing tile must still be readable after the failure above.
	pin2, err := s.ReadTile(0, 0, 0, 0)
	if err != nil {
		t.Fatalf("ReadTile(existing tile) after missing-tile error: %v", err)
	}
	pin2.Release()
}

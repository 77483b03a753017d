// Package discover implements the layered container-discovery protocol
// of §4.1: classifying a user-supplied path into one of the formats this
// reader understands, and, for a .vsi descriptor, resolving the sidecar
// directory that holds the actual pixel data.
package discover

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Format names the container format a path was classified as.
type Format int

const (
	Rejected Format = iota
	Vsi
	Ets
	Tif
)

func (f Format) String() string {
	switch f {
	case Vsi:
		return "vsi"
	case Ets:
		return "ets"
	case Tif:
		return "tif"
	default:
		return "rejected"
	}
}

// Result is the outcome of Classify: the format detected, the path that
// should actually be opened to read pixel data (for Vsi, this is the
// resolved sidecar; for Ets/Tif given directly, it is the input path
// itself), and the path the caller originally supplied to Classify.
// SourcePath and DataPath only diverge for Vsi: the outer .vsi file is
// itself a TIFF carrying its own resolution tags (§4.7's mpp-x/mpp-y,
// per olympus_open_vsi's set_resolution_prop), separate from whatever
// sidecar format actually holds the pixel data.
type Result struct {
	Format     Format
	DataPath   string
	SourcePath string
}

// Error kinds mirroring §7's taxonomy for the subset discovery can raise.
type Kind int

const (
	KindNotFound Kind = iota
	KindBadMagic
	KindUnsupported
)

type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discover: %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("discover: %s", e.Path)
}

func (e *Error) Unwrap() error { return e.Err }

const (
	etsMagicPrefix  = "ETS"
	olympusUsername = "olympus"
)

// Classify applies the §4.1 rules in order to path.
func Classify(path string) (Result, error) {
	var res Result
	var err error
	switch {
	case strings.HasSuffix(path, ".ets"):
		res, err = classifyEts(path)
	case strings.HasSuffix(path, ".tif"):
		res, err = classifyTif(path)
	case strings.HasSuffix(path, ".vsi"):
		res, err = classifyVsi(path)
	default:
		return Result{}, &Error{Kind: KindUnsupported, Path: path, Err: fmt.Errorf("unrecognized extension")}
	}
	if err != nil {
		return Result{}, err
	}
	res.SourcePath = path
	return res, nil
}

func classifyEts(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &Error{Kind: KindNotFound, Path: path, Err: err}
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return Result{}, &Error{Kind: KindBadMagic, Path: path, Err: err}
	}
	if !bytes.HasPrefix(magic, []byte(etsMagicPrefix)) {
		return Result{}, &Error{Kind: KindBadMagic, Path: path, Err: fmt.Errorf("got %q, want prefix %q", magic, etsMagicPrefix)}
	}
	return Result{Format: Ets, DataPath: path}, nil
}

func classifyTif(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, &Error{Kind: KindNotFound, Path: path, Err: err}
	}
	defer f.Close()

	if !looksLikeTIFF(f) {
		return Result{}, &Error{Kind: KindBadMagic, Path: path, Err: fmt.Errorf("not a TIFF file")}
	}

	desc, err := readImageDescription(f)
	if err != nil {
		return Result{}, &Error{Kind: KindUnsupported, Path: path, Err: err}
	}
	user, ok := omeExperimenterUsername(desc)
	if !ok || user != olympusUsername {
		return Result{}, &Error{Kind: KindUnsupported, Path: path, Err: fmt.Errorf("not an Olympus OME-TIFF")}
	}
	return Result{Format: Tif, DataPath: path}, nil
}

func classifyVsi(path string) (Result, error) {
	if _, err := os.Stat(path); err != nil {
		return Result{}, &Error{Kind: KindNotFound, Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	sidecarDir := filepath.Join(dir, fmt.Sprintf("_%s_", stem))

	stackDir, err := firstStackDir(sidecarDir)
	if err != nil {
		return Result{}, &Error{Kind: KindNotFound, Path: sidecarDir, Err: err}
	}

	framePath, err := firstFrameFile(stackDir)
	if err != nil {
		return Result{}, &Error{Kind: KindNotFound, Path: stackDir, Err: err}
	}

	switch filepath.Ext(framePath) {
	case ".ets":
		res, err := classifyEts(framePath)
		if err != nil {
			return Result{}, err
		}
		return Result{Format: Vsi, DataPath: res.DataPath}, nil
	case ".tif":
		res, err := classifyTif(framePath)
		if err != nil {
			return Result{}, err
		}
		return Result{Format: Vsi, DataPath: res.DataPath}, nil
	default:
		return Result{}, &Error{Kind: KindUnsupported, Path: framePath, Err: fmt.Errorf("unrecognized sidecar extension")}
	}
}

// firstStackDir finds the subdirectory of sidecarDir whose name begins
// with "stack1" and sorts first as a string. Only that one directory is
// returned; if its frame file later fails detection, no other stack1*
// directory is tried.
func firstStackDir(sidecarDir string) (string, error) {
	entries, err := os.ReadDir(sidecarDir)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "stack1") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no stack1* directory under %s", sidecarDir)
	}
	sort.Strings(candidates)
	return filepath.Join(sidecarDir, candidates[0]), nil
}

// firstFrameFile finds the first file in stackDir whose name begins with
// "frame_t".
func firstFrameFile(stackDir string) (string, error) {
	entries, err := os.ReadDir(stackDir)
	if err != nil {
		return "", err
	}
	var candidates []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "frame_t") {
			candidates = append(candidates, e.Name())
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no frame_t* file under %s", stackDir)
	}
	sort.Strings(candidates)
	return filepath.Join(stackDir, candidates[0]), nil
}

func looksLikeTIFF(f *os.File) bool {
	defer f.Seek(0, 0)
	header := make([]byte, 4)
	if _, err := f.ReadAt(header, 0); err != nil {
		return false
	}
	var bo binary.ByteOrder
	switch string(header[0:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return false
	}
	return bo.Uint16(header[2:4]) == 42
}

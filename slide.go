package vsi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/olyreader/vsi/cache"
	"github.com/olyreader/vsi/deepzoom"
	"github.com/olyreader/vsi/discover"
	"github.com/olyreader/vsi/ets"
	"github.com/olyreader/vsi/ometiff"
)

// defaultHandleLimit bounds the read-handle pool an ETS backend keeps open
// per container file (§5).
const defaultHandleLimit = 4

// defaultOMETIFFCacheTiles is the golang-lru entry count the OME-TIFF
// backend's own decode cache is sized to, independent of the Slide-level
// byte-budgeted cache in front of it.
const defaultOMETIFFCacheTiles = 256

// Slide is the top-level handle an application opens: it owns the
// container backend, the tile cache in front of it, and the property
// table, and tracks outstanding pinned tiles so Close can wait for them.
type Slide struct {
	backend     Backend
	cache       *cache.Cache
	props       map[string]string
	levels      []LevelDescriptor
	limitBounds bool

	mu        sync.Mutex
	poisonErr error // set once Close has run; nil the whole time the Slide is open

	outstanding sync.WaitGroup
	pinned      int64 // atomic, for diagnostics only
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	cacheBudgetBytes int64
	handleLimit      int
	limitBounds      bool
}

// WithCacheBudget sets the soft byte budget for the tile cache (§4.4).
func WithCacheBudget(bytes int64) Option {
	return func(c *openConfig) { c.cacheBudgetBytes = bytes }
}

// WithHandleLimit sets the size of the ETS backend's read-handle pool.
func WithHandleLimit(n int) Option {
	return func(c *openConfig) { c.handleLimit = n }
}

// WithLimitBounds restricts the DeepZoom adapter built by NewDeepZoomGenerator
// to the scan area named by the bounds-* properties (§4.6), matching
// openslide's limit_bounds flag.
func WithLimitBounds(v bool) Option {
	return func(c *openConfig) { c.limitBounds = v }
}

const defaultCacheBudgetBytes = 256 << 20 // 256 MiB

// Open classifies path (§4.1), opens the matching backend, and returns a
// ready-to-use Slide. A failed Open never returns a usable Slide; there is
// nothing to poison, because no Slide value is returned on error.
func Open(path string, opts ...Option) (*Slide, error) {
	cfg := openConfig{
		cacheBudgetBytes: defaultCacheBudgetBytes,
		handleLimit:      defaultHandleLimit,
	}
	for _, o := range opts {
		o(&cfg)
	}

	res, err := discover.Classify(path)
	if err != nil {
		return nil, newErr("Open", kindFromDiscover(err), err)
	}

	var backend Backend
	var levels []LevelDescriptor
	var kind Kind
	switch filepath.Ext(res.DataPath) {
	case ".ets":
		backend, levels, err = openETSBackend(res.DataPath, cfg.handleLimit)
		kind = KindUnsupportedCodec
	case ".tif":
		backend, levels, err = openOMETIFFBackend(res.DataPath, defaultOMETIFFCacheTiles)
		kind = kindFromOMETIFF(err)
	default:
		err = fmt.Errorf("vsi: resolved data path %q has unrecognized extension", res.DataPath)
		kind = KindUnsupportedCodec
	}
	if err != nil {
		return nil, newErr("Open", kind, err)
	}

	props := map[string]string{PropVendor: VendorName}
	for k, v := range backend.Properties() {
		props[k] = v
	}
	if res.Format == discover.Vsi {
		mergeOuterVsiResolution(props, res.SourcePath)
	}

	s := &Slide{
		backend:     backend,
		cache:       cache.New(cfg.cacheBudgetBytes),
		props:       props,
		levels:      levels,
		limitBounds: cfg.limitBounds,
	}
	return s, nil
}

// mergeOuterVsiResolution reads mpp-x/mpp-y straight from the outer .vsi
// file's own TIFF resolution tags and merges them into props, overriding
// anything the sidecar backend reported. Per olympus_open_vsi, mpp-x/mpp-y
// for a .vsi open come from the .vsi file itself, not from the ETS/OME-TIFF
// sidecar it points at; a read failure here is not fatal to Open since
// these are optional §4.7 keys, not required metadata.
func mergeOuterVsiResolution(props map[string]string, vsiPath string) {
	f, err := os.Open(vsiPath)
	if err != nil {
		return
	}
	defer f.Close()

	mppX, mppY, err := ometiff.ReadOuterResolution(f)
	if err != nil {
		return
	}
	if mppX > 0 {
		props[PropMPPX] = strconv.FormatFloat(mppX, 'g', -1, 64)
	}
	if mppY > 0 {
		props[PropMPPY] = strconv.FormatFloat(mppY, 'g', -1, 64)
	}
}

// kindFromOMETIFF maps an error returned while opening the OME-TIFF
// backend to the taxonomy in errors.go.
func kindFromOMETIFF(err error) Kind {
	var missing *ometiff.MissingMetadataError
	if errors.As(err, &missing) {
		return KindMissingMetadata
	}
	var disagree *ometiff.AgreementError
	if errors.As(err, &disagree) {
		return KindInconsistentPyramid
	}
	if errors.Is(err, ometiff.ErrNotTiled) || errors.Is(err, ometiff.ErrInvalidHeader) {
		return KindCorruptHeader
	}
	return KindUnsupportedCodec
}

// NewDeepZoomGenerator builds a DeepZoom coordinate adapter over this
// slide (§4.6), with the given tile edge length and overlap.
func (s *Slide) NewDeepZoomGenerator(tileSize, overlap int64) *deepzoom.Generator {
	return deepzoom.NewGenerator(s, tileSize, overlap, s.limitBounds)
}

var _ deepzoom.SlideSource = (*Slide)(nil)

func kindFromDiscover(err error) Kind {
	var derr *discover.Error
	if e, ok := err.(*discover.Error); ok {
		derr = e
		switch derr.Kind {
		case discover.KindNotFound:
			return KindNotFound
		case discover.KindBadMagic:
			return KindBadMagic
		default:
			return KindUnsupportedCodec
		}
	}
	return KindUnknown
}

// Properties returns the slide's property table (§4.7). The returned map
// is owned by the caller; mutating it has no effect on the Slide.
func (s *Slide) Properties() map[string]string {
	out := make(map[string]string, len(s.props))
	for k, v := range s.props {
		out[k] = v
	}
	return out
}

// Property looks up a single property key, matching the SlideSource
// interface the deepzoom package consumes.
func (s *Slide) Property(name string) (string, bool) {
	v, ok := s.props[name]
	return v, ok
}

// LevelCount is the number of pyramid levels.
func (s *Slide) LevelCount() int { return s.backend.LevelCount() }

// PlaneCount is the number of fluorescence/channel planes.
func (s *Slide) PlaneCount() int { return s.backend.PlaneCount() }

// Levels returns the full per-level descriptor table.
func (s *Slide) Levels() []LevelDescriptor {
	out := make([]LevelDescriptor, len(s.levels))
	copy(out, s.levels)
	return out
}

// LevelDimensions implements deepzoom.SlideSource.
func (s *Slide) LevelDimensions(level int) deepzoom.Dimensions {
	ld := s.levels[level]
	return deepzoom.Dimensions{Width: ld.Width, Height: ld.Height}
}

// LevelDownsample implements deepzoom.SlideSource.
func (s *Slide) LevelDownsample(level int) float64 {
	return s.backend.Downsample(level)
}

// PinnedTile is a caller's handle on a decoded tile. Release must be
// called exactly once.
type PinnedTile struct {
	Pixels []byte
	pin    *cache.Pinned
	slide  *Slide
}

// Release returns the tile to the cache's eviction pool and allows a
// pending Close to proceed once every pinned tile has been released.
func (p *PinnedTile) Release() {
	p.pin.Release()
	p.slide.outstanding.Done()
	atomic.AddInt64(&p.slide.pinned, -1)
}

// ReadTile decodes (or returns a cached decode of) the tile at
// (level, col, row, plane), per §4.4's public read_tile operation. A
// decode or lookup failure for one tile is reported to the caller but
// does not affect any other tile: per §7, the Slide stays usable for
// further reads. Only Close poisons the Slide against further calls.
func (s *Slide) ReadTile(level, col, row, plane int) (*PinnedTile, error) {
	s.mu.Lock()
	if s.poisonErr != nil {
		err := s.poisonErr
		s.mu.Unlock()
		return nil, err
	}
	s.outstanding.Add(1)
	s.mu.Unlock()

	key := cache.Key{Level: level, Col: col, Row: row, Plane: plane}
	pin, err := s.cache.GetOrLoad(key, func() (*cache.Tile, error) {
		pixels, derr := s.backend.DecodeTile(level, col, row, plane)
		if derr != nil {
			return nil, derr
		}
		return &cache.Tile{Pixels: pixels, Bytes: len(pixels)}, nil
	})
	if err != nil {
		s.outstanding.Done()
		return nil, newErr("ReadTile", kindFromTileError(err), err)
	}

	atomic.AddInt64(&s.pinned, 1)
	return &PinnedTile{Pixels: pin.Tile.Pixels, pin: pin, slide: s}, nil
}

// kindFromTileError maps a backend tile error to the §7 taxonomy instead
// of collapsing every failure into KindDecodeFailed.
func kindFromTileError(err error) Kind {
	var missing *ets.MissingTileError
	if errors.As(err, &missing) {
		return KindMissingTile
	}
	var outOfRange *ometiff.OutOfRangeError
	if errors.As(err, &outOfRange) {
		return KindOutOfRange
	}
	return KindDecodeFailed
}

// Close waits for every outstanding pinned tile to be released, then
// closes the backend. Close is idempotent; calling it twice is safe and
// the second call returns nil without touching the backend again, while
// ReadTile after Close returns the sticky "already closed" error. Close
// always waits and always closes the backend, regardless of any
// tile-read errors returned by prior ReadTile calls.
func (s *Slide) Close() error {
	s.mu.Lock()
	if s.poisonErr != nil {
		s.mu.Unlock()
		return nil
	}
	s.poisonErr = errClosed
	s.mu.Unlock()

	s.outstanding.Wait()
	return s.backend.Close()
}

var errClosed = newErr("Close", KindUnknown, fmt.Errorf("slide already closed"))

package cache

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetOrLoadMissThenHit(t *testing.T) {
	c := New(1 << 20)
	key := Key{Level: 0, Col: 0, Row: 0, Plane: 0}

	var loads int32
	load := func() (*Tile, error) {
		atomic.AddInt32(&loads, 1)
		return &Tile{Pixels: []byte{1, 2, 3, 4}, Bytes: 4}, nil
	}

	p1, err := c.GetOrLoad(key, load)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	defer p1.Release()

	p2, err := c.GetOrLoad(key, load)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	defer p2.Release()

	if loads != 1 {
		t.Errorf("loads = %d, want 1", loads)
	}
	if !bytes.Equal(p1.Tile.Pixels, p2.Tile.Pixels) {
		t.Errorf("pixel mismatch between handles")
	}
}

// TestConcurrentSingleFlight mirrors E4: 8 threads requesting the same
// key concurrently should trigger exactly one decode and hand back 8
// pinned handles with identical bytes.
func TestConcurrentSingleFlight(t *testing.T) {
	c := New(1 << 20)
	key := Key{Level: 0, Col: 0, Row: 0, Plane: 0}

	var loads int32
	load := func() (*Tile, error) {
		atomic.AddInt32(&loads, 1)
		return &Tile{Pixels: []byte{9, 9, 9, 9}, Bytes: 4}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	pins := make([]*Pinned, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.GetOrLoad(key, load)
			if err != nil {
				t.Errorf("GetOrLoad: %v", err)
				return
			}
			pins[i] = p
		}(i)
	}
	wg.Wait()

	if loads != 1 {
		t.Errorf("loads = %d, want exactly 1", loads)
	}
	for i, p := range pins {
		if p == nil {
			t.Fatalf("pin %d is nil", i)
		}
		if !bytes.Equal(p.Tile.Pixels, []byte{9, 9, 9, 9}) {
			t.Errorf("pin %d has wrong bytes: %v", i, p.Tile.Pixels)
		}
	}
	for _, p := range pins {
		p.Release()
	}
}

func TestPinnedEntryNeverEvicted(t *testing.T) {
	c := New(8) // tiny budget: room for 2 four-byte tiles
	k1 := Key{Level: 0, Col: 0, Row: 0}
	k2 := Key{Level: 0, Col: 1, Row: 0}
	k3 := Key{Level: 0, Col: 2, Row: 0}

	load := func(b byte) func() (*Tile, error) {
		return func() (*Tile, error) { return &Tile{Pixels: []byte{b, b, b, b}, Bytes: 4}, nil }
	}

	p1, err := c.GetOrLoad(k1, load(1))
	if err != nil {
		t.Fatal(err)
	}
	// p1 stays pinned (not released) through the rest of the test.

	p2, err := c.GetOrLoad(k2, load(2))
	if err != nil {
		t.Fatal(err)
	}
	p2.Release()
	// Budget is now full. A third insert must evict k2 (unpinned), never k1.
	p3, err := c.GetOrLoad(k3, load(3))
	if err != nil {
		t.Fatal(err)
	}
	defer p3.Release()

	check, ok := c.Get(k1)
	if !ok {
		t.Fatal("pinned entry k1 was evicted")
	}
	check.Release()
	p1.Release()
}

func TestReleaseDecrementsPinCount(t *testing.T) {
	c := New(1 << 20)
	key := Key{Level: 0}
	p, err := c.GetOrLoad(key, func() (*Tile, error) { return &Tile{Pixels: []byte{1}, Bytes: 1}, nil })
	if err != nil {
		t.Fatal(err)
	}
	if p.e.refs != 1 {
		t.Fatalf("refs = %d, want 1", p.e.refs)
	}
	p.Release()
	if p.e.refs != 0 {
		t.Fatalf("refs after release = %d, want 0", p.e.refs)
	}
}

func TestGetOrLoadPropagatesError(t *testing.T) {
	c := New(1 << 20)
	key := Key{Level: 0}
	wantErr := errors.New("decode failed")
	_, err := c.GetOrLoad(key, func() (*Tile, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if _, ok := c.Get(key); ok {
		t.Error("failed load should not have inserted an entry")
	}
}

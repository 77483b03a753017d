package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestClassifyEtsByExtensionAndMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.ets")
	writeFile(t, path, append([]byte("ETS0"), make([]byte, 60)...))

	res, err := Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Format != Ets || res.DataPath != path {
		t.Errorf("got %+v", res)
	}
}

func TestClassifyEtsRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.ets")
	writeFile(t, path, append([]byte("SIS0"), make([]byte, 60)...))

	if _, err := Classify(path); err == nil {
		t.Fatal("expected bad-magic error")
	}
}

func TestClassifyRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slide.xyz")
	writeFile(t, path, []byte("whatever"))

	if _, err := Classify(path); err == nil {
		t.Fatal("expected unsupported error")
	}
}

func TestClassifyVsiResolvesSidecarEts(t *testing.T) {
	dir := t.TempDir()
	vsiPath := filepath.Join(dir, "slide.vsi")
	writeFile(t, vsiPath, []byte("vsi descriptor placeholder"))

	stackDir := filepath.Join(dir, "_slide_", "stack10001")
	if err := os.MkdirAll(stackDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	framePath := filepath.Join(stackDir, "frame_t.ets")
	writeFile(t, framePath, append([]byte("ETS0"), make([]byte, 60)...))

	res, err := Classify(vsiPath)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Format != Vsi || res.DataPath != framePath {
		t.Errorf("got %+v, want frame %s", res, framePath)
	}
}

func TestClassifyVsiMissingSidecarFails(t *testing.T) {
	dir := t.TempDir()
	vsiPath := filepath.Join(dir, "slide.vsi")
	writeFile(t, vsiPath, []byte("vsi descriptor placeholder"))

	if _, err := Classify(vsiPath); err == nil {
		t.Fatal("expected not-found error for missing sidecar")
	}
}

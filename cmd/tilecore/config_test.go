package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRenderConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
minZoom: 0
maxZoom: 4
bounds:
  west: -10
  south: -5
  east: 10
  north: 5
layer:
  name: places
  bufferPixels: 4
  pixelTolerance: 1
  minPixelSize: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadRenderConfig(path)
	if err != nil {
		t.Fatalf("LoadRenderConfig: %v", err)
	}
	if cfg.Layer.Name != "places" {
		t.Fatalf("Layer.Name = %q, want places", cfg.Layer.Name)
	}
	if cfg.MaxZoom != 4 {
		t.Fatalf("MaxZoom = %d, want 4", cfg.MaxZoom)
	}
}

func TestLoadRenderConfigRejectsInvertedZoomRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("minZoom: 5\nmaxZoom: 2\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := LoadRenderConfig(path); err == nil {
		t.Fatal("expected error for maxZoom below minZoom")
	}
}

func TestBoundsConfigTileExtents(t *testing.T) {
	cfg := &RenderConfig{
		MinZoom: 0,
		MaxZoom: 2,
		Bounds:  LatLonBound{West: -180, South: -85, East: 180, North: 85},
	}
	bc := newBoundsConfig(cfg, webMercatorTransform())

	ext := bc.TileExtents(0)
	if ext.MinX != 0 || ext.MaxX != 0 || ext.MinY != 0 || ext.MaxY != 0 {
		t.Fatalf("z0 extents = %+v, want the single (0,0) tile", ext)
	}

	ext = bc.TileExtents(2)
	if ext.MaxX-ext.MinX != 3 || ext.MaxY-ext.MinY != 3 {
		t.Fatalf("z2 extents = %+v, want a full 4x4 span for a world-wide bound", ext)
	}
}

package render

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/ridgeline-gis/tilecore/internal/geo"
	"github.com/ridgeline-gis/tilecore/internal/slicer"
)

type testBounds struct{ extents TileExtents }

func (b testBounds) TileExtents(z uint8) TileExtents { return b.extents }

type testConfig struct {
	bounds  Bounds
	maxZoom int
}

func (c testConfig) Bounds() Bounds { return c.bounds }
func (c testConfig) MaxZoom() int   { return c.maxZoom }

type testEncoder struct {
	geometryCalls int
	pointCalls    int
	fillCalls     int
}

func (e *testEncoder) EncodeGeometry(rings []slicer.RingGroup, scale int, isArea bool) EncodedGeometry {
	e.geometryCalls++
	return rings
}

func (e *testEncoder) EncodePoints(points []orb.Point) EncodedGeometry {
	e.pointCalls++
	return points
}

func (e *testEncoder) FillGeometry() EncodedGeometry {
	e.fillCalls++
	return "FILL"
}

type testStats struct {
	processed map[string]int
	emitted   int
	errors    []string
}

func newTestStats() *testStats {
	return &testStats{processed: make(map[string]int)}
}

func (s *testStats) ProcessedElement(kind, layer string) { s.processed[kind+"/"+layer]++ }
func (s *testStats) EmittedFeatures(z int, layer string, count int) { s.emitted += count }
func (s *testStats) DataError(tag string)                           { s.errors = append(s.errors, tag) }

type testLogger struct {
	warnings []string
	errs     []string
}

func (l *testLogger) Warnf(format string, args ...interface{}) { l.warnings = append(l.warnings, format) }
func (l *testLogger) Errorf(format string, args ...interface{}) { l.errs = append(l.errs, format) }

type testFeature struct {
	geom          orb.Geometry
	layer         string
	minZoom       int
	maxZoom       int
	buffer        float64
	tolerance     float64
	minPixelSize  float64
	hasLabelGrid  bool
	gridPixelSize float64
	gridLimit     int
	numPointsAttr string
	sourceID      interface{}
}

func (f testFeature) Geometry() orb.Geometry                  { return f.geom }
func (f testFeature) Layer() string                           { return f.layer }
func (f testFeature) SortKey() int64                          { return 0 }
func (f testFeature) MinZoom() int                             { return f.minZoom }
func (f testFeature) MaxZoom() int                             { return f.maxZoom }
func (f testFeature) Attrs(z int) map[string]AttrValue          { return map[string]AttrValue{"z": z} }
func (f testFeature) BufferPixels(z int) float64                { return f.buffer }
func (f testFeature) PixelTolerance(z int) float64              { return f.tolerance }
func (f testFeature) MinPixelSize(z int) float64                { return f.minPixelSize }
func (f testFeature) HasLabelGrid() bool                        { return f.hasLabelGrid }
func (f testFeature) GridPixelSize(z int) float64                { return f.gridPixelSize }
func (f testFeature) GridLimit(z int) int                        { return f.gridLimit }
func (f testFeature) NumPointsAttr() string                      { return f.numPointsAttr }
func (f testFeature) SourceID() interface{}                      { return f.sourceID }

func newRenderer(maxZoom int) (*Renderer, *testEncoder, *testStats, *testLogger, *[]RenderedFeature) {
	enc := &testEncoder{}
	stats := newTestStats()
	logger := &testLogger{}
	var out []RenderedFeature
	cfg := testConfig{
		bounds:  testBounds{extents: TileExtents{MinX: 0, MinY: 0, MaxX: 1 << 10, MaxY: 1 << 10}},
		maxZoom: maxZoom,
	}
	r := New(cfg, stats, enc, logger, func(rf RenderedFeature) { out = append(out, rf) })
	return r, enc, stats, logger, &out
}

func TestRenderPointEmitsOneFeaturePerZoom(t *testing.T) {
	r, _, stats, _, out := newRenderer(14)
	f := testFeature{
		geom: orb.Point{0.5, 0.5}, layer: "places", minZoom: 3, maxZoom: 5,
		sourceID: "p1",
	}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(*out); got != 3 {
		t.Fatalf("expected 3 emitted fragments (zoom 5,4,3), got %d", got)
	}
	wantTiles := map[TileCoord]bool{
		{Z: 5, X: 16, Y: 16}: true,
		{Z: 4, X: 8, Y: 8}:   true,
		{Z: 3, X: 4, Y: 4}:   true,
	}
	for _, rf := range *out {
		if !wantTiles[rf.Tile] {
			t.Fatalf("unexpected tile %+v for the world-center point", rf.Tile)
		}
	}
	if stats.processed["point/places"] != 1 {
		t.Fatalf("expected exactly one processed-element count, got %d", stats.processed["point/places"])
	}
	ids := map[int64]bool{}
	for _, rf := range *out {
		ids[rf.Vector.FeatureID] = true
	}
	if len(ids) != 1 {
		t.Fatalf("expected every zoom's fragment to share one feature id, got %d ids", len(ids))
	}
}

func TestRenderBufferedLabelPointReplicatesAcrossTileCorner(t *testing.T) {
	r, _, _, _, out := newRenderer(10)
	f := testFeature{
		geom:          orb.Point{0.5, 0.5},
		layer:         "places",
		minZoom:       1,
		maxZoom:       1,
		buffer:        4,
		hasLabelGrid:  true,
		gridPixelSize: 64,
		gridLimit:     2,
		sourceID:      "p2",
	}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// World center sits on the corner of all four zoom-1 tiles; the buffer
	// pulls it into each of them.
	if got := len(*out); got != 4 {
		t.Fatalf("expected 4 tile fragments, got %d", got)
	}
	ids := map[int64]bool{}
	for _, rf := range *out {
		ids[rf.Vector.FeatureID] = true
		if rf.Group == nil {
			t.Fatalf("expected a label-grid group on fragment at %+v", rf.Tile)
		}
		if rf.Group.Limit != 2 {
			t.Fatalf("expected grid limit 2, got %d", rf.Group.Limit)
		}
	}
	if len(ids) != 1 {
		t.Fatalf("expected all fragments to share one feature id, got %d", len(ids))
	}
}

func TestRenderMultiPointWithLabelGridDecomposes(t *testing.T) {
	r, enc, _, _, out := newRenderer(10)
	f := testFeature{
		geom:          orb.MultiPoint{{0.1, 0.1}, {0.2, 0.2}, {0.9, 0.9}},
		layer:         "poi",
		minZoom:       4,
		maxZoom:       4,
		hasLabelGrid:  true,
		gridPixelSize: 32,
		gridLimit:     1,
		sourceID:      "mp1",
	}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(*out); got != 3 {
		t.Fatalf("expected each of the 3 multipoint members rendered independently, got %d", got)
	}
	ids := map[int64]bool{}
	for _, rf := range *out {
		ids[rf.Vector.FeatureID] = true
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 distinct feature ids for decomposed multipoint members, got %d", len(ids))
	}
	if enc.pointCalls != 3 {
		t.Fatalf("expected 3 EncodePoints calls, got %d", enc.pointCalls)
	}
}

func TestRenderLineAcrossTileBoundary(t *testing.T) {
	r, enc, _, _, out := newRenderer(10)
	f := testFeature{
		geom: orb.LineString{{0.3, 0.5}, {0.7, 0.5}},
		layer: "roads", minZoom: 1, maxZoom: 1,
		minPixelSize: 0, sourceID: "l1",
	}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*out) == 0 {
		t.Fatal("expected at least one emitted line fragment")
	}
	if enc.geometryCalls == 0 {
		t.Fatal("expected EncodeGeometry to be called for the line")
	}
}

func TestRenderPolygonEmitsFillForInteriorTile(t *testing.T) {
	r, enc, _, _, out := newRenderer(10)
	// Large square spanning world coordinates well beyond a single tile at
	// zoom 1, guaranteeing a fully interior tile.
	big := orb.Polygon{{
		{-1, -1}, {4, -1}, {4, 4}, {-1, 4}, {-1, -1},
	}}
	f := testFeature{
		geom: big, layer: "land", minZoom: 1, maxZoom: 1, sourceID: "poly1",
	}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sawFill := false
	for _, rf := range *out {
		if s, ok := rf.Vector.Geometry.(string); ok && s == "FILL" {
			sawFill = true
		}
	}
	if !sawFill {
		t.Fatal("expected at least one FILL-geometry tile fragment for an interior tile")
	}
	if enc.fillCalls == 0 {
		t.Fatal("expected FillGeometry to be called")
	}
}

func TestRenderDropsFeatureBelowMinPixelSize(t *testing.T) {
	r, _, stats, _, out := newRenderer(10)
	tiny := orb.LineString{{0.500, 0.500}, {0.5001, 0.500}}
	f := testFeature{
		geom: tiny, layer: "roads", minZoom: 4, maxZoom: 4,
		minPixelSize: 64, sourceID: "tiny1",
	}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*out) != 0 {
		t.Fatalf("expected a sub-minSize line to be skipped at this zoom, got %d fragments", len(*out))
	}
	if stats.processed["line/roads"] != 1 {
		t.Fatal("expected the feature to still be counted as processed even though nothing was emitted")
	}
}

func TestRenderEmptyGeometryIsDroppedWithDataError(t *testing.T) {
	r, _, stats, logger, out := newRenderer(10)
	f := testFeature{geom: orb.MultiPoint{}, layer: "poi", sourceID: "empty1"}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*out) != 0 {
		t.Fatal("expected no output for an empty geometry")
	}
	if len(stats.errors) != 1 || stats.errors[0] != "empty_geometry" {
		t.Fatalf("expected a single empty_geometry data error, got %v", stats.errors)
	}
	if len(logger.warnings) != 1 {
		t.Fatalf("expected a single warning to be logged, got %v", logger.warnings)
	}
}

func TestRenderCollectionRecursesIntoMembers(t *testing.T) {
	r, _, stats, _, out := newRenderer(10)
	coll := orb.Collection{
		orb.Point{0.1, 0.1},
		orb.Point{0.2, 0.2},
	}
	f := testFeature{geom: coll, layer: "mixed", minZoom: 2, maxZoom: 2, sourceID: "coll1"}
	if err := r.Render(f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(*out) != 2 {
		t.Fatalf("expected both collection members to be rendered, got %d fragments", len(*out))
	}
	if stats.processed["point/mixed"] != 2 {
		t.Fatalf("expected each collection member processed independently, got %d", stats.processed["point/mixed"])
	}
}

func TestCanonicalOrientationForcesOuterCCWInnerCW(t *testing.T) {
	// Outer ring wound CW, hole wound CCW: canonicalOrientation should flip
	// both.
	outerCW := orb.Ring{{0, 0}, {0, 4}, {4, 4}, {4, 0}, {0, 0}}
	holeCCW := orb.Ring{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}
	p := orb.Polygon{outerCW, holeCCW}
	out := canonicalOrientation(p)
	if geo.SignedArea(out[0]) <= 0 {
		t.Fatal("expected outer ring to be CCW (positive signed area) after canonicalization")
	}
	if geo.SignedArea(out[1]) >= 0 {
		t.Fatal("expected inner ring to be CW (negative signed area) after canonicalization")
	}
}

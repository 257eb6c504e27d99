// Package render implements the Feature Renderer: per-zoom scaling,
// simplification, tile slicing, polygon repair, and encoded-feature
// emission for a single source feature.
package render

import (
	"github.com/paulmach/orb"

	"github.com/ridgeline-gis/tilecore/internal/slicer"
)

// MaxMaxZoom bounds every zoom value this package accepts or computes.
const MaxMaxZoom = 24

// TileCoord and TileExtents are the slicer's tile-addressing types, used
// verbatim by the renderer and its callers.
type TileCoord = slicer.TileCoord
type TileExtents = slicer.TileExtents

// Bounds resolves the valid tile extents for a zoom level, mirroring the
// host's bounds().tileExtents() facade.
type Bounds interface {
	TileExtents(z uint8) TileExtents
}

// Config is the external pipeline-configuration collaborator: the
// renderer only ever asks it for bounds and the configured max zoom.
type Config interface {
	Bounds() Bounds
	MaxZoom() int
}

// AttrValue is a scalar attribute value: string, bool, or a numeric type.
type AttrValue = interface{}

// Feature is the immutable input contract the renderer consumes. attrs,
// and the per-zoom pixel knobs, are closures over zoom because a feature's
// presentation is allowed to vary by zoom level.
type Feature interface {
	Geometry() orb.Geometry
	Layer() string
	SortKey() int64
	MinZoom() int
	MaxZoom() int
	Attrs(z int) map[string]AttrValue

	BufferPixels(z int) float64
	PixelTolerance(z int) float64
	MinPixelSize(z int) float64

	HasLabelGrid() bool
	GridPixelSize(z int) float64
	GridLimit(z int) int

	// NumPointsAttr names the attribute that should carry the pre-tiling
	// simplified point count, or "" if unset.
	NumPointsAttr() string

	// SourceID is opaque; used only for diagnostics.
	SourceID() interface{}
}

// Group identifies a label-grid cell and the maximum number of features
// permitted in it.
type Group struct {
	GridID uint64
	Limit  int
}

// EncodedGeometry is the opaque on-wire representation produced by the tile
// container layer's Encoder; the renderer never inspects it again after
// encoding.
type EncodedGeometry interface{}

// VectorFeature is the renderer's output unit before it is attached to a
// tile coordinate. featureId is shared by every tile-fragment that came
// from the same source feature.
type VectorFeature struct {
	Layer      string
	FeatureID  int64
	Geometry   EncodedGeometry
	Attributes map[string]AttrValue
	GroupHash  uint64
}

// RenderedFeature is one emitted tile fragment.
type RenderedFeature struct {
	Tile    TileCoord
	Vector  *VectorFeature
	SortKey int64
	Group   *Group
}

// Consumer receives one RenderedFeature at a time. Render may be called
// concurrently from many worker goroutines, so a Consumer must be safe for
// concurrent use or externally serialized.
type Consumer func(RenderedFeature)

// Encoder is the external tile-container-layer collaborator the on-wire
// geometry encoding is deferred to. scale is 0 for polygons (already
// quantised to the tile grid by snap-and-fix), and
// min(max(maxzoom,14)-z, 31-14) for lines, preserving sub-pixel precision
// for a downstream line-merge pass.
type Encoder interface {
	EncodeGeometry(rings []slicer.RingGroup, scale int, isArea bool) EncodedGeometry
	EncodePoints(points []orb.Point) EncodedGeometry
	// FillGeometry returns the constant FILL polygon covering [-5,261]² in
	// tile coordinates; the same value, by reference, is reused for every
	// filled tile at a given zoom so a downstream encoder can coalesce them.
	FillGeometry() EncodedGeometry
}

// Stats is the external stats sink.
type Stats interface {
	ProcessedElement(kind, layer string)
	EmittedFeatures(z int, layer string, count int)
	DataError(tag string)
}

// Logger is the minimal logging collaborator used for per-feature
// anomalies and per-tile failures.
type Logger interface {
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

package main

import (
	"github.com/paulmach/orb"

	"github.com/ridgeline-gis/tilecore/internal/render"
	"github.com/ridgeline-gis/tilecore/internal/slicer"
)

// mvtExtent is the de-facto standard MVT tile extent (4096 units per tile
// side), matching github.com/paulmach/orb/encoding/mvt's own default.
const mvtExtent = 4096

// tileEncoder is this CLI's tile container layer: it turns the renderer's
// already tile-sliced, tile-local [0,1]² coordinates into orb geometries
// scaled to the MVT pixel grid, which archive.go then feeds straight into
// orb/encoding/mvt without a second clip/project pass (the renderer already
// did that work).
type tileEncoder struct{}

var fillGeometry = buildFillGeometry()

// buildFillGeometry returns the fixed FILL polygon: the full tile plus
// its buffer, [-5,261]² in 256-pixel tile space, scaled to the MVT
// extent. Computed once so every caller of FillGeometry shares one value.
func buildFillGeometry() orb.Geometry {
	unit := mvtExtent / 256.0
	lo, hi := -5.0*unit, 261.0*unit
	ring := orb.Ring{
		{lo, lo}, {hi, lo}, {hi, hi}, {lo, hi}, {lo, lo},
	}
	return orb.Polygon{ring}
}

func (tileEncoder) FillGeometry() render.EncodedGeometry { return fillGeometry }

func (tileEncoder) EncodePoints(points []orb.Point) render.EncodedGeometry {
	if len(points) == 1 {
		return toMVT(points[0])
	}
	out := make(orb.MultiPoint, len(points))
	for i, p := range points {
		out[i] = toMVT(p)
	}
	return out
}

func (tileEncoder) EncodeGeometry(rings []slicer.RingGroup, scale int, isArea bool) render.EncodedGeometry {
	if isArea {
		return ringGroupsToPolygonal(rings)
	}
	return ringGroupsToLinear(rings)
}

func toMVT(p orb.Point) orb.Point {
	return orb.Point{p.X() * mvtExtent, p.Y() * mvtExtent}
}

func ringToMVT(seq []orb.Point) orb.Ring {
	out := make(orb.Ring, len(seq))
	for i, p := range seq {
		out[i] = toMVT(p)
	}
	return out
}

// ringGroupsToPolygonal assembles the renderer's per-tile (outer, holes...)
// groups into an orb.Polygon, or an orb.MultiPolygon when more than one
// outer ring survived slicing into this tile.
func ringGroupsToPolygonal(groups []slicer.RingGroup) orb.Geometry {
	polys := make(orb.MultiPolygon, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		poly := make(orb.Polygon, len(g))
		for i, seq := range g {
			poly[i] = ringToMVT(seq)
		}
		polys = append(polys, poly)
	}
	if len(polys) == 1 {
		return polys[0]
	}
	return polys
}

// ringGroupsToLinear assembles the renderer's per-tile standalone sequences
// (one per RingGroup) into an orb.LineString, or an
// orb.MultiLineString when the tile holds more than one clipped segment.
func ringGroupsToLinear(groups []slicer.RingGroup) orb.Geometry {
	lines := make(orb.MultiLineString, 0, len(groups))
	for _, g := range groups {
		for _, seq := range g {
			if len(seq) < 2 {
				continue
			}
			lines = append(lines, orb.LineString(ringToMVT(seq)))
		}
	}
	if len(lines) == 1 {
		return lines[0]
	}
	return lines
}

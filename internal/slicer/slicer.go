// Package slicer cuts world-scaled geometry into the per-tile coordinate
// sequences a single zoom level's tiles are made of.
//
// Everything in this package operates in "zoom-scaled" coordinates: the
// caller is expected to have already multiplied world coordinates ([0,1]²)
// by 2^z, so that tile (tx, ty) occupies the unit square [tx, tx+1) x
// [ty, ty+1).
package slicer

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// TileCoord addresses one tile in the pyramid. The zero value is not a
// valid tile coordinate by itself; callers always carry a Z alongside it.
type TileCoord struct {
	Z    uint8
	X, Y uint32
}

// Less gives TileCoord a total order by (z, x, y), as required by the data
// model's ordering invariant.
func (t TileCoord) Less(o TileCoord) bool {
	if t.Z != o.Z {
		return t.Z < o.Z
	}
	if t.X != o.X {
		return t.X < o.X
	}
	return t.Y < o.Y
}

// TileExtents is the axis-aligned rectangle of valid tile coordinates at one
// zoom level, as produced by the host's bounds().tileExtents().forZoom(z).
type TileExtents struct {
	MinX, MinY, MaxX, MaxY uint32
}

// Contains reports whether tc falls within the extents (inclusive).
func (e TileExtents) Contains(tc TileCoord) bool {
	return tc.X >= e.MinX && tc.X <= e.MaxX && tc.Y >= e.MinY && tc.Y <= e.MaxY
}

// RingGroup is one outer-ring-plus-holes group for a polygon, or a single
// standalone coordinate sequence for a line. Coordinates are local to the
// tile they were cut into: (0,0) is the tile's top-left corner, (1,1) its
// bottom-right, with a buffer margin allowed outside that range.
type RingGroup [][]orb.Point

// TiledGeometry is the result of cutting one geometry into per-tile pieces
// at a single zoom level.
type TiledGeometry struct {
	ZoomLevel uint8

	// Points holds the per-tile local coordinates produced by
	// SlicePointsIntoTiles. Nil when this TiledGeometry came from Slice.
	Points map[TileCoord][]orb.Point

	// Rings holds the per-tile ring-groups produced by Slice. Nil when this
	// TiledGeometry came from SlicePointsIntoTiles.
	Rings map[TileCoord][]RingGroup

	// FilledTiles holds every tile that lies entirely inside the source
	// polygon, tracked separately so the caller can emit them as a constant
	// fill rather than re-encoding their (trivial) boundary. Always empty
	// for points and lines.
	FilledTiles map[TileCoord]struct{}
}

// SlicePointsIntoTiles determines, for every coordinate in coords, every
// tile whose [-buffer, 1+buffer)² footprint contains it, and records the
// point's local-to-tile coordinate there. A point near a tile corner can
// replicate into up to nine tiles.
func SlicePointsIntoTiles(extents TileExtents, buffer float64, z uint8, coords []orb.Point, sourceID interface{}) *TiledGeometry {
	tg := &TiledGeometry{
		ZoomLevel: z,
		Points:    make(map[TileCoord][]orb.Point),
	}

	for _, c := range coords {
		baseX := int64(math.Floor(c.X()))
		baseY := int64(math.Floor(c.Y()))

		for dx := int64(-1); dx <= 1; dx++ {
			tx := baseX + dx
			if tx < 0 {
				continue
			}
			// Half-open on the high side so an unbuffered point sitting
			// exactly on a tile edge belongs to one tile, not two.
			lx := c.X() - float64(tx)
			if lx < -buffer || lx >= 1+buffer {
				continue
			}
			for dy := int64(-1); dy <= 1; dy++ {
				ty := baseY + dy
				if ty < 0 {
					continue
				}
				ly := c.Y() - float64(ty)
				if ly < -buffer || ly >= 1+buffer {
					continue
				}
				tc := TileCoord{Z: z, X: uint32(tx), Y: uint32(ty)}
				if !extents.Contains(tc) {
					continue
				}
				tg.Points[tc] = append(tg.Points[tc], orb.Point{lx, ly})
			}
		}
	}
	return tg
}

// Slice cuts groups (outer+inner ring sets for polygons, standalone
// sequences for lines) against every tile within extents, clipping polygon
// rings with a Sutherland-Hodgman style rectangle clip and lines with
// Liang-Barsky segment clipping, each against the tile box expanded by
// buffer on each side.
// For polygons it also detects tiles entirely covered by a group (no
// boundary passes through them) and records them in FilledTiles instead of
// (redundantly) clipping their trivial boundary.
func Slice(groups []RingGroup, buffer float64, isArea bool, z uint8, extents TileExtents, sourceID interface{}) *TiledGeometry {
	tg := &TiledGeometry{
		ZoomLevel:   z,
		Rings:       make(map[TileCoord][]RingGroup),
		FilledTiles: make(map[TileCoord]struct{}),
	}

	minX, minY, maxX, maxY, ok := groupsBound(groups)
	if !ok {
		return tg
	}

	txLo := int64(math.Floor(minX - buffer))
	txHi := int64(math.Floor(maxX + buffer))
	tyLo := int64(math.Floor(minY - buffer))
	tyHi := int64(math.Floor(maxY + buffer))

	for tx := txLo; tx <= txHi; tx++ {
		if tx < 0 {
			continue
		}
		for ty := tyLo; ty <= tyHi; ty++ {
			if ty < 0 {
				continue
			}
			tc := TileCoord{Z: z, X: uint32(tx), Y: uint32(ty)}
			if !extents.Contains(tc) {
				continue
			}

			x0, y0 := float64(tx)-buffer, float64(ty)-buffer
			x1, y1 := float64(tx)+1+buffer, float64(ty)+1+buffer

			for _, group := range groups {
				if len(group) == 0 {
					continue
				}
				if !isArea {
					for _, seq := range group {
						for _, line := range clipLineToBox(seq, x0, y0, x1, y1) {
							tg.Rings[tc] = append(tg.Rings[tc], RingGroup{line})
						}
					}
					continue
				}
				clippedOuter := clipRingToBox(group[0], x0, y0, x1, y1)
				if len(clippedOuter) == 0 {
					continue
				}

				if ringCoversBox(clippedOuter, tx, ty) {
					filled := true
					for _, hole := range group[1:] {
						if len(clipRingToBox(hole, x0, y0, x1, y1)) > 0 {
							filled = false
							break
						}
					}
					// Belt-and-suspenders: the Sutherland-Hodgman clip coming
					// back out as the tile's own box already proves the box
					// is inside the outer ring, but confirm against the
					// unclipped polygon too before trusting it.
					if filled && !planar.PolygonContains(ringGroupPolygon(group), tileCenter(tx, ty)) {
						filled = false
					}
					if filled {
						tg.FilledTiles[tc] = struct{}{}
						continue
					}
				}

				clipped := RingGroup{clippedOuter}
				for _, hole := range group[1:] {
					if ch := clipRingToBox(hole, x0, y0, x1, y1); len(ch) > 0 {
						clipped = append(clipped, ch)
					}
				}
				tg.Rings[tc] = append(tg.Rings[tc], clipped)
			}
		}
	}
	return tg
}

func ringGroupPolygon(group RingGroup) orb.Polygon {
	poly := make(orb.Polygon, len(group))
	for i, seq := range group {
		poly[i] = orb.Ring(seq)
	}
	return poly
}

func tileCenter(tx, ty int64) orb.Point {
	return orb.Point{float64(tx) + 0.5, float64(ty) + 0.5}
}

func groupsBound(groups []RingGroup) (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, g := range groups {
		for _, seq := range g {
			for _, p := range seq {
				ok = true
				if p.X() < minX {
					minX = p.X()
				}
				if p.X() > maxX {
					maxX = p.X()
				}
				if p.Y() < minY {
					minY = p.Y()
				}
				if p.Y() > maxY {
					maxY = p.Y()
				}
			}
		}
	}
	return
}

// ringCoversBox reports whether a ring clipped to tile (tx,ty)'s box came
// back out as exactly that box, which is the Sutherland-Hodgman signature of
// "the clip window was entirely inside the subject polygon."
func ringCoversBox(ring []orb.Point, tx, ty int64) bool {
	area := shoelaceArea(ring)
	if math.Abs(math.Abs(area)-1.0) > 1e-9 {
		return false
	}
	minX, minY, maxX, maxY := ringBound(ring)
	return math.Abs(minX-float64(tx)) < 1e-9 &&
		math.Abs(minY-float64(ty)) < 1e-9 &&
		math.Abs(maxX-float64(tx+1)) < 1e-9 &&
		math.Abs(maxY-float64(ty+1)) < 1e-9
}

func ringBound(ring []orb.Point) (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range ring {
		if p.X() < minX {
			minX = p.X()
		}
		if p.X() > maxX {
			maxX = p.X()
		}
		if p.Y() < minY {
			minY = p.Y()
		}
		if p.Y() > maxY {
			maxY = p.Y()
		}
	}
	return
}

func shoelaceArea(ring []orb.Point) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		sum += a.X()*b.Y() - b.X()*a.Y()
	}
	return sum / 2
}

// clipRingToBox clips a (possibly unclosed) ring against an axis-aligned box
// with four successive Sutherland-Hodgman half-plane passes.
func clipRingToBox(ring []orb.Point, x0, y0, x1, y1 float64) []orb.Point {
	ring = dropClosingPoint(ring)
	if len(ring) < 3 {
		return nil
	}
	poly := clipHalfPlane(ring, func(p orb.Point) float64 { return p.X() - x0 })
	poly = clipHalfPlane(poly, func(p orb.Point) float64 { return x1 - p.X() })
	poly = clipHalfPlane(poly, func(p orb.Point) float64 { return p.Y() - y0 })
	poly = clipHalfPlane(poly, func(p orb.Point) float64 { return y1 - p.Y() })
	if len(poly) < 3 {
		return nil
	}
	return poly
}

func dropClosingPoint(ring []orb.Point) []orb.Point {
	n := len(ring)
	if n > 1 && ring[0] == ring[n-1] {
		return ring[:n-1]
	}
	return ring
}

// clipHalfPlane keeps the part of poly where dist(p) >= 0.
func clipHalfPlane(poly []orb.Point, dist func(orb.Point) float64) []orb.Point {
	n := len(poly)
	if n == 0 {
		return nil
	}
	out := make([]orb.Point, 0, n+1)
	for i := 0; i < n; i++ {
		cur := poly[i]
		prev := poly[(i-1+n)%n]
		curIn := dist(cur) >= 0
		prevIn := dist(prev) >= 0
		if curIn != prevIn {
			out = append(out, segmentCross(prev, cur, dist))
		}
		if curIn {
			out = append(out, cur)
		}
	}
	return out
}

func segmentCross(a, b orb.Point, dist func(orb.Point) float64) orb.Point {
	da, db := dist(a), dist(b)
	t := da / (da - db)
	return orb.Point{a.X() + t*(b.X()-a.X()), a.Y() + t*(b.Y()-a.Y())}
}

// clipLineToBox clips an open polyline against an axis-aligned box using
// Liang-Barsky segment clipping, re-joining consecutive clipped segments
// into contiguous sub-polylines and starting a new one wherever the line
// exits and re-enters the box.
func clipLineToBox(line []orb.Point, x0, y0, x1, y1 float64) [][]orb.Point {
	var result [][]orb.Point
	var current []orb.Point

	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		p0, p1, ok := clipSegmentToBox(a, b, x0, y0, x1, y1)
		if !ok {
			if len(current) > 1 {
				result = append(result, current)
			}
			current = nil
			continue
		}
		if len(current) > 0 && current[len(current)-1] == p0 {
			current = append(current, p1)
		} else {
			if len(current) > 1 {
				result = append(result, current)
			}
			current = []orb.Point{p0, p1}
		}
	}
	if len(current) > 1 {
		result = append(result, current)
	}
	return result
}

// clipSegmentToBox is the Liang-Barsky parametric line-clipping algorithm.
func clipSegmentToBox(a, b orb.Point, x0, y0, x1, y1 float64) (orb.Point, orb.Point, bool) {
	dx := b.X() - a.X()
	dy := b.Y() - a.Y()
	tmin, tmax := 0.0, 1.0

	p := [4]float64{-dx, dx, -dy, dy}
	q := [4]float64{a.X() - x0, x1 - a.X(), a.Y() - y0, y1 - a.Y()}

	for i := 0; i < 4; i++ {
		if p[i] == 0 {
			if q[i] < 0 {
				return orb.Point{}, orb.Point{}, false
			}
			continue
		}
		t := q[i] / p[i]
		if p[i] < 0 {
			if t > tmax {
				return orb.Point{}, orb.Point{}, false
			}
			if t > tmin {
				tmin = t
			}
		} else {
			if t < tmin {
				return orb.Point{}, orb.Point{}, false
			}
			if t < tmax {
				tmax = t
			}
		}
	}
	if tmin > tmax {
		return orb.Point{}, orb.Point{}, false
	}
	p0 := orb.Point{a.X() + tmin*dx, a.Y() + tmin*dy}
	p1 := orb.Point{a.X() + tmax*dx, a.Y() + tmax*dy}
	return p0, p1, true
}

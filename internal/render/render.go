package render

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/ridgeline-gis/tilecore/internal/geo"
	"github.com/ridgeline-gis/tilecore/internal/slicer"
)

// Renderer turns one Feature at a time into a stream of RenderedFeatures.
// It is stateless except for its own atomic, monotonic featureId counter,
// so a single Renderer may have Render called concurrently from many
// worker goroutines. The counter belongs to the Renderer value: ids are
// unique among one Renderer's output, and two Renderers each start from 1.
type Renderer struct {
	Config  Config
	Stats   Stats
	Encoder Encoder
	Logger  Logger
	Emit    Consumer

	nextFeatureID atomic.Int64
}

// New builds a Renderer from its external collaborators.
func New(cfg Config, stats Stats, enc Encoder, logger Logger, emit Consumer) *Renderer {
	return &Renderer{Config: cfg, Stats: stats, Encoder: enc, Logger: logger, Emit: emit}
}

// Render dispatches on the feature's geometry variant.
func (r *Renderer) Render(f Feature) error {
	g := f.Geometry()
	if isEmptyGeometry(g) {
		r.Stats.DataError("empty_geometry")
		r.Logger.Warnf("dropping feature %v: empty geometry", f.SourceID())
		return nil
	}

	switch geomT := g.(type) {
	case orb.Point:
		return r.renderPoints(f, []orb.Point{geomT}, false)
	case orb.MultiPoint:
		return r.renderPoints(f, []orb.Point(geomT), true)
	case orb.LineString:
		return r.renderLinear(f, []slicer.RingGroup{{[]orb.Point(geomT)}}, false, lineLength([]orb.Point(geomT)))
	case orb.MultiLineString:
		groups := make([]slicer.RingGroup, len(geomT))
		for i, ls := range geomT {
			groups[i] = slicer.RingGroup{[]orb.Point(ls)}
		}
		return r.renderLinear(f, groups, false, 0)
	case orb.Polygon:
		return r.renderLinear(f, []slicer.RingGroup{ringsOf(geomT)}, true, 0)
	case orb.MultiPolygon:
		groups := make([]slicer.RingGroup, len(geomT))
		for i, p := range geomT {
			groups[i] = ringsOf(p)
		}
		return r.renderLinear(f, groups, true, 0)
	case orb.Collection:
		for _, sub := range geomT {
			if err := r.Render(subFeature{Feature: f, geom: sub}); err != nil {
				return err
			}
		}
		return nil
	default:
		r.Stats.DataError("unrecognized_geometry_type")
		r.Logger.Warnf("dropping feature %v: unrecognized geometry type %T", f.SourceID(), geomT)
		return nil
	}
}

// renderPoints handles Point and MultiPoint features. A MultiPoint with an
// active label grid is decomposed into individually-grouped points; all
// other cases share one featureId, attribute set, and sort key.
func (r *Renderer) renderPoints(f Feature, points []orb.Point, isMulti bool) error {
	if isMulti && f.HasLabelGrid() {
		for _, p := range points {
			if err := r.renderPoints(f, []orb.Point{p}, false); err != nil {
				return err
			}
		}
		return nil
	}

	r.Stats.ProcessedElement("point", f.Layer())
	featureID := r.nextFeatureID.Add(1)

	for z := f.MaxZoom(); z >= f.MinZoom(); z-- {
		attrs := f.Attrs(z)
		buffer := f.BufferPixels(z) / 256
		tilesAtZoom := uint32(1) << uint(z)
		extents := r.Config.Bounds().TileExtents(uint8(z))

		scaled := make([]orb.Point, len(points))
		for i, p := range points {
			scaled[i] = orb.Point{p.X() * float64(tilesAtZoom), p.Y() * float64(tilesAtZoom)}
		}

		var group *Group
		if f.HasLabelGrid() && !isMulti {
			gridCellSize := f.GridPixelSize(z) / 256
			if gridCellSize >= 1.0/4096 {
				gid := geo.LabelGridID(tilesAtZoom, gridCellSize, scaled[0])
				group = &Group{GridID: gid, Limit: f.GridLimit(z)}
			}
		}

		tg := slicer.SlicePointsIntoTiles(extents, buffer, uint8(z), scaled, f.SourceID())

		var groupHash uint64
		if group != nil {
			groupHash = group.GridID
		}

		count := 0
		for tc, pts := range tg.Points {
			vf := &VectorFeature{
				Layer:      f.Layer(),
				FeatureID:  featureID,
				Geometry:   r.Encoder.EncodePoints(pts),
				Attributes: attrs,
				GroupHash:  groupHash,
			}
			r.Emit(RenderedFeature{Tile: tc, Vector: vf, SortKey: f.SortKey(), Group: group})
			count++
		}
		r.Stats.EmittedFeatures(z, f.Layer(), count)
	}
	return nil
}

// renderLinear handles Line/MultiLine/Polygon/MultiPolygon features.
func (r *Renderer) renderLinear(f Feature, groups []slicer.RingGroup, isArea bool, worldLength float64) error {
	kind := "line"
	if isArea {
		kind = "polygon"
	}
	r.Stats.ProcessedElement(kind, f.Layer())
	featureID := r.nextFeatureID.Add(1)
	cfgMaxZoom := r.Config.MaxZoom()

	for z := f.MaxZoom(); z >= f.MinZoom(); z-- {
		scale := float64(uint64(1) << uint(z))
		tolerance := f.PixelTolerance(z) / 256
		minSize := f.MinPixelSize(z) / 256
		if isArea {
			minSize *= minSize
		} else if worldLength > 0 && worldLength*scale < minSize {
			continue
		}

		scaled := scaleGroups(groups, scale)
		simplified := simplifyGroups(scaled, tolerance)
		filtered, numPoints := filterBySize(simplified, minSize, isArea)
		if len(filtered) == 0 {
			continue
		}

		extents := r.Config.Bounds().TileExtents(uint8(z))
		buffer := f.BufferPixels(z) / 256
		tg := slicer.Slice(filtered, buffer, isArea, uint8(z), extents, f.SourceID())

		attrs := f.Attrs(z)
		if np := f.NumPointsAttr(); np != "" {
			attrs = withAttr(attrs, np, numPoints)
		}

		count := 0
		for tc, ringGroups := range tg.Rings {
			vf, err := r.encodeTileFeature(f, featureID, attrs, ringGroups, isArea, z, cfgMaxZoom)
			if err != nil {
				r.Stats.DataError("write_tile_features")
				r.Logger.Errorf("skipping tile %v for feature %v: %v", tc, f.SourceID(), err)
				continue
			}
			r.Emit(RenderedFeature{Tile: tc, Vector: vf, SortKey: f.SortKey()})
			count++
		}

		if isArea && len(tg.FilledTiles) > 0 {
			fillVF := &VectorFeature{
				Layer:      f.Layer(),
				FeatureID:  featureID,
				Geometry:   r.Encoder.FillGeometry(),
				Attributes: attrs,
			}
			for tc := range tg.FilledTiles {
				r.Emit(RenderedFeature{Tile: tc, Vector: fillVF, SortKey: f.SortKey()})
				count++
			}
		}
		r.Stats.EmittedFeatures(z, f.Layer(), count)
	}
	return nil
}

// encodeTileFeature reassembles one tile's ring-groups into a polygon or
// line and encodes it, applying snap-and-fix and ring reorientation for
// polygons.
func (r *Renderer) encodeTileFeature(f Feature, featureID int64, attrs map[string]AttrValue, ringGroups []slicer.RingGroup, isArea bool, z, cfgMaxZoom int) (*VectorFeature, error) {
	if !isArea {
		scale := lineScale(z, cfgMaxZoom)
		return &VectorFeature{
			Layer:      f.Layer(),
			FeatureID:  featureID,
			Geometry:   r.Encoder.EncodeGeometry(ringGroups, scale, false),
			Attributes: attrs,
		}, nil
	}

	repaired := make([]slicer.RingGroup, 0, len(ringGroups))
	for _, rg := range ringGroups {
		poly := ringGroupToPolygon(rg)
		fixed, err := geo.SnapAndFixPolygon(poly, 1.0/4096, r.Stats, "write_tile_features")
		if err != nil {
			return nil, err
		}
		switch fp := fixed.(type) {
		case orb.Polygon:
			repaired = append(repaired, polygonToRingGroup(canonicalOrientation(fp)))
		case orb.MultiPolygon:
			// Repair can split a twisted ring into several lobes.
			for _, sub := range fp {
				repaired = append(repaired, polygonToRingGroup(canonicalOrientation(sub)))
			}
		default:
			return nil, fmt.Errorf("unexpected geometry after repair: %T", fixed)
		}
	}
	return &VectorFeature{
		Layer:      f.Layer(),
		FeatureID:  featureID,
		Geometry:   r.Encoder.EncodeGeometry(repaired, 0, true),
		Attributes: attrs,
	}, nil
}

// lineScale preserves sub-pixel precision for a downstream line-merge pass
// by scaling with zoom headroom instead of flattening to 0.
func lineScale(z, cfgMaxZoom int) int {
	m := cfgMaxZoom
	if m < 14 {
		m = 14
	}
	s := m - z
	if s > 31-14 {
		s = 31 - 14
	}
	if s < 0 {
		s = 0
	}
	return s
}

// canonicalOrientation forces outer rings to wind CCW (positive signed
// area) and inner rings CW (negative), independent of their input winding.
func canonicalOrientation(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, ring := range p {
		wantPositive := i == 0
		area := geo.SignedArea(ring)
		if (area > 0) != wantPositive {
			out[i] = reverseRing(ring)
		} else {
			out[i] = ring
		}
	}
	return out
}

func reverseRing(ring orb.Ring) orb.Ring {
	out := make(orb.Ring, len(ring))
	for i, p := range ring {
		out[len(ring)-1-i] = p
	}
	return out
}

func ringsOf(p orb.Polygon) slicer.RingGroup {
	rg := make(slicer.RingGroup, len(p))
	for i, ring := range p {
		rg[i] = []orb.Point(ring)
	}
	return rg
}

func ringGroupToPolygon(rg slicer.RingGroup) orb.Polygon {
	poly := make(orb.Polygon, len(rg))
	for i, seq := range rg {
		poly[i] = orb.Ring(closeRing(seq))
	}
	return poly
}

func polygonToRingGroup(p orb.Polygon) slicer.RingGroup {
	rg := make(slicer.RingGroup, len(p))
	for i, r := range p {
		rg[i] = []orb.Point(r)
	}
	return rg
}

func closeRing(seq []orb.Point) []orb.Point {
	n := len(seq)
	if n == 0 || seq[0] == seq[n-1] {
		return seq
	}
	out := make([]orb.Point, n+1)
	copy(out, seq)
	out[n] = seq[0]
	return out
}

func scaleGroups(groups []slicer.RingGroup, scale float64) []slicer.RingGroup {
	out := make([]slicer.RingGroup, len(groups))
	for i, g := range groups {
		ng := make(slicer.RingGroup, len(g))
		for j, seq := range g {
			s := make([]orb.Point, len(seq))
			for k, p := range seq {
				s[k] = orb.Point{p.X() * scale, p.Y() * scale}
			}
			ng[j] = s
		}
		out[i] = ng
	}
	return out
}

func simplifyGroups(groups []slicer.RingGroup, tolerance float64) []slicer.RingGroup {
	if tolerance <= 0 {
		return groups
	}
	simplifier := simplify.DouglasPeucker(tolerance)
	out := make([]slicer.RingGroup, len(groups))
	for i, g := range groups {
		ng := make(slicer.RingGroup, len(g))
		for j, seq := range g {
			if len(seq) < 3 {
				ng[j] = seq
				continue
			}
			result := simplifier.Simplify(orb.LineString(seq))
			if ls, ok := result.(orb.LineString); ok {
				ng[j] = []orb.Point(ls)
			} else {
				ng[j] = seq
			}
		}
		out[i] = ng
	}
	return out
}

// filterBySize drops groups that render smaller than minSize (a squared
// area threshold for polygons, a length threshold for lines), and returns
// the total point count across surviving groups for numPointsAttr.
func filterBySize(groups []slicer.RingGroup, minSize float64, isArea bool) ([]slicer.RingGroup, int) {
	out := make([]slicer.RingGroup, 0, len(groups))
	numPoints := 0
	for _, g := range groups {
		if len(g) == 0 || len(g[0]) == 0 {
			continue
		}
		if isArea {
			area := math.Abs(geo.SignedArea(orb.Ring(g[0])))
			if area < minSize {
				continue
			}
		} else if lineLength(g[0]) < minSize {
			continue
		}
		for _, seq := range g {
			numPoints += len(seq)
		}
		out = append(out, g)
	}
	return out, numPoints
}

func lineLength(seq []orb.Point) float64 {
	total := 0.0
	for i := 1; i < len(seq); i++ {
		dx := seq[i].X() - seq[i-1].X()
		dy := seq[i].Y() - seq[i-1].Y()
		total += math.Hypot(dx, dy)
	}
	return total
}

func withAttr(attrs map[string]AttrValue, key string, value AttrValue) map[string]AttrValue {
	out := make(map[string]AttrValue, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out[key] = value
	return out
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Ring:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	default:
		return false
	}
}

// subFeature overrides Geometry() so GeometryCollection members can be
// rendered through the same Feature contract as their parent.
type subFeature struct {
	Feature
	geom orb.Geometry
}

func (s subFeature) Geometry() orb.Geometry { return s.geom }

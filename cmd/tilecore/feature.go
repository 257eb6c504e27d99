package main

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/ridgeline-gis/tilecore/internal/geo"
	"github.com/ridgeline-gis/tilecore/internal/nodestore"
	"github.com/ridgeline-gis/tilecore/internal/render"
)

// geojsonFeature adapts one GeoJSON feature, already projected to world
// coordinates, to the renderer's Feature contract. Every per-zoom knob is
// constant in this CLI.
type geojsonFeature struct {
	geom     orb.Geometry
	layer    string
	sortKey  int64
	minZoom  int
	maxZoom  int
	cfg      LayerConfig
	props    geojson.Properties
	sourceID interface{}
}

func (f geojsonFeature) Geometry() orb.Geometry { return f.geom }
func (f geojsonFeature) Layer() string          { return f.layer }
func (f geojsonFeature) SortKey() int64         { return f.sortKey }
func (f geojsonFeature) MinZoom() int           { return f.minZoom }
func (f geojsonFeature) MaxZoom() int           { return f.maxZoom }

func (f geojsonFeature) Attrs(z int) map[string]render.AttrValue {
	out := make(map[string]render.AttrValue, len(f.props))
	for k, v := range f.props {
		if k == "minzoom" || k == "maxzoom" || k == f.cfg.SortKeyField {
			continue
		}
		out[k] = v
	}
	return out
}

func (f geojsonFeature) BufferPixels(z int) float64   { return f.cfg.BufferPixels }
func (f geojsonFeature) PixelTolerance(z int) float64 { return f.cfg.PixelTolerance }
func (f geojsonFeature) MinPixelSize(z int) float64   { return f.cfg.MinPixelSize }

func (f geojsonFeature) HasLabelGrid() bool { return f.cfg.LabelGrid != nil }
func (f geojsonFeature) GridPixelSize(z int) float64 {
	if f.cfg.LabelGrid == nil {
		return 0
	}
	return f.cfg.LabelGrid.GridPixelSize
}
func (f geojsonFeature) GridLimit(z int) int {
	if f.cfg.LabelGrid == nil {
		return 0
	}
	return f.cfg.LabelGrid.GridLimit
}

func (f geojsonFeature) NumPointsAttr() string  { return f.cfg.NumPointsAttr }
func (f geojsonFeature) SourceID() interface{}  { return f.sourceID }

// buildFeatures projects every feature in fc into world coordinates and
// adapts it to render.Feature, reassembling any "way" feature (a
// LineString/Polygon whose "nodeRefs" property lists node ids instead of
// carrying its own coordinates) by looking those ids up in nodes.
func buildFeatures(fc *geojson.FeatureCollection, cfg *RenderConfig, transform geo.Transform, nodes *nodestore.Table) ([]render.Feature, error) {
	out := make([]render.Feature, 0, len(fc.Features))
	for i, raw := range fc.Features {
		geom := raw.Geometry
		if refs, ok := raw.Properties["nodeRefs"]; ok {
			resolved, err := resolveWay(refs, nodes)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			geom = resolved
		}
		if geom == nil {
			continue
		}
		projected := geo.ProjectToWorld(transform, geom)

		minZoom, maxZoom := cfg.MinZoom, cfg.MaxZoom
		if v, ok := raw.Properties["minzoom"]; ok {
			minZoom = asInt(v, minZoom)
		}
		if v, ok := raw.Properties["maxzoom"]; ok {
			maxZoom = asInt(v, maxZoom)
		}

		var sortKey int64
		if cfg.Layer.SortKeyField != "" {
			if v, ok := raw.Properties[cfg.Layer.SortKeyField]; ok {
				sortKey = int64(asInt(v, 0))
			}
		}

		sourceID := raw.ID
		if sourceID == nil {
			sourceID = i
		}

		out = append(out, geojsonFeature{
			geom:     projected,
			layer:    cfg.Layer.Name,
			sortKey:  sortKey,
			minZoom:  minZoom,
			maxZoom:  maxZoom,
			cfg:      cfg.Layer,
			props:    raw.Properties,
			sourceID: sourceID,
		})
	}
	return out, nil
}

// resolveWay reassembles a LineString from a list of node ids looked up in
// the mmap table, decoding each node's flat-packed world coordinate.
func resolveWay(refs interface{}, nodes *nodestore.Table) (orb.Geometry, error) {
	if nodes == nil {
		return nil, fmt.Errorf("nodeRefs present but no node table was built")
	}
	ids, ok := refs.([]interface{})
	if !ok {
		return nil, fmt.Errorf("nodeRefs must be an array")
	}
	ls := make(orb.LineString, 0, len(ids))
	for _, raw := range ids {
		id := uint64(asInt(raw, 0))
		packed, err := nodes.Get(id)
		if err != nil {
			return nil, fmt.Errorf("looking up node %d: %w", id, err)
		}
		if packed == nodestore.Missing {
			return nil, fmt.Errorf("node %d not found", id)
		}
		ls = append(ls, orb.Point{geo.DecodeWorldX(packed), geo.DecodeWorldY(packed)})
	}
	return ls, nil
}

// buildNodeTable populates an mmap table from every point feature tagged
// "kind":"node" in fc, writing them in key order through a single writer.
// It does not seal the table: the first Get during way reassembly does.
func buildNodeTable(fc *geojson.FeatureCollection, transform geo.Transform, dataDir string) (*nodestore.Table, error) {
	table, err := nodestore.New(dataDir)
	if err != nil {
		return nil, err
	}

	var ordered []nodeSeed
	for _, raw := range fc.Features {
		if raw.Properties["kind"] != "node" {
			continue
		}
		idVal, ok := raw.Properties["id"]
		if !ok {
			continue
		}
		pt, ok := raw.Geometry.(orb.Point)
		if !ok {
			continue
		}
		ordered = append(ordered, nodeSeed{id: uint64(asInt(idVal, 0)), pt: pt})
	}

	// A single writer suffices for a CLI run, but nodes are issued in the
	// non-decreasing key order the table requires of every writer, whether
	// there are one or many.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })
	w := table.NewWriter()
	for _, n := range ordered {
		world := transform.ToWorld(n.pt)
		value := geo.EncodeFlatLocation(world.X(), world.Y())
		if value == nodestore.Missing {
			value = 1 // never store the reserved sentinel
		}
		if err := w.Put(n.id, value); err != nil {
			return nil, fmt.Errorf("writing node %d: %w", n.id, err)
		}
	}
	return table, nil
}

// nodeSeed is one point feature's node id and coordinate, read from the
// input GeoJSON before it is written into the mmap table.
type nodeSeed struct {
	id uint64
	pt orb.Point
}

func asInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

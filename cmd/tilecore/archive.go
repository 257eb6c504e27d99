package main

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"

	"github.com/ridgeline-gis/tilecore/internal/pmtiles"
	"github.com/ridgeline-gis/tilecore/internal/render"
)

// tileAccumulator is the render.Consumer this CLI wires in: it groups every
// RenderedFeature by tile and layer so archive assembly can encode one MVT
// blob per tile, mirroring gotiler.go's generateZoomLevel/createMVT split
// (group features by tile, then encode) but fed incrementally instead of
// from a single in-memory FeatureCollection.
type tileAccumulator struct {
	mu    sync.Mutex
	tiles map[render.TileCoord]map[string]*geojson.FeatureCollection
}

func newTileAccumulator() *tileAccumulator {
	return &tileAccumulator{tiles: make(map[render.TileCoord]map[string]*geojson.FeatureCollection)}
}

// Consume implements render.Consumer. The renderer may call it concurrently
// from many worker goroutines, so every access to the shared map is
// serialized behind the accumulator's mutex.
func (a *tileAccumulator) Consume(rf render.RenderedFeature) {
	geom, ok := rf.Vector.Geometry.(orb.Geometry)
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	layers, ok := a.tiles[rf.Tile]
	if !ok {
		layers = make(map[string]*geojson.FeatureCollection)
		a.tiles[rf.Tile] = layers
	}
	fc, ok := layers[rf.Vector.Layer]
	if !ok {
		fc = geojson.NewFeatureCollection()
		layers[rf.Vector.Layer] = fc
	}

	feature := geojson.NewFeature(geom)
	feature.ID = rf.Vector.FeatureID
	for k, v := range rf.Vector.Attributes {
		feature.Properties[k] = v
	}
	fc.Append(feature)
}

// WritePMTiles encodes every accumulated tile to gzipped MVT and assembles
// a PMTiles v3 archive at path. It uses a single root directory (no leaf
// directories): fine for the tile counts a CLI demo run produces, whereas
// the donor's protomaps/go-pmtiles origin supports leaf directories for
// planet-scale archives, which is out of scope here.
func (a *tileAccumulator) WritePMTiles(path string, minZoom, maxZoom uint8, bounds LatLonBound) error {
	type tileEntry struct {
		id   uint64
		data []byte
	}

	entries := make([]tileEntry, 0, len(a.tiles))
	for tc, layers := range a.tiles {
		mvtLayers := make(mvt.Layers, 0, len(layers))
		names := make([]string, 0, len(layers))
		for name := range layers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			layer := mvt.NewLayer(name, layers[name])
			layer.Version = 2
			layer.Extent = mvtExtent
			mvtLayers = append(mvtLayers, layer)
		}
		data, err := mvt.MarshalGzipped(mvtLayers)
		if err != nil {
			return fmt.Errorf("encoding tile %v: %w", tc, err)
		}
		entries = append(entries, tileEntry{id: pmtiles.ZxyToID(tc.Z, tc.X, tc.Y), data: data})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	dirEntries := make([]pmtiles.EntryV3, 0, len(entries))
	var tileData []byte
	for _, e := range entries {
		dirEntries = append(dirEntries, pmtiles.EntryV3{
			TileID:    e.id,
			Offset:    uint64(len(tileData)),
			Length:    uint32(len(e.data)),
			RunLength: 1,
		})
		tileData = append(tileData, e.data...)
	}

	dirBytes := pmtiles.SerializeEntries(dirEntries, pmtiles.Gzip)
	metaBytes, err := pmtiles.SerializeMetadata(map[string]interface{}{
		"layers": archiveLayerNames(a.tiles),
	}, pmtiles.Gzip)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	header := pmtiles.HeaderV3{
		SpecVersion:         3,
		RootOffset:          pmtiles.HeaderV3LenBytes,
		RootLength:          uint64(len(dirBytes)),
		MetadataOffset:      pmtiles.HeaderV3LenBytes + uint64(len(dirBytes)),
		MetadataLength:      uint64(len(metaBytes)),
		TileDataOffset:      pmtiles.HeaderV3LenBytes + uint64(len(dirBytes)) + uint64(len(metaBytes)),
		TileDataLength:      uint64(len(tileData)),
		AddressedTilesCount: uint64(len(entries)),
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   uint64(len(entries)),
		Clustered:           true,
		InternalCompression: pmtiles.Gzip,
		TileCompression:     pmtiles.Gzip,
		TileType:            pmtiles.Mvt,
		MinZoom:             minZoom,
		MaxZoom:             maxZoom,
		MinLonE7:            int32(bounds.West * 1e7),
		MinLatE7:            int32(bounds.South * 1e7),
		MaxLonE7:            int32(bounds.East * 1e7),
		MaxLatE7:            int32(bounds.North * 1e7),
		CenterZoom:          minZoom,
		CenterLonE7:         int32((bounds.West + bounds.East) / 2 * 1e7),
		CenterLatE7:         int32((bounds.South + bounds.North) / 2 * 1e7),
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	for _, chunk := range [][]byte{pmtiles.SerializeHeader(header), dirBytes, metaBytes, tileData} {
		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("writing archive: %w", err)
		}
	}
	return nil
}

func archiveLayerNames(tiles map[render.TileCoord]map[string]*geojson.FeatureCollection) []string {
	seen := make(map[string]struct{})
	for _, layers := range tiles {
		for name := range layers {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

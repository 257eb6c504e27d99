package main

import (
	"fmt"
	"math"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"gopkg.in/yaml.v3"

	"github.com/ridgeline-gis/tilecore/internal/geo"
	"github.com/ridgeline-gis/tilecore/internal/render"
)

// LabelGridConfig mirrors a Feature's optional label-grid knobs.
type LabelGridConfig struct {
	GridPixelSize float64 `yaml:"gridPixelSize"`
	GridLimit     int     `yaml:"gridLimit"`
}

// LayerConfig carries the per-zoom knobs the Feature contract requires:
// buffer/tolerance/minPixelSize, plus the optional label grid and
// numPointsAttr name. All of them are constant across zoom in this CLI;
// a production caller would close over zoom instead.
type LayerConfig struct {
	Name           string           `yaml:"name"`
	SortKeyField   string           `yaml:"sortKeyField"`
	NumPointsAttr  string           `yaml:"numPointsAttr"`
	BufferPixels   float64          `yaml:"bufferPixels"`
	PixelTolerance float64          `yaml:"pixelTolerance"`
	MinPixelSize   float64          `yaml:"minPixelSize"`
	LabelGrid      *LabelGridConfig `yaml:"labelGrid"`
}

// RenderConfig is the YAML-loadable render.Config implementation: the
// geographic bounds, the zoom range, and the layer knobs for every feature
// read from the input GeoJSON.
type RenderConfig struct {
	MinZoom int         `yaml:"minZoom"`
	MaxZoom int         `yaml:"maxZoom"`
	Bounds  LatLonBound `yaml:"bounds"`
	Layer   LayerConfig `yaml:"layer"`
}

// LatLonBound is a WGS84 bounding box in degrees.
type LatLonBound struct {
	West  float64 `yaml:"west"`
	South float64 `yaml:"south"`
	East  float64 `yaml:"east"`
	North float64 `yaml:"north"`
}

// LoadRenderConfig reads and validates a RenderConfig from a YAML file.
func LoadRenderConfig(path string) (*RenderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading render config: %w", err)
	}
	var cfg RenderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing render config: %w", err)
	}
	if cfg.Layer.Name == "" {
		cfg.Layer.Name = "default"
	}
	if cfg.MaxZoom < cfg.MinZoom {
		return nil, fmt.Errorf("render config: maxZoom %d below minZoom %d", cfg.MaxZoom, cfg.MinZoom)
	}
	if cfg.MaxZoom > geo.MaxMaxZoom {
		return nil, fmt.Errorf("render config: maxZoom %d exceeds %d", cfg.MaxZoom, geo.MaxMaxZoom)
	}
	return &cfg, nil
}

// webMercatorTransform maps WGS84 lon/lat degrees to the renderer's
// normalized [0,1]² world space (and back), the way every slippy-map
// pyramid addresses zoom 0. The source project's own transform is
// EPSG:3031 <-> WGS84; this CLI demo picks the pair any web map viewer
// expects instead, since it has no polar-stereographic source data.
func webMercatorTransform() geo.Transform {
	return geo.Transform{
		ToWorld: func(p orb.Point) orb.Point {
			lon, lat := p.X(), p.Y()
			x := (lon + 180) / 360
			lat = clampLat(lat)
			sinLat := math.Sin(lat * math.Pi / 180)
			y := 0.5 - math.Log((1+sinLat)/(1-sinLat))/(4*math.Pi)
			return orb.Point{x, y}
		},
		FromWorld: func(p orb.Point) orb.Point {
			lon := p.X()*360 - 180
			n := math.Pi - 2*math.Pi*p.Y()
			lat := 180 / math.Pi * math.Atan(0.5*(math.Exp(n)-math.Exp(-n)))
			return orb.Point{lon, lat}
		},
	}
}

// clampLat keeps latitude within Web Mercator's valid range so the log
// projection never sees sin(lat) == ±1.
func clampLat(lat float64) float64 {
	const limit = 85.05112878
	if lat > limit {
		return limit
	}
	if lat < -limit {
		return -limit
	}
	return lat
}

// boundsConfig adapts a RenderConfig's geographic bounds into the
// render.Config / render.Bounds external interfaces: tile extents for
// a zoom level, and the configured max zoom. The core's own TileCoord
// stays independent of maptile.Tile (its extent containment is against an
// arbitrary TileExtents, not a full pyramid), so the conversion happens
// once here at the CLI boundary rather than inside the core.
type boundsConfig struct {
	cfg *RenderConfig
}

func newBoundsConfig(cfg *RenderConfig, _ geo.Transform) *boundsConfig {
	return &boundsConfig{cfg: cfg}
}

func (b *boundsConfig) Bounds() render.Bounds { return b }
func (b *boundsConfig) MaxZoom() int          { return b.cfg.MaxZoom }

// TileExtents follows gotiler.go's tilesInBounds: resolve the two corner
// tiles at this zoom via maptile.At and return the rectangle between them.
func (b *boundsConfig) TileExtents(z uint8) render.TileExtents {
	bounds := b.cfg.Bounds
	minTile := maptile.At(orb.Point{bounds.West, bounds.North}, maptile.Zoom(z))
	maxTile := maptile.At(orb.Point{bounds.East, bounds.South}, maptile.Zoom(z))

	minX, maxX := minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	// maptile.At maps lon 180 to x == 2^z, one past the last tile.
	last := uint32(1)<<z - 1
	if maxX > last {
		maxX = last
	}
	if maxY > last {
		maxY = last
	}
	return render.TileExtents{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

package main

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"

	"github.com/ridgeline-gis/tilecore/internal/render"
	"github.com/ridgeline-gis/tilecore/internal/stats"
)

func newRenderCmd() *cobra.Command {
	var (
		inputPath  string
		configPath string
		outputPath string
		statsDB    string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a GeoJSON FeatureCollection into a PMTiles archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(inputPath, configPath, outputPath, statsDB, dataDir)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "input GeoJSON FeatureCollection path (required)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "render config YAML path (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "out.pmtiles", "output PMTiles archive path")
	cmd.Flags().StringVar(&statsDB, "stats-db", "", "optional DuckDB database name to record render stats into")
	cmd.Flags().StringVar(&dataDir, "data-dir", ".data", "scratch directory for the node coordinate table")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runRender(inputPath, configPath, outputPath, statsDB, dataDir string) error {
	cfg, err := LoadRenderConfig(configPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return fmt.Errorf("parsing geojson: %w", err)
	}

	transform := webMercatorTransform()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	nodes, err := buildNodeTable(fc, transform, dataDir)
	if err != nil {
		return fmt.Errorf("building node table: %w", err)
	}
	defer nodes.Close()

	features, err := buildFeatures(fc, cfg, transform, nodes)
	if err != nil {
		return fmt.Errorf("adapting features: %w", err)
	}

	var sink render.Stats = stats.NoopSink{}
	if statsDB != "" {
		db, err := stats.OpenDuckDBSink(dataDir, statsDB)
		if err != nil {
			return fmt.Errorf("opening stats sink: %w", err)
		}
		defer db.Close()
		sink = db
	}

	acc := newTileAccumulator()
	renderer := render.New(newBoundsConfig(cfg, transform), sink, tileEncoder{}, stdLogger{}, acc.Consume)

	if err := renderAll(renderer, features); err != nil {
		return err
	}

	if err := acc.WritePMTiles(outputPath, uint8(cfg.MinZoom), uint8(cfg.MaxZoom), cfg.Bounds); err != nil {
		return fmt.Errorf("writing pmtiles archive: %w", err)
	}

	fmt.Printf("rendered %d features into %s\n", len(features), outputPath)
	return nil
}

// renderAll fans Render calls for independent source features out across a
// small worker pool. The renderer is stateless except for its atomic
// featureId counter, so many goroutines may call Render in parallel as long
// as the Consumer (here, tileAccumulator, which serializes internally) is
// itself safe for that.
func renderAll(renderer *render.Renderer, features []render.Feature) error {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(features) {
		workers = len(features)
	}
	if workers == 0 {
		return nil
	}

	jobs := make(chan render.Feature)
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				if err := renderer.Render(f); err != nil {
					select {
					case errs <- err:
					default:
					}
				}
			}
		}()
	}

	for _, f := range features {
		jobs <- f
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

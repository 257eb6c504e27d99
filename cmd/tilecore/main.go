// Command tilecore is a thin CLI around the tilecore rendering core:
// it renders GeoJSON input into a PMTiles archive and serves the stats
// counters a render run leaves behind.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:     "tilecore",
		Short:   "Render vector tiles from GeoJSON using the tilecore rendering core",
		Version: "0.1.0",
	}

	root.AddCommand(newRenderCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

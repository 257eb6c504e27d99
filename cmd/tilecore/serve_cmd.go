package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/spf13/cobra"

	"github.com/ridgeline-gis/tilecore/internal/stats"
)

func scanCountRows(rows *sql.Rows) ([]countRow, error) {
	defer rows.Close()
	var out []countRow
	for rows.Next() {
		var r countRow
		if err := rows.Scan(&r.Key, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// statsAPI holds the dependency the stats/health handlers read from: the
// DuckDB sink a prior `render --stats-db` run populated, opened read-write
// here too since go-duckdb has no read-only open mode the donor's db.go
// pattern relies on.
type statsAPI struct {
	db *stats.DuckDBSink
}

func newServeCmd() *cobra.Command {
	var (
		host    string
		port    int
		statsDB string
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve render-run statistics and a health check over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, statsDB, dataDir)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "host to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8087, "port to listen on")
	cmd.Flags().StringVar(&statsDB, "stats-db", "render", "DuckDB database name written by a prior render run")
	cmd.Flags().StringVar(&dataDir, "data-dir", ".data", "directory holding the stats DuckDB file")

	return cmd
}

func runServe(host string, port int, statsDB, dataDir string) error {
	db, err := stats.OpenDuckDBSink(dataDir, statsDB)
	if err != nil {
		return fmt.Errorf("opening stats sink: %w", err)
	}
	defer db.Close()

	mux := http.NewServeMux()
	humaConfig := huma.DefaultConfig("tilecore introspection API", "1.0.0")
	humaConfig.Info.Description = "Operational introspection over a tilecore render run's stats counters."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%d", host, port), Description: "Local server"},
	}
	api := humago.New(mux, humaConfig)

	h := &statsAPI{db: db}
	huma.Get(api, "/api/v1/health", h.getHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/stats", h.getStats, huma.OperationTags("stats"))

	addr := fmt.Sprintf("%s:%d", host, port)
	fmt.Printf("tilecore serve listening on http://%s\n", addr)
	return http.ListenAndServe(addr, mux)
}

type healthBody struct {
	Status string `json:"status" doc:"always \"ok\" once the process is accepting connections"`
}

func (h *statsAPI) getHealth(ctx context.Context, input *struct{}) (*struct{ Body healthBody }, error) {
	return &struct{ Body healthBody }{Body: healthBody{Status: "ok"}}, nil
}

type countRow struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

type statsBody struct {
	ProcessedElements []countRow `json:"processedElements"`
	EmittedFeatures   []countRow `json:"emittedFeatures"`
	DataErrors        []countRow `json:"dataErrors"`
}

func (h *statsAPI) getStats(ctx context.Context, input *struct{}) (*struct{ Body statsBody }, error) {
	body := statsBody{}

	rows, err := h.db.Query(`SELECT kind || '/' || layer, count FROM processed_elements`)
	if err != nil {
		return nil, huma.Error500InternalServerError("querying processed_elements", err)
	}
	body.ProcessedElements, err = scanCountRows(rows)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading processed_elements", err)
	}

	rows, err = h.db.Query(`SELECT CAST(zoom AS VARCHAR) || '/' || layer, count FROM emitted_features`)
	if err != nil {
		return nil, huma.Error500InternalServerError("querying emitted_features", err)
	}
	body.EmittedFeatures, err = scanCountRows(rows)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading emitted_features", err)
	}

	rows, err = h.db.Query(`SELECT tag, count FROM data_errors`)
	if err != nil {
		return nil, huma.Error500InternalServerError("querying data_errors", err)
	}
	body.DataErrors, err = scanCountRows(rows)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading data_errors", err)
	}

	return &struct{ Body statsBody }{Body: body}, nil
}

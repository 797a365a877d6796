package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// searchTextCap bounds the denormalized text stored per point.
const searchTextCap = 500

// RebuildStats summarizes one rebuild run.
type RebuildStats struct {
	Tables  map[string]int `json:"tables"`
	Total   int            `json:"total"`
	Skipped []string       `json:"skipped,omitempty"`
}

// Rebuilder re-derives the whole reference index from catalog rows.
type Rebuilder struct {
	client *Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewRebuilder creates a rebuilder over the given index client and catalog
// handle.
func NewRebuilder(client *Client, db *sqlx.DB, logger *slog.Logger) *Rebuilder {
	return &Rebuilder{client: client, db: db, logger: logger}
}

// curatedTables maps known catalog tables to their search-text builders. Rows
// of tables outside this map are auto-indexed from whatever text columns they
// expose.
var curatedTables = map[string]func(row map[string]any) (text, display string){
	// LoRA adapters have no table of their own; the trigger on the character
	// row is what makes them searchable.
	"characters": func(row map[string]any) (string, string) {
		name := str(row["name"])
		parts := []string{name, str(row["design_prompt"]), str(row["personality"]),
			str(row["background"]), str(row["role"]), str(row["lora_trigger"])}
		return joinNonEmpty(parts), name
	},
	"scenes": func(row map[string]any) (string, string) {
		title := str(row["title"])
		parts := []string{title, str(row["description"]), str(row["location"]),
			str(row["mood"]), str(row["narrative_text"])}
		return joinNonEmpty(parts), title
	},
	"generation_styles": func(row map[string]any) (string, string) {
		name := str(row["name"])
		parts := []string{name, str(row["positive_prompt"]), str(row["checkpoint"])}
		return joinNonEmpty(parts), name
	},
	"episodes": func(row map[string]any) (string, string) {
		title := str(row["title"])
		return joinNonEmpty([]string{title, str(row["description"])}), title
	},
}

// typeForTable maps a source table to the payload type used for filtering.
var typeForTable = map[string]string{
	"characters":        "character",
	"scenes":            "scene",
	"generation_styles": "style",
	"episodes":          "episode",
}

// Rebuild drops and re-creates the collection, then indexes every row of
// every indexable table. With incremental=true the collection is kept and
// points are upserted in place.
func (r *Rebuilder) Rebuild(ctx context.Context, incremental bool) (*RebuildStats, error) {
	if !incremental {
		if err := r.client.DropCollection(ctx); err != nil {
			r.logger.Warn("Failed to drop index collection, continuing", "error", err)
		}
		if err := r.client.CreateCollection(ctx, VectorDim); err != nil {
			return nil, fmt.Errorf("failed to create index collection: %w", err)
		}
	}

	stats := &RebuildStats{Tables: map[string]int{}}
	for _, table := range r.indexableTables(ctx) {
		n, err := r.indexTable(ctx, table)
		if err != nil {
			r.logger.Warn("Failed to index table", "table", table, "error", err)
			stats.Skipped = append(stats.Skipped, table)
			continue
		}
		stats.Tables[table] = n
		stats.Total += n
	}

	r.logger.Info("Reference index rebuilt", "total", stats.Total, "incremental", incremental)
	return stats, nil
}

// indexableTables returns curated tables plus any other public table with at
// least one text column and an id column.
func (r *Rebuilder) indexableTables(ctx context.Context) []string {
	tables := []string{"characters", "scenes", "generation_styles", "episodes"}
	seen := map[string]bool{}
	for _, t := range tables {
		seen[t] = true
	}

	var discovered []string
	err := r.db.SelectContext(ctx, &discovered, `
		SELECT DISTINCT c.table_name
		FROM information_schema.columns c
		WHERE c.table_schema = 'public'
		  AND c.data_type IN ('text', 'character varying')
		  AND EXISTS (
			SELECT 1 FROM information_schema.columns idc
			WHERE idc.table_schema = 'public'
			  AND idc.table_name = c.table_name AND idc.column_name = 'id')
		ORDER BY c.table_name`)
	if err != nil {
		r.logger.Warn("Table discovery failed, indexing curated tables only", "error", err)
		return tables
	}
	for _, t := range discovered {
		if !seen[t] && t != "jobs" && t != "schema_migrations" {
			tables = append(tables, t)
		}
	}
	return tables
}

func (r *Rebuilder) indexTable(ctx context.Context, table string) (int, error) {
	rows, err := r.db.QueryxContext(ctx, fmt.Sprintf(`SELECT * FROM %q`, table))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	pointType := typeForTable[table]
	if pointType == "" {
		pointType = strings.TrimSuffix(table, "s")
	}

	var points []Point
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return 0, err
		}
		rowID := str(row["id"])
		if rowID == "" {
			continue
		}

		var text, display string
		if build, ok := curatedTables[table]; ok {
			text, display = build(row)
		} else {
			text = autoSearchText(row)
		}
		if text == "" {
			continue
		}
		if len(text) > searchTextCap {
			text = text[:searchTextCap]
		}

		points = append(points, Point{
			ID:     PointID(table, rowID),
			Vector: r.client.embedder.Embed(text),
			Payload: Payload{
				Type:        pointType,
				SourceTable: table,
				SourceID:    rowID,
				SearchText:  text,
				IndexedAt:   now,
				DisplayName: display,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if err := r.client.Upsert(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// autoSearchText concatenates every string-valued column of an unknown table,
// skipping ids and path-like columns.
func autoSearchText(row map[string]any) string {
	var parts []string
	for col, val := range row {
		if strings.HasSuffix(col, "_id") || col == "id" || strings.Contains(col, "path") {
			continue
		}
		if s, ok := val.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return joinNonEmpty(parts)
}

func joinNonEmpty(parts []string) string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ". ")
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return fmt.Sprintf("%d", s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"quadrant/api/internal/quadrant"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries the ideas table with plainto_tsquery and ts_rank,
// using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, content, x, y,
			ts_headline('english', content || ' ' || details, plainto_tsquery('english', $1),
				'MaxFragments=1,MaxWords=30') AS snippet,
			COUNT(*) OVER () AS total
		FROM ideas
		WHERE project_id = $2 AND fts @@ plainto_tsquery('english', $1)
		ORDER BY ts_rank(fts, plainto_tsquery('english', $1)) DESC
		LIMIT $3`

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, query, q.Text, q.ProjectID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search: %w", err)
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		var x, y float64
		if err := rows.Scan(&r.ID, &r.Content, &x, &y, &r.Snippet, &total); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		_, _, category := quadrant.Classify(x, y)
		r.Category = string(category)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pg search rows: %w", err)
	}
	return results, total, nil
}

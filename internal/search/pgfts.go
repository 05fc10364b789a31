package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole service is down.
func (p *PgFTS) Healthy() bool {
	return true
}

const statusExpr = `CASE WHEN p.archived_at IS NOT NULL THEN 'archived' WHEN p.closure IS NOT NULL THEN 'closed' ELSE 'open' END`

// Search matches proposals with plainto_tsquery and ranks them with ts_rank.
// An empty text lists proposals by last update.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	rank := "0::real"
	snippet := "coalesce(p.closure->>'feedback', '')"
	order := "p.updated_at DESC, p.id"
	if text := strings.TrimSpace(q.Text); text != "" {
		tsQuery := "plainto_tsquery('english', " + arg(text) + ")"
		where = append(where, "p.fts @@ "+tsQuery)
		rank = "ts_rank(p.fts, " + tsQuery + ")"
		snippet = "ts_headline('english', p.title || ' ' || coalesce(p.closure->>'feedback', ''), " + tsQuery + ", 'MaxFragments=1,MaxWords=30')"
		order = "rank DESC, p.id"
	}
	if q.Level != "" {
		where = append(where, "p.level = "+arg(q.Level))
	}
	if q.Status != "" {
		where = append(where, statusExpr+" = "+arg(q.Status))
	}
	if q.Department != "" {
		where = append(where, "u.department = "+arg(q.Department))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	countSQL := fmt.Sprintf(`SELECT count(*) FROM proposals p JOIN users u ON u.id = p.author_id %s`, whereSQL)
	dataSQL := fmt.Sprintf(`
		SELECT p.id, p.title, %s AS snippet, p.level, %s AS status, p.score, u.department,
			coalesce(p.closure->>'reason', '') AS closure_reason, %s AS rank
		FROM proposals p
		JOIN users u ON u.id = p.author_id
		%s
		ORDER BY %s
		LIMIT %d OFFSET %d`, snippet, statusExpr, rank, whereSQL, order, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var score float64
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Level, &r.Status, &r.Score, &r.Department, &r.ClosureReason, &score); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every proposal as an index record for reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProposalRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.title, u.name, u.department, u.facility, p.level, p.score,
			`+statusExpr+`, coalesce(p.closure->>'reason', ''), coalesce(p.closure->>'feedback', ''),
			p.deadline, p.updated_at
		FROM proposals p
		JOIN users u ON u.id = p.author_id
	`)
	if err != nil {
		return nil, fmt.Errorf("load proposals: %w", err)
	}
	defer rows.Close()

	records := make([]ProposalRecord, 0)
	for rows.Next() {
		var r ProposalRecord
		var deadline sql.NullTime
		var updatedAt time.Time
		if err := rows.Scan(&r.ID, &r.Title, &r.AuthorName, &r.Department, &r.Facility, &r.Level, &r.Score,
			&r.Status, &r.ClosureReason, &r.Feedback, &deadline, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		if deadline.Valid {
			r.Deadline = deadline.Time.Unix()
		}
		r.UpdatedAt = updatedAt.Unix()
		r.LevelRank = levelRank(r.Level)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return records, nil
}

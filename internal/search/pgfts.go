package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across posts, circle_quotes, and
// circle_journal using plainto_tsquery and ts_rank, with ts_headline snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('french', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Posts sub-query
	if q.FilterType == "" || q.FilterType == ResultPost {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title,
				ts_headline('french', coalesce(p.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS circle_id, p.category,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			WHERE p.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Quotes sub-query
	if q.FilterType == "" || q.FilterType == ResultQuote {
		quoteWhere := "cq.fts @@ " + tsQuery
		if q.FilterCircleID != "" {
			quoteWhere += fmt.Sprintf(" AND cq.circle_id = $%d", argN)
			args = append(args, q.FilterCircleID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'quote'::text AS type, cq.id, c.name AS title,
				ts_headline('french', coalesce(cq.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				cq.circle_id, ''::text AS category,
				ts_rank(cq.fts, %s) AS rank
			FROM circle_quotes cq
			JOIN circles c ON c.id = cq.circle_id
			WHERE %s`, tsQuery, tsQuery, quoteWhere))
	}

	// Journal sub-query
	if q.FilterType == "" || q.FilterType == ResultJournal {
		journalWhere := "cj.fts @@ " + tsQuery
		if q.FilterCircleID != "" {
			journalWhere += fmt.Sprintf(" AND cj.circle_id = $%d", argN)
			args = append(args, q.FilterCircleID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'journal'::text AS type, cj.id, coalesce(cj.title, '') AS title,
				ts_headline('french', coalesce(cj.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				cj.circle_id, ''::text AS category,
				ts_rank(cj.fts, %s) AS rank
			FROM circle_journal cj
			WHERE %s`, tsQuery, tsQuery, journalWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, circle_id, category
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

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
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.CircleID, &r.Category); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []QuoteRecord, []JournalRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, left(content, 280), category, book_title || ' · ' || book_author
		FROM posts
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var rec PostRecord
		if err := postRows.Scan(&rec.ID, &rec.Title, &rec.Excerpt, &rec.Category, &rec.BookRef); err != nil {
			return nil, nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, rec)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	quoteRows, err := p.db.QueryContext(ctx, `
		SELECT cq.id, cq.content, coalesce(cr.book_title, ''), cq.circle_id
		FROM circle_quotes cq
		LEFT JOIN LATERAL (
			SELECT book_title FROM circle_readings
			WHERE circle_id = cq.circle_id
			ORDER BY created_at DESC LIMIT 1
		) cr ON TRUE
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load quotes: %w", err)
	}
	defer quoteRows.Close()

	quotes := make([]QuoteRecord, 0)
	for quoteRows.Next() {
		var rec QuoteRecord
		if err := quoteRows.Scan(&rec.ID, &rec.Text, &rec.BookRef, &rec.CircleID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan quote: %w", err)
		}
		quotes = append(quotes, rec)
	}
	if err := quoteRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate quotes: %w", err)
	}

	journalRows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(title, ''), content, circle_id
		FROM circle_journal
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load journal: %w", err)
	}
	defer journalRows.Close()

	entries := make([]JournalRecord, 0)
	for journalRows.Next() {
		var rec JournalRecord
		if err := journalRows.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.CircleID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, rec)
	}
	if err := journalRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate journal entries: %w", err)
	}

	return posts, quotes, entries, nil
}

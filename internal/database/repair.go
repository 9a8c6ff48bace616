package database

import (
	"context"
	"database/sql"
	"fmt"
)

const driftQuery = `
	SELECT a.id, a.slug, a.view_count, a.like_count,
		(SELECT COUNT(*) FROM view_events v WHERE v.article_id = a.id),
		(SELECT COUNT(*) FROM like_marks l WHERE l.article_id = a.id)
	FROM articles a
	ORDER BY a.id`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FindCounterDrift returns articles whose cached counters differ from the
// number of detail rows, along with the number of articles inspected.
func (db *DB) FindCounterDrift(ctx context.Context) ([]CounterDrift, int, error) {
	return findDrift(ctx, db.conn)
}

// RecountCounters overwrites every article's counters with the true counts
// of its view events and like marks. Drift found before the overwrite is
// returned. The whole pass runs in one write transaction, so concurrent
// recorders either commit before it (and are counted) or wait for it.
func (t *Tx) RecountCounters(ctx context.Context) ([]CounterDrift, int, error) {
	drift, checked, err := findDrift(ctx, t.tx)
	if err != nil {
		return nil, 0, err
	}
	if len(drift) == 0 {
		return nil, checked, nil
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE articles SET
			view_count = (SELECT COUNT(*) FROM view_events v WHERE v.article_id = articles.id),
			like_count = (SELECT COUNT(*) FROM like_marks l WHERE l.article_id = articles.id)`)
	if err != nil {
		return nil, 0, fmt.Errorf("recount counters: %w", err)
	}
	return drift, checked, nil
}

func findDrift(ctx context.Context, q querier) ([]CounterDrift, int, error) {
	rows, err := q.QueryContext(ctx, driftQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("scanning counters: %w", err)
	}
	defer rows.Close()

	var drift []CounterDrift
	checked := 0
	for rows.Next() {
		var d CounterDrift
		if err := rows.Scan(&d.ArticleID, &d.Slug, &d.ViewCount, &d.LikeCount,
			&d.ViewEvents, &d.LikeMarks); err != nil {
			return nil, 0, err
		}
		checked++
		if d.ViewCount != d.ViewEvents || d.LikeCount != d.LikeMarks {
			drift = append(drift, d)
		}
	}
	return drift, checked, rows.Err()
}

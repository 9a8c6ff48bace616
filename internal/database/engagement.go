package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Tx is a write transaction over the article counters and their detail rows.
// Because the connection begins transactions IMMEDIATE, a Tx holds the
// database write lock from its first statement until commit or rollback.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a write transaction. The transaction commits if fn
// returns nil and rolls back otherwise, including when ctx is cancelled
// before commit.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ArticleBySlug returns the article with the given slug, or nil.
func (t *Tx) ArticleBySlug(ctx context.Context, slug string) (*Article, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE slug = ?`, slug,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("article by slug: %w", err)
	}
	return a, nil
}

// LatestViewSince returns the time of the most recent view of the article
// from addr that is strictly after cutoff, or nil if there is none.
func (t *Tx) LatestViewSince(ctx context.Context, articleID int64, addr string, cutoff time.Time) (*time.Time, error) {
	var viewedAt string
	err := t.tx.QueryRowContext(ctx, `
		SELECT viewed_at FROM view_events
		WHERE article_id = ? AND source_address = ? AND viewed_at > ?
		ORDER BY viewed_at DESC
		LIMIT 1`,
		articleID, addr, formatTime(cutoff),
	).Scan(&viewedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest view: %w", err)
	}
	ts, err := parseTime(viewedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing viewed_at: %w", err)
	}
	return &ts, nil
}

// AppendViewEvent inserts a view event and returns its ID.
func (t *Tx) AppendViewEvent(ctx context.Context, ev ViewEvent) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO view_events (article_id, source_address, user_agent, referrer, viewed_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ArticleID, ev.SourceAddress, ev.UserAgent, ev.Referrer, formatTime(ev.ViewedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("append view event: %w", err)
	}
	return result.LastInsertId()
}

// AddViews applies a relative change to view_count and stamps last_read_at.
func (t *Tx) AddViews(ctx context.Context, articleID, delta int64, readAt time.Time) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE articles SET view_count = view_count + ?, last_read_at = ? WHERE id = ?`,
		delta, formatTime(readAt), articleID,
	)
	if err != nil {
		return fmt.Errorf("add views: %w", err)
	}
	return expectOneRow(result, "add views")
}

// InsertLikeMark inserts a like for (articleID, userID). It returns
// ErrDuplicate if the pair is already present.
func (t *Tx) InsertLikeMark(ctx context.Context, articleID int64, userID string, at time.Time) (int64, error) {
	result, err := t.tx.ExecContext(ctx,
		`INSERT INTO like_marks (article_id, user_id, created_at) VALUES (?, ?, ?)`,
		articleID, userID, formatTime(at),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("like mark (%d, %s): %w", articleID, userID, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert like mark: %w", err)
	}
	return result.LastInsertId()
}

// DeleteLikeMark removes the like for (articleID, userID) and reports whether
// a row existed.
func (t *Tx) DeleteLikeMark(ctx context.Context, articleID int64, userID string) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM like_marks WHERE article_id = ? AND user_id = ?`,
		articleID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete like mark: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete like mark: rows affected: %w", err)
	}
	return n > 0, nil
}

// AddLikes applies a relative change to like_count.
func (t *Tx) AddLikes(ctx context.Context, articleID, delta int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE articles SET like_count = like_count + ? WHERE id = ?`,
		delta, articleID,
	)
	if err != nil {
		return fmt.Errorf("add likes: %w", err)
	}
	return expectOneRow(result, "add likes")
}

func expectOneRow(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: expected 1 row, updated %d", op, n)
	}
	return nil
}

// CountViewEvents returns the number of view events recorded for an article.
func (db *DB) CountViewEvents(ctx context.Context, articleID int64) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM view_events WHERE article_id = ?`, articleID,
	).Scan(&n)
	return n, err
}

// ListViewEvents returns the view events for an article, oldest first.
func (db *DB) ListViewEvents(ctx context.Context, articleID int64) ([]ViewEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, article_id, source_address, user_agent, referrer, viewed_at
		FROM view_events WHERE article_id = ? ORDER BY viewed_at, id`, articleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ViewEvent
	for rows.Next() {
		var ev ViewEvent
		var viewedAt string
		if err := rows.Scan(&ev.ID, &ev.ArticleID, &ev.SourceAddress, &ev.UserAgent,
			&ev.Referrer, &viewedAt); err != nil {
			return nil, err
		}
		if ev.ViewedAt, err = parseTime(viewedAt); err != nil {
			return nil, fmt.Errorf("parsing viewed_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountLikeMarks returns the number of likes recorded for an article.
func (db *DB) CountLikeMarks(ctx context.Context, articleID int64) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM like_marks WHERE article_id = ?`, articleID,
	).Scan(&n)
	return n, err
}

// GetLikeMark returns the like for (articleID, userID), or nil.
func (db *DB) GetLikeMark(ctx context.Context, articleID int64, userID string) (*LikeMark, error) {
	var m LikeMark
	var created string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, article_id, user_id, created_at FROM like_marks WHERE article_id = ? AND user_id = ?`,
		articleID, userID,
	).Scan(&m.ID, &m.ArticleID, &m.UserID, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

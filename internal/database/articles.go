package database

import (
	"context"
	"database/sql"
	"fmt"
)

const articleColumns = `id, slug, title, body_markdown, view_count, like_count, last_read_at, created_at`

// InsertArticle adds an article to the catalog with zeroed counters.
// Returns ErrDuplicate if the slug is taken.
func (db *DB) InsertArticle(ctx context.Context, slug, title, bodyMarkdown string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO articles (slug, title, body_markdown) VALUES (?, ?, ?)`,
		slug, title, bodyMarkdown,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("article %q: %w", slug, ErrDuplicate)
		}
		return 0, fmt.Errorf("inserting article: %w", err)
	}
	return result.LastInsertId()
}

// SeedArticleCounters sets the counters of an article directly. It exists for
// imports of legacy data and tests; it does not touch detail rows, so callers
// are expected to run a repair afterwards if they need the invariants to hold.
func (db *DB) SeedArticleCounters(ctx context.Context, articleID, views, likes int64) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE articles SET view_count = ?, like_count = ? WHERE id = ?`,
		views, likes, articleID,
	)
	return err
}

// GetArticleBySlug returns the article with the given slug, or nil if none exists.
func (db *DB) GetArticleBySlug(ctx context.Context, slug string) (*Article, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE slug = ?`, slug,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListArticles returns all articles, newest first.
func (db *DB) ListArticles(ctx context.Context) ([]Article, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// GetStats returns aggregate counts across the database.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	s := &Stats{}
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(*) FROM view_events),
			(SELECT COUNT(*) FROM like_marks),
			(SELECT COALESCE(SUM(view_count), 0) FROM articles),
			(SELECT COALESCE(SUM(like_count), 0) FROM articles),
			(SELECT COUNT(*) FROM user_roles)`,
	).Scan(&s.Articles, &s.ViewEvents, &s.LikeMarks, &s.TotalViews, &s.TotalLikes, &s.UserRoles)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (*Article, error) {
	var a Article
	var lastRead sql.NullString
	var created string
	if err := row.Scan(&a.ID, &a.Slug, &a.Title, &a.BodyMarkdown, &a.ViewCount,
		&a.LikeCount, &lastRead, &created); err != nil {
		return nil, err
	}
	if lastRead.Valid {
		t, err := parseTime(lastRead.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_read_at: %w", err)
		}
		a.LastReadAt = &t
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	a.CreatedAt = t
	return &a, nil
}

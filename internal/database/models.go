package database

import "time"

// Article is a catalog entry together with its engagement counters.
type Article struct {
	ID           int64
	Slug         string
	Title        string
	BodyMarkdown string
	ViewCount    int64
	LikeCount    int64
	LastReadAt   *time.Time
	CreatedAt    time.Time
}

// ViewEvent is one counted page view. Rows are never updated or deleted.
type ViewEvent struct {
	ID            int64
	ArticleID     int64
	SourceAddress string
	UserAgent     string
	Referrer      *string
	ViewedAt      time.Time
}

// LikeMark records that a user likes an article.
type LikeMark struct {
	ID        int64
	ArticleID int64
	UserID    string
	CreatedAt time.Time
}

// UserRole is a role assignment maintained by the auth layer.
type UserRole struct {
	UserID    string
	Role      string
	Region    *string
	GrantedAt time.Time
}

// CounterDrift describes an article whose cached counters disagree with
// the detail rows.
type CounterDrift struct {
	ArticleID  int64  `json:"article_id"`
	Slug       string `json:"slug"`
	ViewCount  int64  `json:"view_count"`
	ViewEvents int64  `json:"view_events"`
	LikeCount  int64  `json:"like_count"`
	LikeMarks  int64  `json:"like_marks"`
}

// Stats contains aggregate database statistics.
type Stats struct {
	Articles   int
	ViewEvents int
	LikeMarks  int
	TotalViews int64
	TotalLikes int64
	UserRoles  int
}

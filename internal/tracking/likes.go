package tracking

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/TobiSchelling/lestari/internal/database"
)

// LikeResult reports the like state after a toggle.
type LikeResult struct {
	Liked bool
}

// ToggleLike flips userID's like of the article identified by slug and
// adjusts like_count by one in the same transaction. Calling it twice in a
// row restores the original state.
//
// If the insert loses a race against a concurrent toggle by the same user,
// the uniqueness constraint rejects it and the toggle is re-run, which then
// sees the competing like and removes it.
func (s *Service) ToggleLike(ctx context.Context, slug, userID string) (LikeResult, error) {
	if userID == "" {
		return LikeResult{}, ErrUnauthorized
	}

	ctx, span := tracer.Start(ctx, "tracking.ToggleLike",
		trace.WithAttributes(attribute.String("article.slug", slug)),
	)
	defer span.End()

	var res LikeResult
	err := s.inTx(ctx, "toggle like", func(tx *database.Tx) error {
		res = LikeResult{}

		article, err := tx.ArticleBySlug(ctx, slug)
		if err != nil {
			return err
		}
		if article == nil {
			return ErrNotFound
		}

		removed, err := tx.DeleteLikeMark(ctx, article.ID, userID)
		if err != nil {
			return err
		}
		if removed {
			return tx.AddLikes(ctx, article.ID, -1)
		}

		if _, err := tx.InsertLikeMark(ctx, article.ID, userID, s.now()); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				return ErrConflict
			}
			return err
		}
		if err := tx.AddLikes(ctx, article.ID, 1); err != nil {
			return err
		}
		res.Liked = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return LikeResult{}, err
	}

	span.SetAttributes(attribute.Bool("like.liked", res.Liked))
	s.ins.likes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("liked", res.Liked)))
	return res, nil
}

package tracking

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/TobiSchelling/lestari/internal/database"
)

// UnknownAddress stands in for a request whose source address could not be
// determined. All such requests share one dedup key.
const UnknownAddress = "unknown"

// ViewInput describes an inbound page view.
type ViewInput struct {
	SourceAddress string
	UserAgent     string
	Referrer      string
}

// ViewResult reports whether the view was counted or deduplicated.
type ViewResult struct {
	Counted bool
}

// RecordView records a view of the article identified by slug.
//
// A view from an address that already has a view of this article inside the
// dedup window is not counted. Otherwise a view event is appended, the
// article's view_count is incremented by one and last_read_at is set, all in
// the same transaction as the dedup lookup.
func (s *Service) RecordView(ctx context.Context, slug string, in ViewInput) (ViewResult, error) {
	ctx, span := tracer.Start(ctx, "tracking.RecordView",
		trace.WithAttributes(attribute.String("article.slug", slug)),
	)
	defer span.End()

	addr := in.SourceAddress
	if addr == "" {
		addr = UnknownAddress
	}
	var referrer *string
	if in.Referrer != "" {
		referrer = &in.Referrer
	}

	var res ViewResult
	err := s.inTx(ctx, "record view", func(tx *database.Tx) error {
		res = ViewResult{}

		article, err := tx.ArticleBySlug(ctx, slug)
		if err != nil {
			return err
		}
		if article == nil {
			return ErrNotFound
		}

		now := s.now()
		last, err := tx.LatestViewSince(ctx, article.ID, addr, now.Add(-s.dedupWindow))
		if err != nil {
			return err
		}
		if last != nil {
			return nil
		}

		if _, err := tx.AppendViewEvent(ctx, database.ViewEvent{
			ArticleID:     article.ID,
			SourceAddress: addr,
			UserAgent:     in.UserAgent,
			Referrer:      referrer,
			ViewedAt:      now,
		}); err != nil {
			return err
		}
		if err := tx.AddViews(ctx, article.ID, 1, now); err != nil {
			return err
		}
		res.Counted = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ViewResult{}, err
	}

	span.SetAttributes(attribute.Bool("view.counted", res.Counted))
	s.ins.views.Add(ctx, 1, metric.WithAttributes(attribute.Bool("counted", res.Counted)))
	return res, nil
}

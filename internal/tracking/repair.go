package tracking

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/codes"

	"github.com/TobiSchelling/lestari/internal/database"
)

// RepairReport summarizes a repair pass.
type RepairReport struct {
	Checked  int                     `json:"checked"`
	Repaired int                     `json:"repaired"`
	Drift    []database.CounterDrift `json:"drift"`
}

// Repair resets every article's view_count and like_count to the number of
// view events and like marks it has. It only ever writes true counts, so it
// can run at any time and running it twice changes nothing.
func (s *Service) Repair(ctx context.Context) (*RepairReport, error) {
	ctx, span := tracer.Start(ctx, "tracking.Repair")
	defer span.End()

	report := &RepairReport{}
	err := s.inTx(ctx, "repair counters", func(tx *database.Tx) error {
		drift, checked, err := tx.RecountCounters(ctx)
		if err != nil {
			return err
		}
		report.Checked = checked
		report.Repaired = len(drift)
		report.Drift = drift
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, d := range report.Drift {
		log.Printf("repaired %s: views %d -> %d, likes %d -> %d",
			d.Slug, d.ViewCount, d.ViewEvents, d.LikeCount, d.LikeMarks)
	}
	s.ins.repairs.Add(ctx, int64(report.Repaired))
	return report, nil
}

// Check returns articles whose counters disagree with their detail rows
// without modifying anything.
func (s *Service) Check(ctx context.Context) ([]database.CounterDrift, int, error) {
	drift, checked, err := s.db.FindCounterDrift(ctx)
	if err != nil {
		return nil, 0, &StoreError{Op: "check counters", Err: fmt.Errorf("finding drift: %w", err)}
	}
	return drift, checked, nil
}

// Package tracking records article views and likes.
//
// Every operation runs as a single write transaction against the database:
// the detail row (view event or like mark) and the matching counter delta
// commit together or not at all. Writers coordinate only through the store,
// so any number of processes may share one database file.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/TobiSchelling/lestari/internal/database"
)

const (
	// DefaultDedupWindow is how long repeat views from one address are ignored.
	DefaultDedupWindow = 24 * time.Hour

	defaultMaxAttempts = 5
	retryBackoff       = 20 * time.Millisecond
)

// Service implements the view recorder, the like toggler and counter repair.
type Service struct {
	db          *database.DB
	dedupWindow time.Duration
	now         func() time.Time
	maxAttempts int
	ins         *instruments
}

// Option configures a Service.
type Option func(*Service)

// WithDedupWindow overrides DefaultDedupWindow.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.dedupWindow = d
		}
	}
}

// WithClock sets the time source used for view and like timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMaxAttempts bounds how many times a transaction is tried when the
// store is busy or a uniqueness conflict is detected.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New creates a tracking service backed by db.
func New(db *database.DB, opts ...Option) (*Service, error) {
	ins, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}
	s := &Service{
		db:          db,
		dedupWindow: DefaultDedupWindow,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
		ins:         ins,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DedupWindow returns the configured dedup window.
func (s *Service) DedupWindow() time.Duration {
	return s.dedupWindow
}

// inTx runs fn in a write transaction, retrying when the store reports a
// lock timeout or fn reports ErrConflict. ErrNotFound passes through
// unchanged; any other failure becomes a *StoreError.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx *database.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.db.WithTx(ctx, fn)
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		if !errors.Is(err, ErrConflict) && !database.IsBusy(err) {
			break
		}
		if attempt == s.maxAttempts {
			break
		}

		s.ins.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		log.Printf("%s: retrying after attempt %d: %v", op, attempt, err)

		select {
		case <-ctx.Done():
			return &StoreError{Op: op, Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return &StoreError{Op: op, Err: err}
}

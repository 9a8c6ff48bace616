package tracking

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("github.com/TobiSchelling/lestari/internal/tracking")
	meter  = otel.Meter("github.com/TobiSchelling/lestari/internal/tracking")
)

type instruments struct {
	views   metric.Int64Counter
	likes   metric.Int64Counter
	retries metric.Int64Counter
	repairs metric.Int64Counter
}

// newInstruments creates the counters. otel.Meter delegates to whatever
// MeterProvider is installed later, so this is safe before telemetry setup.
func newInstruments() (*instruments, error) {
	var (
		ins instruments
		err error
	)
	ins.views, err = meter.Int64Counter("lestari.views.recorded",
		metric.WithDescription("View requests processed, by whether they were counted"))
	if err != nil {
		return nil, err
	}
	ins.likes, err = meter.Int64Counter("lestari.likes.toggled",
		metric.WithDescription("Like toggles applied, by resulting state"))
	if err != nil {
		return nil, err
	}
	ins.retries, err = meter.Int64Counter("lestari.store.retries",
		metric.WithDescription("Transactions retried after a busy store or a uniqueness conflict"))
	if err != nil {
		return nil, err
	}
	ins.repairs, err = meter.Int64Counter("lestari.counters.repaired",
		metric.WithDescription("Articles whose counters were rewritten by repair"))
	if err != nil {
		return nil, err
	}
	return &ins, nil
}

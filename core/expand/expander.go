// Package expand turns recurring order templates into concrete dated task
// instances. Expansion is idempotent per (template, date): the occurrence
// record inserted atomically with each task instance guards against
// duplicates, so repeated or concurrent runs for the same date are safe.
package expand

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/secutrans/convoy/core/events"
	"github.com/secutrans/convoy/core/logger"
	"github.com/secutrans/convoy/core/metrics"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
	"github.com/secutrans/convoy/internal/eventbus"
)

// Expander materializes due templates into Pending task instances.
type Expander struct {
	templates store.TemplateSource
	occ       store.OccurrenceStore
	log       logger.Logger

	sink  metrics.Sink
	bus   eventbus.EventBus
	now   func() time.Time
	newID func() string
}

// New creates an Expander reading templates from src and recording
// occurrences in occ.
func New(src store.TemplateSource, occ store.OccurrenceStore, log logger.Logger) (*Expander, error) {
	if src == nil || occ == nil || log == nil {
		return nil, fmt.Errorf("expand: nil parameter provided to New")
	}
	return &Expander{
		templates: src,
		occ:       occ,
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// SetMetricsSink configures the sink receiving expansion summaries.
func (e *Expander) SetMetricsSink(sink metrics.Sink) { e.sink = sink }

// SetEventBus configures the bus receiving ExpansionCompleted events.
func (e *Expander) SetEventBus(bus eventbus.EventBus) { e.bus = bus }

// SetClock overrides the wall clock, for tests.
func (e *Expander) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Report collects the outcome of one expansion run. Per-template failures do
// not abort the run; they are gathered here so one bad template never blocks
// the others.
type Report struct {
	Date     model.Date
	Created  []model.TaskInstance
	Skipped  int
	Failures map[string]error
}

// Err returns a summary error when the run had per-template failures.
func (r Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return fmt.Errorf("expansion for %s: %d of %d templates failed",
		r.Date, len(r.Failures), len(r.Failures)+len(r.Created)+r.Skipped)
}

// ExpandForDate generates task instances for every template due on date.
// Listing failures abort the run; everything after that is per-template.
func (e *Expander) ExpandForDate(ctx context.Context, date model.Date) (Report, error) {
	start := e.now()
	report := Report{Date: date, Failures: make(map[string]error)}

	templates, err := e.templates.ListTemplatesActiveOn(ctx, date)
	if err != nil {
		return report, fmt.Errorf("list templates active on %s: %w", date, err)
	}

	for _, tpl := range templates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !tpl.DueOn(date) {
			continue
		}
		task, err := e.materialize(ctx, tpl, date)
		if err != nil {
			e.log.Errorf("template %s on %s: %v", tpl.ID, date, err)
			report.Failures[tpl.ID] = err
			continue
		}
		if task == nil {
			report.Skipped++
			continue
		}
		report.Created = append(report.Created, *task)
	}

	e.log.Infof("expanded %s: %d created, %d skipped, %d failed",
		date, len(report.Created), report.Skipped, len(report.Failures))
	if e.sink != nil {
		ev := metrics.ExpansionEvent{
			Date:     date,
			Created:  len(report.Created),
			Skipped:  report.Skipped,
			Failed:   len(report.Failures),
			Duration: e.now().Sub(start),
		}
		if err := e.sink.RecordExpansion(ev); err != nil {
			e.log.Errorf("expansion metrics: %v", err)
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.ExpansionCompleted{
			Date:    date,
			Created: len(report.Created),
			Skipped: report.Skipped,
			Failed:  len(report.Failures),
		})
	}
	return report, nil
}

// materialize validates the template, builds the task instance and records
// the occurrence. A nil task with nil error means the occurrence already
// existed.
func (e *Expander) materialize(ctx context.Context, tpl model.OrderTemplate, date model.Date) (*model.TaskInstance, error) {
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	task := model.TaskInstance{
		ID:           e.newID(),
		TemplateID:   tpl.ID,
		Date:         date,
		Pickup:       tpl.Pickup,
		Delivery:     tpl.Delivery,
		VehicleCount: tpl.VehicleCount,
		FullDay:      tpl.FullDay,
		State:        model.TaskPending,
		CreatedAt:    e.now().UTC(),
	}
	outcome, err := e.occ.RecordOccurrence(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("record occurrence: %w", err)
	}
	if outcome == store.RecordAlreadyExists {
		e.log.Debugf("template %s already expanded for %s", tpl.ID, date)
		return nil, nil
	}
	return &task, nil
}

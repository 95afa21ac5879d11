package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/secutrans/convoy/core/expand"
	"github.com/secutrans/convoy/core/grouping"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type fakeExpander struct {
	calls     int
	failUntil int
	err       error
}

func (f *fakeExpander) ExpandForDate(_ context.Context, date model.Date) (expand.Report, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return expand.Report{}, f.err
	}
	return expand.Report{Date: date}, nil
}

type fakeGrouper struct {
	calls     int
	failUntil int
	err       error
}

func (f *fakeGrouper) GroupForDate(_ context.Context, _ model.Date, instances []model.TaskInstance) ([]model.Route, []grouping.Ungrouped, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, nil, f.err
	}
	return nil, nil, nil
}

func newTrigger(t *testing.T, exp Expander, grp Grouper, s *store.MemoryStore) *DailyTrigger {
	t.Helper()
	cfg := Config{}
	cfg.SetDefaults()
	cfg.RetryBackoffSeconds = 1
	trigger, err := New(cfg, exp, grp, s, s, nopLogger{})
	if err != nil {
		t.Fatalf("new trigger: %v", err)
	}
	trigger.sleep = func(context.Context, time.Duration) error { return nil }
	return trigger
}

func TestRunOnceClaimsDay(t *testing.T) {
	s := store.NewMemoryStore()
	exp := &fakeExpander{}
	grp := &fakeGrouper{}
	trigger := newTrigger(t, exp, grp, s)
	date := model.NewDate(2024, time.March, 5)

	if err := trigger.RunOnce(context.Background(), date); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if exp.calls != 1 || grp.calls != 1 {
		t.Fatalf("pipeline not driven: expand %d, group %d", exp.calls, grp.calls)
	}

	// A second trigger for the same day is a no-op under the run lock.
	if err := trigger.RunOnce(context.Background(), date); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if exp.calls != 1 {
		t.Fatalf("day expanded twice despite run lock")
	}
}

func TestRunOnceRetriesTransientFailures(t *testing.T) {
	s := store.NewMemoryStore()
	exp := &fakeExpander{failUntil: 2, err: model.ErrTransient}
	trigger := newTrigger(t, exp, &fakeGrouper{}, s)

	if err := trigger.RunOnce(context.Background(), model.NewDate(2024, time.March, 5)); err != nil {
		t.Fatalf("run should recover from transient failures: %v", err)
	}
	if exp.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", exp.calls)
	}
}

func TestRunOnceReleasesClaimAfterExhaustedRetries(t *testing.T) {
	s := store.NewMemoryStore()
	exp := &fakeExpander{failUntil: 100, err: model.ErrTransient}
	trigger := newTrigger(t, exp, &fakeGrouper{}, s)
	date := model.NewDate(2024, time.March, 5)

	err := trigger.RunOnce(context.Background(), date)
	if !errors.Is(err, model.ErrTransient) {
		t.Fatalf("expected transient failure surfaced, got %v", err)
	}
	if exp.calls != trigger.cfg.MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", trigger.cfg.MaxRetries+1, exp.calls)
	}

	// The claim was released: a retrigger can run the day.
	exp.failUntil = 0
	exp.calls = 0
	if err := trigger.RunOnce(context.Background(), date); err != nil {
		t.Fatalf("retrigger after release: %v", err)
	}
	if exp.calls != 1 {
		t.Fatalf("retrigger did not expand")
	}
}

func TestRunOnceReleasesClaimOnGroupingFailure(t *testing.T) {
	s := store.NewMemoryStore()
	exp := &fakeExpander{}
	grp := &fakeGrouper{failUntil: 1, err: model.ErrTransient}
	trigger := newTrigger(t, exp, grp, s)
	date := model.NewDate(2024, time.March, 5)

	err := trigger.RunOnce(context.Background(), date)
	if !errors.Is(err, model.ErrTransient) {
		t.Fatalf("expected grouping failure surfaced, got %v", err)
	}

	// The claim was given back: a retrigger reruns the day end to end, with
	// expansion idempotency absorbing the repeat.
	if err := trigger.RunOnce(context.Background(), date); err != nil {
		t.Fatalf("retrigger after grouping failure: %v", err)
	}
	if grp.calls != 2 {
		t.Fatalf("grouping not retried after claim release (grouper calls = %d)", grp.calls)
	}
	if exp.calls != 2 {
		t.Fatalf("expected expansion rerun, got %d calls", exp.calls)
	}
}

func TestRunOnceCountsIncompleteRuns(t *testing.T) {
	ResetMetrics(nil)
	s := store.NewMemoryStore()
	exp := &fakeExpander{failUntil: 100, err: errors.New("schema broken")}
	trigger := newTrigger(t, exp, &fakeGrouper{}, s)

	if err := trigger.RunOnce(context.Background(), model.NewDate(2024, time.March, 5)); err == nil {
		t.Fatal("expected run failure")
	}
	if got := testutil.ToFloat64(incompleteRunsTotal); got != 1 {
		t.Fatalf("incomplete runs counter = %v, want 1", got)
	}

	// A skipped, already-claimed day is not incomplete.
	exp.failUntil = 0
	if err := trigger.RunOnce(context.Background(), model.NewDate(2024, time.March, 6)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := trigger.RunOnce(context.Background(), model.NewDate(2024, time.March, 6)); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if got := testutil.ToFloat64(incompleteRunsTotal); got != 1 {
		t.Fatalf("incomplete runs counter = %v, want 1", got)
	}
}

func TestRunOnceStopsOnPermanentFailure(t *testing.T) {
	s := store.NewMemoryStore()
	exp := &fakeExpander{failUntil: 100, err: errors.New("schema broken")}
	trigger := newTrigger(t, exp, &fakeGrouper{}, s)

	err := trigger.RunOnce(context.Background(), model.NewDate(2024, time.March, 5))
	if err == nil || !strings.Contains(err.Error(), "schema broken") {
		t.Fatalf("expected permanent failure surfaced, got %v", err)
	}
	if exp.calls != 1 {
		t.Fatalf("permanent failure retried: %d calls", exp.calls)
	}
}

func TestNextFire(t *testing.T) {
	cfg := Config{TriggerTime: "00:00", MaxRetries: 1, RetryBackoffSeconds: 1}
	trigger, err := New(cfg, &fakeExpander{}, &fakeGrouper{}, store.NewMemoryStore(), store.NewMemoryStore(), nopLogger{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	now := time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)
	next := trigger.nextFire(now)
	want := time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("nextFire = %s, want %s", next, want)
	}

	// Exactly at the trigger instant rolls to the next day.
	atMidnight := time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC)
	if got := trigger.nextFire(atMidnight); !got.Equal(atMidnight.AddDate(0, 0, 1)) {
		t.Fatalf("nextFire at boundary = %s", got)
	}
}

func TestConfigValidate(t *testing.T) {
	bad := Config{TriggerTime: "25:99"}
	if err := bad.Validate(); err == nil {
		t.Error("invalid trigger time accepted")
	}
	good := Config{}
	good.SetDefaults()
	if err := good.Validate(); err != nil {
		t.Errorf("defaults rejected: %v", err)
	}
}

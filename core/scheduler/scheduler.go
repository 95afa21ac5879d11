package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/secutrans/convoy/core/expand"
	"github.com/secutrans/convoy/core/grouping"
	"github.com/secutrans/convoy/core/logger"
	"github.com/secutrans/convoy/core/model"
	"github.com/secutrans/convoy/core/store"
)

// Expander is the expansion entry point the trigger drives.
type Expander interface {
	ExpandForDate(ctx context.Context, date model.Date) (expand.Report, error)
}

// Grouper is the grouping entry point the trigger drives after expansion.
type Grouper interface {
	GroupForDate(ctx context.Context, date model.Date, instances []model.TaskInstance) ([]model.Route, []grouping.Ungrouped, error)
}

// DailyTrigger fires the expansion and grouping pipeline once per calendar
// day. It is an explicit restartable task: the clock is injected, the
// run-once guard lives in the store, and a restart mid-day simply finds the
// day already claimed. Expansion idempotency remains a second, independent
// safety net underneath the lock.
type DailyTrigger struct {
	cfg      Config
	expander Expander
	grouper  Grouper
	tasks    store.TaskStore
	lock     store.RunLock
	log      logger.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a DailyTrigger. The configuration must have been validated.
func New(cfg Config, exp Expander, grp Grouper, tasks store.TaskStore, lock store.RunLock, log logger.Logger) (*DailyTrigger, error) {
	if exp == nil || grp == nil || tasks == nil || lock == nil || log == nil {
		return nil, fmt.Errorf("scheduler: nil parameter provided to New")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DailyTrigger{
		cfg:      cfg,
		expander: exp,
		grouper:  grp,
		tasks:    tasks,
		lock:     lock,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
	}, nil
}

// SetClock overrides the wall clock, for tests.
func (t *DailyTrigger) SetClock(now func() time.Time) {
	if now != nil {
		t.now = now
	}
}

// Run fires the pipeline at the configured time every day until the context
// is canceled.
func (t *DailyTrigger) Run(ctx context.Context) error {
	for {
		next := t.nextFire(t.now())
		t.log.Infof("next generation run at %s", next.Format(time.RFC3339))
		if err := t.sleep(ctx, next.Sub(t.now())); err != nil {
			return nil
		}
		date := model.DateOf(next)
		if err := t.RunOnce(ctx, date); err != nil {
			t.log.Errorf("generation for %s incomplete: %v", date, err)
		}
	}
}

// RunOnce claims the date and runs expansion then grouping. Transient
// expansion failures are retried up to the configured bound; after that the
// claim is released and the day is reported incomplete. Per-template
// failures inside a run do not count as run failures.
func (t *DailyTrigger) RunOnce(ctx context.Context, date model.Date) error {
	err := t.runOnce(ctx, date)
	if err != nil {
		incompleteRunsTotal.Inc()
	}
	return err
}

func (t *DailyTrigger) runOnce(ctx context.Context, date model.Date) error {
	claimed, err := t.lock.AcquireRun(ctx, date)
	if err != nil {
		return fmt.Errorf("acquire run for %s: %w", date, err)
	}
	if !claimed {
		t.log.Infof("generation for %s already claimed, skipping", date)
		return nil
	}

	report, err := t.expandWithRetry(ctx, date)
	if err != nil {
		t.releaseClaim(ctx, date)
		return err
	}
	for templateID, ferr := range report.Failures {
		t.log.Errorf("template %s failed for %s: %v", templateID, date, ferr)
	}

	// Expansion idempotency makes a re-run safe, so a grouping failure gives
	// the claim back; otherwise the day would stay wedged until an operator
	// cleared the lock by hand.
	pending, err := t.pendingTasks(ctx, date)
	if err != nil {
		t.releaseClaim(ctx, date)
		return err
	}
	routes, ungrouped, err := t.grouper.GroupForDate(ctx, date, pending)
	if err != nil {
		t.releaseClaim(ctx, date)
		return fmt.Errorf("group %s: %w", date, err)
	}
	for _, u := range ungrouped {
		t.log.Warnf("task %s needs manual resolution: %s", u.Task.ID, u.Reason)
	}
	t.log.Infof("generation for %s done: %d tasks created, %d routes, %d unplaced",
		date, len(report.Created), len(routes), len(ungrouped))
	return report.Err()
}

func (t *DailyTrigger) releaseClaim(ctx context.Context, date model.Date) {
	if err := t.lock.ReleaseRun(ctx, date); err != nil {
		t.log.Errorf("release run for %s: %v", date, err)
	}
}

func (t *DailyTrigger) expandWithRetry(ctx context.Context, date model.Date) (expand.Report, error) {
	backoff := time.Duration(t.cfg.RetryBackoffSeconds) * time.Second
	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			t.log.Warnf("expansion retry %d/%d for %s after: %v", attempt, t.cfg.MaxRetries, date, lastErr)
			if err := t.sleep(ctx, backoff); err != nil {
				return expand.Report{}, lastErr
			}
		}
		report, err := t.expander.ExpandForDate(ctx, date)
		if err == nil {
			return report, nil
		}
		if !errors.Is(err, model.ErrTransient) {
			return expand.Report{}, fmt.Errorf("expand %s: %w", date, err)
		}
		lastErr = err
	}
	return expand.Report{}, fmt.Errorf("expand %s after %d retries: %w", date, t.cfg.MaxRetries, lastErr)
}

func (t *DailyTrigger) pendingTasks(ctx context.Context, date model.Date) ([]model.TaskInstance, error) {
	tasks, err := t.tasks.TasksForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", date, err)
	}
	var pending []model.TaskInstance
	for _, task := range tasks {
		if task.State == model.TaskPending {
			pending = append(pending, task)
		}
	}
	return pending, nil
}

// nextFire returns the next trigger instant strictly after now.
func (t *DailyTrigger) nextFire(now time.Time) time.Time {
	hour, minute := t.cfg.triggerClock()
	fire := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !fire.After(now) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

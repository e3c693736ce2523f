package collector

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// Schedule is one recurring trigger for a collector's task. A schedule is
// installed on the shared scheduler and cancelled by removing the returned job.
type Schedule interface {
	install(s *gocron.Scheduler, task func()) (*gocron.Job, error)
	String() string
}

// IntervalSchedule fires every Every, first firing one period after install.
type IntervalSchedule struct {
	Every time.Duration
}

func (i IntervalSchedule) install(s *gocron.Scheduler, task func()) (*gocron.Job, error) {
	return s.Every(i.Every).SingletonMode().WaitForSchedule().Do(task)
}

func (i IntervalSchedule) String() string {
	return "every " + i.Every.String()
}

// CronSchedule fires on a standard five-field cron expression, evaluated in
// Timezone (scheduler default, UTC, when empty).
type CronSchedule struct {
	Expr     string
	Timezone string
}

func (c CronSchedule) spec() string {
	if c.Timezone == "" {
		return c.Expr
	}
	return fmt.Sprintf("CRON_TZ=%s %s", c.Timezone, c.Expr)
}

func (c CronSchedule) install(s *gocron.Scheduler, task func()) (*gocron.Job, error) {
	return s.Cron(c.spec()).SingletonMode().Do(task)
}

func (c CronSchedule) String() string {
	return "cron " + c.spec()
}

// ScheduleFor picks the schedule for cfg. A cron expression takes precedence
// over an interval; with neither, defaultInterval is used.
func ScheduleFor(cfg Config, defaultInterval time.Duration) Schedule {
	if cfg.CronExpression != "" {
		return CronSchedule{Expr: cfg.CronExpression, Timezone: cfg.Timezone}
	}
	if cfg.Interval > 0 {
		return IntervalSchedule{Every: time.Duration(cfg.Interval) * time.Millisecond}
	}
	return IntervalSchedule{Every: defaultInterval}
}

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

var ErrInvalidSchedule = errors.New("invalid schedule definition")

// Recurrence keywords accepted in a job's repeat interval. Anything else is
// parsed as a Go duration.
var intervalKeywords = map[string]time.Duration{
	"daily":   24 * time.Hour,
	"weekly":  7 * 24 * time.Hour,
	"monthly": 30 * 24 * time.Hour,
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NextRun computes when the job should run next after the given time. Cron
// expressions take precedence over repeat intervals when both are somehow set.
func NextRun(job *types.ScheduledJob, after time.Time) (time.Time, error) {
	if job.ScheduleExpr != "" {
		schedule, err := cronParser.Parse(job.ScheduleExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: cron %q: %w", ErrInvalidSchedule, job.ScheduleExpr, err)
		}
		return schedule.Next(after), nil
	}

	if job.RepeatInterval == "" {
		return time.Time{}, fmt.Errorf("%w: job %s has no recurrence", ErrInvalidSchedule, job.ID)
	}

	if interval, ok := intervalKeywords[job.RepeatInterval]; ok {
		return after.Add(interval), nil
	}

	interval, err := time.ParseDuration(job.RepeatInterval)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: interval %q: %w", ErrInvalidSchedule, job.RepeatInterval, err)
	}
	if interval <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval %q is not positive", ErrInvalidSchedule, job.RepeatInterval)
	}
	return after.Add(interval), nil
}

// ValidateSchedule checks a recurrence definition without needing a job.
func ValidateSchedule(repeatInterval, scheduleExpr string) error {
	probe := &types.ScheduledJob{RepeatInterval: repeatInterval, ScheduleExpr: scheduleExpr}
	if repeatInterval == "" && scheduleExpr == "" {
		return fmt.Errorf("%w: no recurrence given", ErrInvalidSchedule)
	}
	_, err := NextRun(probe, time.Now())
	return err
}

package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		times = append(times, next)
	}
	return times
}

func parseClock(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:mm, got %q", at)
	}
	if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("want HH:mm, got %q", at)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", at)
	}
	return hour, minute, nil
}

// NextRunTime computes when a schedule should next fire, strictly from the
// given reference time. Daily/weekly/monthly schedules with no time of day
// fire immediately.
func NextRunTime(s Schedule, now time.Time) (time.Time, error) {
	switch s.Type {
	case ScheduleImmediate:
		return now, nil

	case ScheduleOnce:
		if s.RunAt != nil {
			return *s.RunAt, nil
		}
		return now, nil

	case ScheduleDaily:
		if s.At == "" {
			return now, nil
		}
		hour, minute, err := parseClock(s.At)
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil

	case ScheduleWeekly:
		if s.At == "" {
			return now, nil
		}
		hour, minute, err := parseClock(s.At)
		if err != nil {
			return time.Time{}, err
		}
		weekday := s.Weekday
		if weekday == time.Sunday {
			weekday = time.Monday
		}
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		next = next.AddDate(0, 0, (int(weekday)-int(next.Weekday())+7)%7)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next, nil

	case ScheduleMonthly:
		if s.At == "" {
			return now, nil
		}
		hour, minute, err := parseClock(s.At)
		if err != nil {
			return time.Time{}, err
		}
		day := s.MonthDay
		if day == 0 {
			day = 1
		}
		next := time.Date(now.Year(), now.Month(), day, hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 1, 0)
		}
		return next, nil

	case ScheduleCustom:
		schedule, err := ParseCron(s.Cron)
		if err != nil {
			return time.Time{}, err
		}
		return schedule.Next(now), nil

	default:
		return now, nil
	}
}

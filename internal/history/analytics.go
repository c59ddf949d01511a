package history

import (
	"sort"
	"strings"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Error categories assigned by substring matching on the failure message.
const (
	ErrorNetwork    = "network"
	ErrorTimeout    = "timeout"
	ErrorAuth       = "auth"
	ErrorPermission = "permission"
	ErrorNotFound   = "not_found"
	ErrorValidation = "validation"
	ErrorDatabase   = "database"
	ErrorMemory     = "memory"
	ErrorStorage    = "storage"
	ErrorOther      = "other"
	ErrorUnknown    = "unknown"
)

// CategorizeError maps a failure message to a coarse error category. The
// match is case-insensitive and first-hit wins.
func CategorizeError(message string) string {
	if message == "" {
		return ErrorUnknown
	}
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "network") || strings.Contains(m, "connection"):
		return ErrorNetwork
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out"):
		return ErrorTimeout
	case strings.Contains(m, "auth") || strings.Contains(m, "unauthorized"):
		return ErrorAuth
	case strings.Contains(m, "permission") || strings.Contains(m, "forbidden"):
		return ErrorPermission
	case strings.Contains(m, "not found"):
		return ErrorNotFound
	case strings.Contains(m, "invalid") || strings.Contains(m, "validation"):
		return ErrorValidation
	case strings.Contains(m, "database") || strings.Contains(m, "sql"):
		return ErrorDatabase
	case strings.Contains(m, "memory"):
		return ErrorMemory
	case strings.Contains(m, "disk") || strings.Contains(m, "storage"):
		return ErrorStorage
	default:
		return ErrorOther
	}
}

// TaskErrors counts failures of one task.
type TaskErrors struct {
	TaskName string `json:"task_name"`
	Count    int    `json:"count"`
}

// CommonError is one entry of the most-frequent-errors ranking.
type CommonError struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ErrorStatistics breaks failed executions down by category, task and day.
type ErrorStatistics struct {
	Total        int                   `json:"total"`
	ByCategory   map[string]int        `json:"by_category"`
	ByTask       map[string]TaskErrors `json:"by_task"`
	ByDay        map[string]int        `json:"by_day"`
	CommonErrors []CommonError         `json:"common_errors"`
}

// ErrorStatistics analyzes failures over the last N days, optionally
// limited to one task.
func (s *Store) ErrorStatistics(taskID string, days int) ErrorStatistics {
	if days <= 0 {
		days = 7
	}
	cutoff := s.clock().AddDate(0, 0, -days)

	stats := ErrorStatistics{
		ByCategory: make(map[string]int),
		ByTask:     make(map[string]TaskErrors),
		ByDay:      make(map[string]int),
	}

	s.mu.RLock()
	for _, rec := range s.records {
		if rec.Status != task.StatusFailed {
			continue
		}
		if taskID != "" && rec.TaskID != taskID {
			continue
		}
		if rec.StartTime.Before(cutoff) {
			continue
		}

		stats.Total++
		stats.ByCategory[CategorizeError(rec.Error)]++

		te := stats.ByTask[rec.TaskID]
		te.TaskName = rec.TaskName
		te.Count++
		stats.ByTask[rec.TaskID] = te

		stats.ByDay[rec.StartTime.Format("2006-01-02")]++
	}
	s.mu.RUnlock()

	for category, count := range stats.ByCategory {
		stats.CommonErrors = append(stats.CommonErrors, CommonError{
			Category:   category,
			Count:      count,
			Percentage: float64(count) / float64(stats.Total) * 100,
		})
	}
	sort.Slice(stats.CommonErrors, func(i, j int) bool {
		if stats.CommonErrors[i].Count != stats.CommonErrors[j].Count {
			return stats.CommonErrors[i].Count > stats.CommonErrors[j].Count
		}
		return stats.CommonErrors[i].Category < stats.CommonErrors[j].Category
	})
	if len(stats.CommonErrors) > 10 {
		stats.CommonErrors = stats.CommonErrors[:10]
	}
	return stats
}

// PerfPoint is one day of the duration trend.
type PerfPoint struct {
	Date    string        `json:"date"`
	Average time.Duration `json:"average"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
}

// PerformanceMetrics summarizes durations of completed executions.
type PerformanceMetrics struct {
	Count        int           `json:"count"`
	Average      time.Duration `json:"average"`
	Min          time.Duration `json:"min"`
	Max          time.Duration `json:"max"`
	Percentile95 time.Duration `json:"percentile_95"`
	Trend        []PerfPoint   `json:"trend"`
}

// PerformanceMetrics computes duration statistics over completed
// executions of the last N days. Percentile95 uses the nearest-rank value
// at index floor(n*0.95) of the sorted durations.
func (s *Store) PerformanceMetrics(taskID string, days int) PerformanceMetrics {
	if days <= 0 {
		days = 7
	}
	cutoff := s.clock().AddDate(0, 0, -days)

	type dayAgg struct {
		sum   time.Duration
		min   time.Duration
		max   time.Duration
		count int
	}

	var durations []time.Duration
	byDay := make(map[string]*dayAgg)

	s.mu.RLock()
	for _, rec := range s.records {
		if rec.Status != task.StatusCompleted || rec.Duration <= 0 {
			continue
		}
		if taskID != "" && rec.TaskID != taskID {
			continue
		}
		if rec.StartTime.Before(cutoff) {
			continue
		}

		durations = append(durations, rec.Duration)
		day := rec.StartTime.Format("2006-01-02")
		agg, ok := byDay[day]
		if !ok {
			agg = &dayAgg{min: rec.Duration, max: rec.Duration}
			byDay[day] = agg
		}
		agg.sum += rec.Duration
		agg.count++
		if rec.Duration < agg.min {
			agg.min = rec.Duration
		}
		if rec.Duration > agg.max {
			agg.max = rec.Duration
		}
	}
	s.mu.RUnlock()

	if len(durations) == 0 {
		return PerformanceMetrics{}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	p95Index := int(float64(len(durations)) * 0.95)
	if p95Index >= len(durations) {
		p95Index = len(durations) - 1
	}

	metrics := PerformanceMetrics{
		Count:        len(durations),
		Average:      total / time.Duration(len(durations)),
		Min:          durations[0],
		Max:          durations[len(durations)-1],
		Percentile95: durations[p95Index],
	}

	dayKeys := make([]string, 0, len(byDay))
	for day := range byDay {
		dayKeys = append(dayKeys, day)
	}
	sort.Strings(dayKeys)
	for _, day := range dayKeys {
		agg := byDay[day]
		metrics.Trend = append(metrics.Trend, PerfPoint{
			Date:    day,
			Average: agg.sum / time.Duration(agg.count),
			Min:     agg.min,
			Max:     agg.max,
		})
	}
	return metrics
}

// Package history keeps a capped in-memory record of task executions and
// derives statistics, trends, error breakdowns and exports from it.
package history

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// DefaultCapacity bounds the number of retained executions; the oldest
// records are evicted first.
const DefaultCapacity = 10000

// Store holds execution records newest first.
type Store struct {
	mu       sync.RWMutex
	records  []*task.Execution
	capacity int
	clock    func() time.Time
}

// Option tweaks a Store.
type Option func(*Store)

// WithCapacity overrides the retention cap.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock substitutes the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{capacity: DefaultCapacity, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record prepends an execution. When the cap is exceeded the oldest
// records fall off the end.
func (s *Store) Record(exec *task.Execution) *task.Execution {
	cp := exec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]*task.Execution{cp}, s.records...)
	if len(s.records) > s.capacity {
		s.records = s.records[:s.capacity]
	}
	return cp.Clone()
}

// Update applies fn to the stored record with the given id.
func (s *Store) Update(id string, fn func(*task.Execution)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			fn(rec)
			return nil
		}
	}
	return fmt.Errorf("update execution %s: %w", id, task.ErrExecutionNotFound)
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (*task.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec.Clone(), nil
		}
	}
	return nil, fmt.Errorf("get execution %s: %w", id, task.ErrExecutionNotFound)
}

// Len reports how many records are retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Query narrows, sorts and paginates history listings. Zero values match
// everything; SortBy defaults to start_time descending; PageSize defaults
// to 50.
type Query struct {
	TaskID   string
	Status   task.Status
	Type     task.Type
	Platform task.Platform
	From     time.Time
	To       time.Time
	SortBy   string // start_time, end_time, duration, task_name, status
	SortAsc  bool
	Page     int
	PageSize int
}

// Page is one page of query results.
type Page struct {
	Records  []*task.Execution `json:"records"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func (q Query) matches(rec *task.Execution) bool {
	if q.TaskID != "" && rec.TaskID != q.TaskID {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	if q.Type != "" && rec.TaskType != q.Type {
		return false
	}
	if q.Platform != "" && !slices.Contains(rec.Platforms, q.Platform) {
		return false
	}
	if !q.From.IsZero() && rec.StartTime.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && rec.StartTime.After(q.To) {
		return false
	}
	return true
}

// List returns a page of matching records.
func (s *Store) List(q Query) Page {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 50
	}

	s.mu.RLock()
	matched := make([]*task.Execution, 0, len(s.records))
	for _, rec := range s.records {
		if q.matches(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, q.SortBy, q.SortAsc)

	page := Page{Total: len(matched), Page: q.Page, PageSize: q.PageSize}
	start := (q.Page - 1) * q.PageSize
	if start < len(matched) {
		end := min(start+q.PageSize, len(matched))
		page.Records = matched[start:end]
	}
	return page
}

func sortRecords(records []*task.Execution, by string, asc bool) {
	less := func(a, b *task.Execution) bool {
		switch by {
		case "end_time":
			at, bt := time.Time{}, time.Time{}
			if a.EndTime != nil {
				at = *a.EndTime
			}
			if b.EndTime != nil {
				bt = *b.EndTime
			}
			return at.Before(bt)
		case "duration":
			return a.Duration < b.Duration
		case "task_name":
			return a.TaskName < b.TaskName
		case "status":
			return a.Status < b.Status
		default:
			return a.StartTime.Before(b.StartTime)
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if asc {
			return less(records[i], records[j])
		}
		return less(records[j], records[i])
	})
}

// TaskHistory returns a task's executions, newest first, capped at limit
// (0 means all).
func (s *Store) TaskHistory(taskID string, limit int) []*task.Execution {
	s.mu.RLock()
	out := make([]*task.Execution, 0)
	for _, rec := range s.records {
		if rec.TaskID == taskID {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sortRecords(out, "start_time", false)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Latest returns the most recent execution of a task, or nil.
func (s *Store) Latest(taskID string) *task.Execution {
	recs := s.TaskHistory(taskID, 1)
	if len(recs) == 0 {
		return nil
	}
	return recs[0]
}

// Bucket is a total/success/failed triple used by several breakdowns.
type Bucket struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

func (b *Bucket) add(status task.Status) {
	b.Total++
	switch status {
	case task.StatusCompleted:
		b.Success++
	case task.StatusFailed:
		b.Failed++
	}
}

// Statistics aggregates execution outcomes.
type Statistics struct {
	Total           int               `json:"total"`
	Success         int               `json:"success"`
	Failed          int               `json:"failed"`
	Running         int               `json:"running"`
	Cancelled       int               `json:"cancelled"`
	SuccessRate     float64           `json:"success_rate"`
	ErrorRate       float64           `json:"error_rate"`
	TotalDuration   time.Duration     `json:"total_duration"`
	AverageDuration time.Duration     `json:"average_duration"`
	ByType          map[string]Bucket `json:"by_type"`
	ByPlatform      map[string]Bucket `json:"by_platform"`
	ByDay           map[string]Bucket `json:"by_day"`
	ByHour          map[int]Bucket    `json:"by_hour"`
}

// Statistics computes aggregates over records matching taskID (empty for
// all) and the optional time window.
func (s *Store) Statistics(taskID string, from, to time.Time) Statistics {
	q := Query{TaskID: taskID, From: from, To: to}

	s.mu.RLock()
	var records []*task.Execution
	for _, rec := range s.records {
		if q.matches(rec) {
			records = append(records, rec)
		}
	}

	stats := Statistics{
		ByType:     make(map[string]Bucket),
		ByPlatform: make(map[string]Bucket),
		ByDay:      make(map[string]Bucket),
		ByHour:     make(map[int]Bucket),
	}

	var completedWithDuration int
	for _, rec := range records {
		stats.Total++
		switch rec.Status {
		case task.StatusCompleted:
			stats.Success++
		case task.StatusFailed:
			stats.Failed++
		case task.StatusRunning:
			stats.Running++
		case task.StatusCancelled:
			stats.Cancelled++
		}
		if rec.Status == task.StatusCompleted && rec.Duration > 0 {
			stats.TotalDuration += rec.Duration
			completedWithDuration++
		}

		typ := string(rec.TaskType)
		if typ == "" {
			typ = "unknown"
		}
		b := stats.ByType[typ]
		b.add(rec.Status)
		stats.ByType[typ] = b

		for _, platform := range rec.Platforms {
			b := stats.ByPlatform[string(platform)]
			b.add(rec.Status)
			stats.ByPlatform[string(platform)] = b
		}

		day := rec.StartTime.Format("2006-01-02")
		db := stats.ByDay[day]
		db.add(rec.Status)
		stats.ByDay[day] = db

		hb := stats.ByHour[rec.StartTime.Hour()]
		hb.add(rec.Status)
		stats.ByHour[rec.StartTime.Hour()] = hb
	}
	s.mu.RUnlock()

	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Success) / float64(stats.Total) * 100
		stats.ErrorRate = float64(stats.Failed) / float64(stats.Total) * 100
	}
	if completedWithDuration > 0 {
		stats.AverageDuration = stats.TotalDuration / time.Duration(completedWithDuration)
	}
	return stats
}

// TrendPoint is one day of the execution trend.
type TrendPoint struct {
	Date            string        `json:"date"`
	Total           int           `json:"total"`
	Success         int           `json:"success"`
	Failed          int           `json:"failed"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Trend buckets the last N days per day, zero-filling days with no
// executions so the series is always N points long.
func (s *Store) Trend(taskID string, days int) []TrendPoint {
	if days <= 0 {
		days = 7
	}
	now := s.clock()
	start := now.AddDate(0, 0, -(days - 1))
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

	type agg struct {
		point     TrendPoint
		durations time.Duration
		counted   int
	}
	buckets := make(map[string]*agg, days)
	points := make([]TrendPoint, 0, days)
	for i := 0; i < days; i++ {
		date := startDay.AddDate(0, 0, i).Format("2006-01-02")
		buckets[date] = &agg{point: TrendPoint{Date: date}}
		points = append(points, TrendPoint{Date: date})
	}

	s.mu.RLock()
	for _, rec := range s.records {
		if taskID != "" && rec.TaskID != taskID {
			continue
		}
		date := rec.StartTime.Format("2006-01-02")
		bucket, ok := buckets[date]
		if !ok {
			continue
		}
		bucket.point.Total++
		switch rec.Status {
		case task.StatusCompleted:
			bucket.point.Success++
		case task.StatusFailed:
			bucket.point.Failed++
		}
		if rec.Duration > 0 {
			bucket.durations += rec.Duration
			bucket.counted++
		}
	}
	s.mu.RUnlock()

	for i := range points {
		bucket := buckets[points[i].Date]
		if bucket.counted > 0 {
			bucket.point.AverageDuration = bucket.durations / time.Duration(bucket.counted)
		}
		points[i] = bucket.point
	}
	return points
}

// Cleanup drops records older than the given number of days and reports
// how many were removed and how many remain.
func (s *Store) Cleanup(olderThanDays int) (removed, remaining int) {
	cutoff := s.clock().AddDate(0, 0, -olderThanDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, rec := range s.records {
		if !rec.StartTime.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	removed = len(s.records) - len(kept)
	s.records = kept
	return removed, len(kept)
}

// Export serializes the matching records. Supported formats are "json" and
// "csv" ("excel" is served as CSV).
func (s *Store) Export(format string, q Query) ([]byte, error) {
	if q.PageSize <= 0 {
		q.PageSize = s.capacity
	}
	records := s.List(q).Records

	switch strings.ToLower(format) {
	case "json":
		return json.MarshalIndent(records, "", "  ")
	case "csv", "excel":
		return exportCSV(records)
	default:
		return nil, &task.UnsupportedFormatError{Format: format}
	}
}

func exportCSV(records []*task.Execution) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "task_id", "task_name", "task_type", "start_time", "end_time", "status", "duration", "result", "error"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, rec := range records {
		endTime := ""
		if rec.EndTime != nil {
			endTime = rec.EndTime.Format(time.RFC3339)
		}
		result := ""
		if rec.Result != nil {
			raw, err := json.Marshal(rec.Result)
			if err != nil {
				return nil, fmt.Errorf("marshal result of %s: %w", rec.ID, err)
			}
			result = string(raw)
		}
		row := []string{
			rec.ID,
			rec.TaskID,
			rec.TaskName,
			string(rec.TaskType),
			rec.StartTime.Format(time.RFC3339),
			endTime,
			string(rec.Status),
			rec.Duration.String(),
			result,
			rec.Error,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Search matches records whose text fields contain every space-separated
// term of the query, case-insensitively, then applies the filter.
func (s *Store) Search(query string, q Query) []*task.Execution {
	terms := strings.Fields(strings.ToLower(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*task.Execution
	for _, rec := range s.records {
		if !q.matches(rec) {
			continue
		}
		if matchesTerms(rec, terms) {
			out = append(out, rec.Clone())
		}
	}
	return out
}

func matchesTerms(rec *task.Execution, terms []string) bool {
	var sb strings.Builder
	sb.WriteString(rec.TaskName)
	sb.WriteByte(' ')
	sb.WriteString(string(rec.TaskType))
	sb.WriteByte(' ')
	sb.WriteString(rec.Error)
	if rec.Result != nil {
		if raw, err := json.Marshal(rec.Result); err == nil {
			sb.WriteByte(' ')
			sb.Write(raw)
		}
	}
	for _, log := range rec.Logs {
		sb.WriteByte(' ')
		sb.WriteString(log.Message)
	}
	haystack := strings.ToLower(sb.String())
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

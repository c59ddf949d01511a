package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// Simulated runners stand in for the real platform integrations. They
// sleep to model work, report progress and produce plausible result
// payloads. Production deployments replace them via RegisterRunner.

func registerSimulatedRunners(s *Scheduler) {
	s.runners[task.TypePublish] = &PublishRunner{StepDelay: 2 * time.Second}
	s.runners[task.TypeAnalysis] = &AnalysisRunner{Delay: 5 * time.Second}
	s.runners[task.TypeMonitor] = &MonitorRunner{Delay: 3 * time.Second}
	s.runners[task.TypeSync] = &SyncRunner{Delay: 8 * time.Second}
	s.runners[task.TypeMaintenance] = &MaintenanceRunner{Delay: 6 * time.Second}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PublishRunner simulates publishing to each configured platform in turn.
type PublishRunner struct {
	StepDelay time.Duration
}

// PlatformResult is the per-platform outcome of a publish run.
type PlatformResult struct {
	Platform task.Platform `json:"platform"`
	Success  bool          `json:"success"`
	PostID   string        `json:"post_id,omitempty"`
	URL      string        `json:"url,omitempty"`
}

// PublishResult aggregates a publish run across platforms.
type PublishResult struct {
	TotalPlatforms int              `json:"total_platforms"`
	SuccessCount   int              `json:"success_count"`
	FailedCount    int              `json:"failed_count"`
	Results        []PlatformResult `json:"results"`
}

func (p *PublishRunner) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	r.Log("starting publish run")

	result := PublishResult{TotalPlatforms: len(t.Platforms)}
	for i, platform := range t.Platforms {
		r.Log(fmt.Sprintf("publishing to %s", platform))
		if err := sleepCtx(ctx, p.StepDelay); err != nil {
			return nil, err
		}

		pr := PlatformResult{Platform: platform, Success: rand.Float64() > 0.2}
		if pr.Success {
			pr.PostID = "post_" + uuid.NewString()
			pr.URL = fmt.Sprintf("https://%s.com/post/%s", platform, pr.PostID)
			result.SuccessCount++
		} else {
			result.FailedCount++
		}
		result.Results = append(result.Results, pr)
		r.Log(fmt.Sprintf("publish to %s: success=%t", platform, pr.Success))
		r.SetProgress((i + 1) * 100 / len(t.Platforms))
	}

	r.Log(fmt.Sprintf("publish run finished, %d/%d succeeded", result.SuccessCount, result.TotalPlatforms))
	if result.SuccessCount == 0 && result.TotalPlatforms > 0 {
		return nil, fmt.Errorf("publish failed on all %d platforms", result.TotalPlatforms)
	}
	return result, nil
}

// AnalysisRunner simulates building an analytics report.
type AnalysisRunner struct {
	Delay time.Duration
}

func (a *AnalysisRunner) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	r.Log("starting analysis run")
	if err := sleepCtx(ctx, a.Delay); err != nil {
		return nil, err
	}

	result := map[string]any{
		"analysis_date": time.Now().Format(time.RFC3339),
		"platforms":     t.Platforms,
		"metrics": map[string]any{
			"total_posts":         rand.Intn(1000) + 100,
			"total_engagement":    rand.Intn(50000) + 5000,
			"avg_engagement_rate": rand.Float64()*10 + 2,
		},
	}
	r.SetProgress(100)
	r.Log("analysis run finished")
	return result, nil
}

// MonitorRunner simulates an account health check.
type MonitorRunner struct {
	Delay time.Duration
}

func (m *MonitorRunner) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	r.Log("starting monitor run")
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}

	var alerts []map[string]string
	if rand.Float64() > 0.7 {
		alerts = append(alerts, map[string]string{
			"type":     "engagement_drop",
			"message":  "engagement rate dropped below threshold",
			"severity": "warning",
		})
	}
	result := map[string]any{
		"check_time": time.Now().Format(time.RFC3339),
		"platforms":  t.Platforms,
		"alerts":     alerts,
		"metrics": map[string]any{
			"followers":  rand.Intn(10000) + 1000,
			"engagement": rand.Float64()*5 + 1,
			"health":     "good",
		},
	}
	r.SetProgress(100)
	r.Log(fmt.Sprintf("monitor run finished, %d alerts", len(alerts)))
	return result, nil
}

// SyncRunner simulates pulling platform data into local storage.
type SyncRunner struct {
	Delay time.Duration
}

func (sr *SyncRunner) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	r.Log("starting sync run")
	if err := sleepCtx(ctx, sr.Delay); err != nil {
		return nil, err
	}

	result := map[string]any{
		"sync_time": time.Now().Format(time.RFC3339),
		"platforms": t.Platforms,
		"records": map[string]int{
			"synced":     rand.Intn(500) + 100,
			"failed":     rand.Intn(10),
			"duplicates": rand.Intn(20),
		},
	}
	r.SetProgress(100)
	r.Log("sync run finished")
	return result, nil
}

// MaintenanceRunner simulates cleanup and optimization work.
type MaintenanceRunner struct {
	Delay time.Duration
}

func (m *MaintenanceRunner) Run(ctx context.Context, t *task.Task, r Reporter) (any, error) {
	r.Log("starting maintenance run")
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}

	result := map[string]any{
		"maintenance_time": time.Now().Format(time.RFC3339),
		"operations": []map[string]any{
			{"type": "cleanup", "files_removed": rand.Intn(100) + 50},
			{"type": "optimize", "tables_optimized": rand.Intn(10) + 5},
		},
	}
	r.SetProgress(100)
	r.Log("maintenance run finished")
	return result, nil
}

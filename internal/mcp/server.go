// Package mcp exposes the scheduler to AI assistants over the Model
// Context Protocol.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mengguiyouziyi/social-auto-upload/internal/engine"
	"github.com/mengguiyouziyi/social-auto-upload/internal/history"
	"github.com/mengguiyouziyi/social-auto-upload/internal/monitor"
	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// MCPServer handles MCP protocol communication for the scheduler.
type MCPServer struct {
	scheduler *engine.Scheduler
	history   *history.Store
	monitor   *monitor.Monitor
	logger    *slog.Logger
	inner     *server.MCPServer
	http      http.Handler
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(scheduler *engine.Scheduler, hist *history.Store, mon *monitor.Monitor, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		scheduler: scheduler,
		history:   hist,
		monitor:   mon,
		logger:    logger,
	}

	s.inner = server.NewMCPServer(
		"social-auto-upload",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	s.http = server.NewStreamableHTTPServer(s.inner)
	return s
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.inner)
}

// ServeHTTP lets the MCP server be mounted on the HTTP router.
func (s *MCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

func (s *MCPServer) registerTools() {
	s.inner.AddTool(mcp.NewTool("sau_create_task",
		mcp.WithDescription("创建一个发布/分析/监控/同步/维护任务"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("任务名称（2-50 个字符）"),
		),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("任务描述"),
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("任务类型"),
			mcp.Enum("publish", "analysis", "monitor", "sync", "maintenance"),
		),
		mcp.WithString("platforms",
			mcp.Required(),
			mcp.Description("目标平台，逗号分隔，例如: 'douyin,bilibili'"),
		),
		mcp.WithString("cron",
			mcp.Description("5 字段 cron 表达式（分 时 日 月 周），留空表示立即执行"),
		),
	), s.handleCreateTask)

	s.inner.AddTool(mcp.NewTool("sau_list_tasks",
		mcp.WithDescription("列出所有任务"),
		mcp.WithString("status",
			mcp.Description("过滤状态"),
			mcp.Enum("pending", "running", "completed", "failed", "paused"),
		),
	), s.handleListTasks)

	s.inner.AddTool(mcp.NewTool("sau_get_task",
		mcp.WithDescription("获取任务详情"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("任务 ID"),
		),
	), s.handleGetTask)

	s.inner.AddTool(mcp.NewTool("sau_run_task",
		mcp.WithDescription("立即执行指定任务并等待结果"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("任务 ID"),
		),
	), s.handleRunTask)

	s.inner.AddTool(mcp.NewTool("sau_stop_task",
		mcp.WithDescription("停止正在运行的任务"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("任务 ID"),
		),
	), s.handleStopTask)

	s.inner.AddTool(mcp.NewTool("sau_task_history",
		mcp.WithDescription("查看任务的执行历史"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("任务 ID"),
		),
		mcp.WithNumber("limit",
			mcp.Description("返回的记录数量，默认 10"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleTaskHistory)

	s.inner.AddTool(mcp.NewTool("sau_system_health",
		mcp.WithDescription("查看系统健康状态和活跃告警"),
	), s.handleSystemHealth)

	s.logger.Info("MCP tools registered", "count", 7)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	platforms := []task.Platform{}
	for _, p := range strings.Split(mcp.ParseString(request, "platforms", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			platforms = append(platforms, task.Platform(p))
		}
	}

	spec := &task.Task{
		Name:        mcp.ParseString(request, "name", ""),
		Description: mcp.ParseString(request, "description", ""),
		Type:        task.Type(mcp.ParseString(request, "type", "")),
		Platforms:   platforms,
	}
	if cronExpr := mcp.ParseString(request, "cron", ""); cronExpr != "" {
		spec.Schedule = task.Schedule{Type: task.ScheduleCustom, Cron: cronExpr}
	}

	created, err := s.scheduler.AddTask(spec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("创建任务失败: %v", err)), nil
	}

	s.logger.Info("task created via mcp", "task_id", created.ID, "type", created.Type)

	return mcp.NewToolResultText(fmt.Sprintf("任务已创建\nID: %s\n类型: %s\n下次执行: %s",
		created.ID, created.Type, formatTime(created.NextRun))), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks := s.scheduler.Tasks(engine.Filter{
		Status: task.Status(mcp.ParseString(request, "status", "")),
	})
	if len(tasks) == 0 {
		return mcp.NewToolResultText("没有找到任务"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 个任务:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s\n", statusToIcon(t.Status), t.ID)
		fmt.Fprintf(&b, "  名称: %s\n", t.Name)
		fmt.Fprintf(&b, "  类型: %s  状态: %s\n", t.Type, t.Status)
		fmt.Fprintf(&b, "  平台: %s\n", joinPlatforms(t.Platforms))
		if t.NextRun != nil {
			fmt.Fprintf(&b, "  下次执行: %s\n", formatTime(t.NextRun))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	t, err := s.scheduler.GetTask(taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("任务不存在: %s", taskID)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "任务 ID: %s\n", t.ID)
	fmt.Fprintf(&b, "名称: %s\n", t.Name)
	fmt.Fprintf(&b, "描述: %s\n", t.Description)
	fmt.Fprintf(&b, "类型: %s\n", t.Type)
	fmt.Fprintf(&b, "状态: %s\n", t.Status)
	fmt.Fprintf(&b, "平台: %s\n", joinPlatforms(t.Platforms))
	fmt.Fprintf(&b, "运行次数: %d  失败次数: %d\n", t.RunCount, t.ErrorCount)
	if t.LastRun != nil {
		fmt.Fprintf(&b, "上次运行: %s\n", formatTime(t.LastRun))
	}
	if t.NextRun != nil {
		fmt.Fprintf(&b, "下次运行: %s\n", formatTime(t.NextRun))
	}
	if deps := s.scheduler.Graph().DependenciesOf(t.ID); len(deps) > 0 {
		fmt.Fprintf(&b, "依赖任务: %s\n", strings.Join(deps, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	result, err := s.scheduler.ExecuteTask(ctx, taskID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("执行任务失败: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("任务执行完成\n任务 ID: %s\n结果: %v", taskID, result)), nil
}

func (s *MCPServer) handleStopTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.scheduler.StopTask(taskID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("停止任务失败: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("任务已停止: %s", taskID)), nil
}

func (s *MCPServer) handleTaskHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 10))

	records := s.history.TaskHistory(taskID, limit)
	if len(records) == 0 {
		return mcp.NewToolResultText("该任务暂无执行记录"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条执行记录:\n\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(&b, "[%s] 执行 ID: %s\n", statusToIcon(rec.Status), rec.ID)
		fmt.Fprintf(&b, "    状态: %s\n", rec.Status)
		fmt.Fprintf(&b, "    开始: %s\n", rec.StartTime.Format("2006-01-02 15:04:05"))
		if rec.Duration > 0 {
			fmt.Fprintf(&b, "    耗时: %s\n", rec.Duration)
		}
		if rec.Error != "" {
			fmt.Fprintf(&b, "    错误: %s\n", rec.Error)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSystemHealth(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health := s.monitor.SystemHealth()
	alerts := s.monitor.Alerts(true)

	var b strings.Builder
	fmt.Fprintf(&b, "系统状态: %s\n\n", health.Overall)
	for name, check := range health.Checks {
		fmt.Fprintf(&b, "%s: %s (%.1f)\n", name, check.Status, check.Value)
	}
	fmt.Fprintf(&b, "\n活跃告警: %d\n", len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(&b, "  [%s] %s\n", a.Severity, a.Message)
	}
	return mcp.NewToolResultText(b.String()), nil
}

// Helper functions

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func joinPlatforms(platforms []task.Platform) string {
	parts := make([]string, len(platforms))
	for i, p := range platforms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}

func statusToIcon(status task.Status) string {
	switch status {
	case task.StatusCompleted:
		return "✅"
	case task.StatusFailed:
		return "❌"
	case task.StatusRunning:
		return "▶️"
	case task.StatusPaused:
		return "⏸️"
	case task.StatusCancelled:
		return "🚫"
	case task.StatusPending:
		return "⏳"
	default:
		return "❓"
	}
}

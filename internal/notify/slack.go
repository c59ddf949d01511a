package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
}

func slackColor(severity task.Severity) string {
	switch severity {
	case task.SeverityCritical, task.SeverityError:
		return "danger"
	case task.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}

func (s *SlackNotifier) Send(ctx context.Context, alert *task.Alert) error {
	payload, err := json.Marshal(map[string]any{
		"text": fmt.Sprintf("Task alert: %s", alert.RuleName),
		"attachments": []slackAttachment{{
			Color: slackColor(alert.Severity),
			Text:  alert.Message,
			Fields: []slackField{
				{Title: "Task", Value: alert.TaskName, Short: true},
				{Title: "Severity", Value: string(alert.Severity), Short: true},
				{Title: "Time", Value: alert.Timestamp.Format(time.RFC3339), Short: true},
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// BarkNotifier pushes alerts to an iOS device through a Bark server.
type BarkNotifier struct {
	serverURL string
	deviceKey string
	group     string
	client    *http.Client
}

func NewBarkNotifier(serverURL, deviceKey string) *BarkNotifier {
	return &BarkNotifier{
		serverURL: strings.TrimSuffix(serverURL, "/"),
		deviceKey: deviceKey,
		group:     "social-auto-upload",
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BarkNotifier) Name() string { return "bark" }

func (b *BarkNotifier) Send(ctx context.Context, alert *task.Alert) error {
	form := url.Values{}
	form.Set("title", fmt.Sprintf("[%s] %s", alert.Severity, alert.RuleName))
	form.Set("body", alert.Message)
	form.Set("group", b.group)

	endpoint := fmt.Sprintf("%s/%s", b.serverURL, b.deviceKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build bark request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send bark notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bark returned status %d", resp.StatusCode)
	}
	return nil
}

package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// EmailConfig holds the SMTP settings for the email channel.
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// EmailNotifier sends alerts over SMTP.
type EmailNotifier struct {
	cfg EmailConfig
}

func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &EmailNotifier{cfg: cfg}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Send(ctx context.Context, alert *task.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(e.cfg.Recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.RuleName)
	body := fmt.Sprintf("Task: %s\r\nSeverity: %s\r\nTime: %s\r\n\r\n%s\r\n",
		alert.TaskName, alert.Severity, alert.Timestamp.Format(time.RFC3339), alert.Message)

	msg := strings.Join([]string{
		"From: " + e.cfg.From,
		"To: " + strings.Join(e.cfg.Recipients, ", "),
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	if err := smtp.SendMail(addr, auth, e.cfg.From, e.cfg.Recipients, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

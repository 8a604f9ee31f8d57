// Package notify sends an operator-facing notification when a task
// permanently fails. It is an optional, best-effort addition to the core
// runtime — a Notifier failure is logged, never propagated.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/neofinancial/chrono/internal/chrono"
)

// Sender delivers a single notification message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender logs instead of sending — used in ENV=local.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, to, subject, body string) error {
	s.Logger.Info("task failure notification (local dev)", "to", to, "subject", subject, "body", body)
	return nil
}

// ResendSender sends notifications via the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, to, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: subject,
		Html:    body,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	return nil
}

// NewSender returns a LogSender when env is "local", a ResendSender
// otherwise.
func NewSender(env, apiKey, from string, logger *slog.Logger) Sender {
	if env == "local" {
		return &LogSender{Logger: logger}
	}
	return NewResendSender(apiKey, from)
}

// Notifier listens for task.failed events and relays them through a Sender.
// It is safe to construct with a nil Sender, in which case it does nothing —
// callers that have no operator address configured can skip wiring it up
// without special-casing the call site.
type Notifier struct {
	sender    Sender
	recipient string
	logger    *slog.Logger
}

func New(sender Sender, recipient string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, recipient: recipient, logger: logger.With("component", "notifier")}
}

// Attach subscribes to events.EventTaskFailed and returns the unsubscribe
// function so the caller can detach it during shutdown.
func (n *Notifier) Attach(events *chrono.Emitter) func() {
	return events.On(chrono.EventTaskFailed, func(payload any) {
		p, ok := payload.(chrono.EventTaskFailedPayload)
		if !ok {
			return
		}
		n.notify(p)
	})
}

func (n *Notifier) notify(p chrono.EventTaskFailedPayload) {
	if n == nil || n.sender == nil || n.recipient == "" {
		return
	}

	subject := fmt.Sprintf("chrono: task %s permanently failed", p.Task.ID)
	body := fmt.Sprintf(
		"Task %s (kind %q) exhausted its retries and was marked FAILED.\n\nLast error: %v\nRetry count: %d",
		p.Task.ID, p.Task.Kind, p.Err, p.Task.RetryCount,
	)

	// Notification delivery runs with its own background context: the
	// processor goroutine that emitted the event must not block on it.
	if err := n.sender.Send(context.Background(), n.recipient, subject, body); err != nil {
		n.logger.Error("notify: send failed", "task_id", p.Task.ID, "error", err)
	}
}

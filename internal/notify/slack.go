package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/MinaFoundation/uptime-service-validation/internal/metrics"
	"github.com/MinaFoundation/uptime-service-validation/utils/pkg/retry"
)

// SlackSinkConfig configures the Slack webhook sink.
type SlackSinkConfig struct {
	Logger     *slog.Logger
	WebhookURL string

	// Channel optionally overrides the webhook's default channel.
	Channel string

	// Retry bounds delivery retries. Defaults to retry.DefaultConfig.
	Retry retry.Config

	// post is swapped in tests.
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

func (cfg *SlackSinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.WebhookURL == "" {
		return errors.New("webhook URL is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.post == nil {
		cfg.post = slack.PostWebhookContext
	}
	return nil
}

// SlackSink posts run summaries and escalations to a Slack incoming webhook.
type SlackSink struct {
	log *slog.Logger
	cfg SlackSinkConfig
}

func NewSlackSink(cfg SlackSinkConfig) (*SlackSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackSink{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

func (s *SlackSink) Send(ctx context.Context, epoch uint64, records []Record) error {
	paid, underpaid, overpaid := tally(records)

	color := "good"
	if underpaid > 0 {
		color = "danger"
	}

	attachment := slack.Attachment{
		Color: color,
		Title: fmt.Sprintf("Delegation payout validation: epoch %d", epoch),
		Text: fmt.Sprintf("%d producers evaluated: %d paid, %d underpaid, %d overpaid",
			len(records), paid, underpaid, overpaid),
	}
	if detail := underpaidDetail(records); detail != "" {
		attachment.Fields = []slack.AttachmentField{{Title: "Underpaid", Value: detail}}
	}

	msg := &slack.WebhookMessage{
		Channel:     s.cfg.Channel,
		Attachments: []slack.Attachment{attachment},
	}
	return s.deliver(ctx, msg)
}

func (s *SlackSink) Fatal(ctx context.Context, message string) error {
	msg := &slack.WebhookMessage{
		Channel: s.cfg.Channel,
		Attachments: []slack.Attachment{{
			Color: "danger",
			Title: "Delegation payout validation needs attention",
			Text:  message,
		}},
	}
	return s.deliver(ctx, msg)
}

func (s *SlackSink) deliver(ctx context.Context, msg *slack.WebhookMessage) error {
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		return s.cfg.post(ctx, s.cfg.WebhookURL, msg)
	})
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("slack", "error").Inc()
		return fmt.Errorf("failed to post slack webhook: %w", err)
	}
	metrics.NotificationsTotal.WithLabelValues("slack", "ok").Inc()
	return nil
}

// underpaidDetail lists underpaid producers, truncated so the message stays
// readable when many producers miss a deadline at once.
func underpaidDetail(records []Record) string {
	const maxLines = 20

	var lines []string
	for _, r := range records {
		if r.Status != StatusUnderpaid {
			continue
		}
		lines = append(lines, fmt.Sprintf("`%s` owes %s MINA, credited %s, deadline %s",
			r.ProducerKey, FormatMina(r.Required), FormatMina(r.Credited),
			r.Deadline.UTC().Format(time.RFC3339)))
	}
	if len(lines) > maxLines {
		omitted := len(lines) - maxLines
		lines = append(lines[:maxLines], fmt.Sprintf("and %d more", omitted))
	}
	return strings.Join(lines, "\n")
}

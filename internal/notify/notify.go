// Package notify reports validation outcomes to operators. Sinks are
// advisory: a delivery failure is logged and never fails a validation run.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Status classifies a producer's payout outcome for one epoch.
type Status string

const (
	StatusPaid      Status = "paid"
	StatusUnderpaid Status = "underpaid"
	StatusOverpaid  Status = "overpaid"
)

// StatusOf derives the outcome status from required and credited amounts.
// Surplus is reported as overpaid; it carries forward one epoch.
func StatusOf(required, credited uint64) Status {
	switch {
	case credited < required:
		return StatusUnderpaid
	case credited > required:
		return StatusOverpaid
	default:
		return StatusPaid
	}
}

// Record is one producer's payout outcome for one epoch.
type Record struct {
	ProducerKey string
	Epoch       uint64
	Required    uint64 // nanomina
	Credited    uint64 // nanomina
	Deadline    time.Time
	Status      Status
}

// Sink delivers run outcomes and fatal escalations.
type Sink interface {
	// Send delivers the outcome records of one validation pass.
	Send(ctx context.Context, epoch uint64, records []Record) error
	// Fatal delivers an escalation that needs operator attention now.
	Fatal(ctx context.Context, message string) error
}

// Multi fans out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, epoch uint64, records []Record) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Send(ctx, epoch, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Fatal(ctx context.Context, message string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Fatal(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes outcomes to the structured log. Always configured, so every
// deployment has at least one delivery channel.
type LogSink struct {
	Logger *slog.Logger
}

func NewLogSink(log *slog.Logger) (*LogSink, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &LogSink{Logger: log}, nil
}

func (l *LogSink) Send(_ context.Context, epoch uint64, records []Record) error {
	paid, underpaid, overpaid := tally(records)
	l.Logger.Info("notify: validation pass outcomes",
		"epoch", epoch, "producers", len(records),
		"paid", paid, "underpaid", underpaid, "overpaid", overpaid)

	for _, r := range records {
		if r.Status != StatusUnderpaid {
			continue
		}
		l.Logger.Warn("notify: producer underpaid",
			"epoch", epoch,
			"producer", r.ProducerKey,
			"required", FormatMina(r.Required),
			"credited", FormatMina(r.Credited),
			"deadline", r.Deadline.UTC().Format(time.RFC3339))
	}
	return nil
}

func (l *LogSink) Fatal(_ context.Context, message string) error {
	l.Logger.Error("notify: fatal escalation", "message", message)
	return nil
}

func tally(records []Record) (paid, underpaid, overpaid int) {
	for _, r := range records {
		switch r.Status {
		case StatusUnderpaid:
			underpaid++
		case StatusOverpaid:
			overpaid++
		default:
			paid++
		}
	}
	return paid, underpaid, overpaid
}

// FormatMina renders a nanomina amount as a decimal MINA string.
func FormatMina(nanomina uint64) string {
	return fmt.Sprintf("%d.%09d", nanomina/1_000_000_000, nanomina%1_000_000_000)
}

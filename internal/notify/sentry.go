package notify

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/MinaFoundation/uptime-service-validation/internal/metrics"
)

// SentrySink forwards fatal escalations to Sentry. Routine pass outcomes
// are not error conditions and are not reported.
type SentrySink struct {
	hub *sentry.Hub
}

// NewSentrySink initializes Sentry with the given DSN and returns a sink
// bound to the current hub.
func NewSentrySink(dsn, release string) (*SentrySink, error) {
	if dsn == "" {
		return nil, errors.New("sentry DSN is required")
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:     dsn,
		Release: release,
	}); err != nil {
		return nil, err
	}
	return &SentrySink{hub: sentry.CurrentHub()}, nil
}

func (s *SentrySink) Send(_ context.Context, epoch uint64, records []Record) error {
	return nil
}

func (s *SentrySink) Fatal(_ context.Context, message string) error {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		s.hub.CaptureMessage(message)
	})
	if !s.hub.Flush(5 * time.Second) {
		metrics.NotificationsTotal.WithLabelValues("sentry", "error").Inc()
		return errors.New("sentry flush timed out")
	}
	metrics.NotificationsTotal.WithLabelValues("sentry", "ok").Inc()
	return nil
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify.log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.logger.Info("notification",
		"id", n.ID,
		"event", n.Event,
		"proposal_id", n.ProposalID,
		"title", n.Title,
		"recipients", len(n.Recipients),
	)
	return nil
}

type notificationWriter interface {
	InsertNotification(ctx context.Context, n Notification) error
}

// StoreSink hands the full recipient list to the notification store.
type StoreSink struct {
	writer notificationWriter
}

func NewStoreSink(writer notificationWriter) *StoreSink {
	return &StoreSink{writer: writer}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(ctx context.Context, n Notification) error {
	if err := s.writer.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

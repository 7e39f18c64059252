// Package alert delivers audit alerts to operators.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"trustcore/internal/audit"
)

// LogAlerter writes alerts to the structured log at error level.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, alert audit.Alert) error {
	a.logger.ErrorContext(ctx, "operator alert",
		"log_type", "alert",
		"kind", alert.Kind,
		"message", alert.Message,
		"mismatch_count", len(alert.Mismatches),
	)
	return nil
}

// Producer is the subset of the Kafka producer used here.
type Producer interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaAlerter publishes alerts as JSON records keyed by alert kind.
type KafkaAlerter struct {
	producer Producer
}

func NewKafkaAlerter(producer Producer) *KafkaAlerter {
	return &KafkaAlerter{producer: producer}
}

func (a *KafkaAlerter) Alert(ctx context.Context, alert audit.Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return a.producer.Publish(ctx, alert.Kind, value)
}

// Fanout delivers to every alerter and joins their errors.
type Fanout []audit.Alerter

func (f Fanout) Alert(ctx context.Context, alert audit.Alert) error {
	var errs []error
	for _, a := range f {
		if err := a.Alert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/interviewflow/pkg/events"
	"github.com/harunnryd/interviewflow/pkg/redact"
)

// LoggerObserver writes every session event to a structured logger.
type LoggerObserver struct {
	log   *slog.Logger
	level slog.Level
}

func NewLoggerObserver(log *slog.Logger, level slog.Level) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LoggerObserver{log: log, level: level}
}

func (o *LoggerObserver) RecordEvent(ev events.Event) {
	attrs := []slog.Attr{
		slog.String("kind", string(ev.Kind)),
		slog.String("session_id", ev.SessionID),
	}
	if ev.Value != 0 {
		attrs = append(attrs, slog.Float64("value", ev.Value))
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range redact.Fields(ev.Fields) {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), o.level, "session_event", attrs...)
}

type MultiObserver struct {
	list []events.Observer
}

func NewMultiObserver(list ...events.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev events.Event) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}

var (
	_ events.Observer = (*LoggerObserver)(nil)
	_ events.Observer = (*MultiObserver)(nil)
)

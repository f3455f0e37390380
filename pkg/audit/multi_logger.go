package audit

import (
	"context"
	"errors"
)

// MultiLogger fans every event out to several loggers in order. A failing
// destination does not stop the others; all failures are joined.
type MultiLogger struct {
	sink
	loggers []Logger
}

func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{loggers: loggers}
	m.sink = sink{log: m.Log}
	return m
}

func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) Close() error {
	var errs []error
	for _, l := range m.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

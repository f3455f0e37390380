package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// WriterLogger writes one JSON object per event to an io.Writer
type WriterLogger struct {
	sink
	mu  sync.Mutex
	out io.Writer
	enc *json.Encoder
}

func NewWriterLogger(out io.Writer) *WriterLogger {
	l := &WriterLogger{out: out, enc: json.NewEncoder(out)}
	l.sink = sink{log: l.Log}
	return l
}

func (l *WriterLogger) Log(_ context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close closes out when it is an io.Closer other than stdout or stderr
func (l *WriterLogger) Close() error {
	c, ok := l.out.(io.Closer)
	if !ok || isStdStream(l.out) {
		return nil
	}
	return c.Close()
}

func isStdStream(w any) bool {
	f, ok := w.(*os.File)
	return ok && (f == os.Stdout || f == os.Stderr)
}

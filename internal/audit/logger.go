package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the append-only, line-delimited JSON audit sink (spec §4.12).
// Writes are buffered on a channel and flushed by a background goroutine so
// that emitting an audit record never blocks the request pipeline.
type Logger struct {
	config  Config
	output  io.WriteCloser
	slogger *slog.Logger
	buffer  chan *Event
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewLogger creates a new audit logger with the given configuration.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	if config.SampleRate == 0 {
		config.SampleRate = 1.0
	}
	if config.BufferSize == 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxFieldSize == 0 {
		config.MaxFieldSize = 1024
	}

	var output io.WriteCloser
	switch {
	case config.Output == "stdout" || config.Output == "":
		output = os.Stdout
	case config.Output == "stderr":
		output = os.Stderr
	case strings.HasPrefix(config.Output, "file:"):
		path := strings.TrimPrefix(config.Output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("audit: open output file: %w", err)
		}
		output = f
	default:
		return nil, fmt.Errorf("audit: unsupported output %q", config.Output)
	}

	l := &Logger{
		config: config,
		output: output,
		buffer: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}
	l.slogger = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: l.slogLevel()})).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()

	return l, nil
}

// Close flushes remaining events and closes the output.
func (l *Logger) Close() error {
	if !l.config.Enabled {
		return nil
	}
	close(l.done)
	l.wg.Wait()
	if l.output != os.Stdout && l.output != os.Stderr {
		return l.output.Close()
	}
	return nil
}

// Log writes an audit event. Per spec §7 every terminal path produces
// exactly one record; SampleRate defaults to 1.0 and exists only as a
// buffer-pressure escape hatch, not a supported way to drop records.
func (l *Logger) Log(ctx context.Context, event Event) {
	if !l.config.Enabled {
		return
	}
	if l.config.SampleRate < 1.0 && rand.Float64() > l.config.SampleRate {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}

	ev := &event
	select {
	case l.buffer <- ev:
	default:
		// Buffer full: write synchronously rather than drop the record.
		l.writeEvent(ev)
	}
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-ticker.C:
			l.flushBuffer()
		case <-l.done:
			l.flushBuffer()
			return
		}
	}
}

func (l *Logger) flushBuffer() {
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		default:
			return
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.TaskID != "" {
		attrs = append(attrs, "task_id", event.TaskID)
	}
	if event.PolicyAction != "" {
		attrs = append(attrs, "policy_action", event.PolicyAction)
	}
	if event.PolicySource != "" {
		attrs = append(attrs, "policy_source", event.PolicySource)
	}
	if event.AdminChatID != "" {
		attrs = append(attrs, "admin_chat_id", event.AdminChatID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	if l.config.IncludeArguments {
		for k, v := range event.Details {
			if b, err := json.Marshal(v); err == nil {
				attrs = append(attrs, k, string(b))
			}
		}
	} else if len(event.Details) > 0 {
		attrs = append(attrs, "details_keys", detailsKeys(event.Details))
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}
}

func detailsKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func (l *Logger) slogLevel() slog.Level {
	switch l.config.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TailFile reads the last n line-delimited JSON records from a "file:"-
// backed audit output, for the approval channel's "recent-audit" admin
// command. It is tolerant of a missing file (returns no rows).
func TailFile(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Package audit delivers append-only event notifications emitted by the
// engine after each committed mutation.
//
// Delivery is best effort: the domain transaction has already committed by
// the time a sink sees the event, and a sink failure never rolls it back.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

// Event names.
const (
	EventConfigInitialized     = "config_initialized"
	EventPositionCreated       = "position_created"
	EventPositionUpdated       = "position_updated"
	EventDecisionCreated       = "decision_created"
	EventHumanApprovalRequired = "human_approval_required"
	EventHumanApprovalGranted  = "human_approval_granted"
	EventRebalanced            = "rebalanced"
	EventFeesAccrued           = "fees_accrued"
	EventFeesCollected         = "fees_collected"
)

// Sink receives audit events.
type Sink interface {
	Record(ctx context.Context, e model.AuditEvent) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(context.Context, model.AuditEvent) error { return nil }

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs through logger (slog.Default if nil).
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e model.AuditEvent) error {
	attrs := []any{
		"event_id", e.ID,
		"principal", e.Principal,
	}
	if e.Position != nil {
		attrs = append(attrs, "position", e.Position.String())
	}
	if e.Decision != nil {
		attrs = append(attrs, "decision", *e.Decision)
	}
	s.logger.InfoContext(ctx, "audit "+e.Name, attrs...)
	return nil
}

// FileSink appends events as JSON lines to a size-rotated file.
type FileSink struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// FileOptions control rotation of the audit file.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileSink opens (lazily) a rotating JSONL audit file at path.
func NewFileSink(path string, opts FileOptions) *FileSink {
	return &FileSink{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		},
	}
}

func (s *FileSink) Record(_ context.Context, e model.AuditEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.out.Close()
}

// Multi fans an event out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e model.AuditEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps events in memory. Used for testing.
type Memory struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (m *Memory) Record(_ context.Context, e model.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Names returns the recorded event names in order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.events))
	for i, e := range m.events {
		names[i] = e.Name
	}
	return names
}

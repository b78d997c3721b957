package logger

import (
	"fmt"
	"sort"
	"strings"
)

// Severity is the coarse level handed to a SinkFunc.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityError
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// SinkFunc receives fully formatted log lines.
type SinkFunc func(severity Severity, msg string)

// sinkLogger flattens structured entries into "msg key=value ..." strings and
// forwards them to a SinkFunc. Debug entries are dropped; the sink contract has
// no debug severity.
type sinkLogger struct {
	sink   SinkFunc
	fields []Field
}

// NewSinkLogger adapts a SinkFunc to Logger. A nil sink yields a no-op logger.
//
// Parameters:
//   - sink: Receives every info, warn and error entry
//
// Returns:
//   - A Logger forwarding to sink
func NewSinkLogger(sink SinkFunc) Logger {
	if sink == nil {
		return NewNopLogger()
	}

	return &sinkLogger{sink: sink}
}

func (s *sinkLogger) Debug(string, ...Field) {}

func (s *sinkLogger) Info(msg string, fields ...Field) {
	s.sink(SeverityInfo, s.format(msg, fields))
}

func (s *sinkLogger) Warn(msg string, fields ...Field) {
	s.sink(SeverityWarn, s.format(msg, fields))
}

func (s *sinkLogger) Error(msg string, fields ...Field) {
	s.sink(SeverityError, s.format(msg, fields))
}

func (s *sinkLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(s.fields)+len(fields))
	merged = append(merged, s.fields...)
	merged = append(merged, fields...)
	return &sinkLogger{sink: s.sink, fields: merged}
}

func (s *sinkLogger) Close() error { return nil }

func (s *sinkLogger) format(msg string, fields []Field) string {
	all := append(append([]Field{}, s.fields...), fields...)
	if len(all) == 0 {
		return msg
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })

	var b strings.Builder
	b.WriteString(msg)
	for _, f := range all {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}

	return b.String()
}

// nopLogger discards everything.
type nopLogger struct{}

// NewNopLogger returns a Logger that silently drops all entries.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field) {}
func (nopLogger) Warn(string, ...Field) {}
func (nopLogger) Error(string, ...Field) {}

func (n nopLogger) With(...Field) Logger { return n }

func (nopLogger) Close() error { return nil }

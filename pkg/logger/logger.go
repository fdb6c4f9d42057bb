// Package logger provides structured logging capabilities for the Device
// Sentinel agent. It supports multiple log levels, JSON formatting, and
// trace-context extraction for correlating log lines with reconciliation
// cycles.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nexivo/sentinel/pkg/constants"
)

// ================================================================================
// Logger Interface
// ================================================================================

// Logger defines the interface for structured logging.
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, message string, fields ...Field)

	// Info logs an informational message
	Info(ctx context.Context, message string, fields ...Field)

	// Warn logs a warning message
	Warn(ctx context.Context, message string, fields ...Field)

	// Error logs an error message
	Error(ctx context.Context, message string, err error, fields ...Field)

	// WithFields creates a new logger with additional fields
	WithFields(fields ...Field) Logger

	// WithComponent creates a new logger for a specific component
	WithComponent(component string) Logger

	// SetLevel sets the logging level
	SetLevel(level constants.LogLevel)
}

// ================================================================================
// Field Type for Structured Logging
// ================================================================================

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field
func String(key string, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an integer field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a boolean field
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Error creates an error field
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Time creates a time field
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.Format(time.RFC3339)}
}

// Any creates a field with any type
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ================================================================================
// Logger Implementation
// ================================================================================

// logger is the default JSON implementation of the Logger interface.
type logger struct {
	level      constants.LogLevel
	output     io.Writer
	component  string
	baseFields []Field
}

// LogEntry represents a structured log entry.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// NewLogger creates a new Logger instance.
func NewLogger(level constants.LogLevel, output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}

	return &logger{
		level:      level,
		output:     output,
		baseFields: make([]Field, 0),
	}
}

// NewDefaultLogger creates a logger with default settings (stdout, Info level).
func NewDefaultLogger() Logger {
	return NewLogger(constants.LogLevelInfo, os.Stdout)
}

// Debug logs a debug message
func (l *logger) Debug(ctx context.Context, message string, fields ...Field) {
	if l.level > constants.LogLevelDebug {
		return
	}
	l.log(ctx, constants.LogLevelDebug, message, fields...)
}

// Info logs an informational message
func (l *logger) Info(ctx context.Context, message string, fields ...Field) {
	if l.level > constants.LogLevelInfo {
		return
	}
	l.log(ctx, constants.LogLevelInfo, message, fields...)
}

// Warn logs a warning message
func (l *logger) Warn(ctx context.Context, message string, fields ...Field) {
	if l.level > constants.LogLevelWarn {
		return
	}
	l.log(ctx, constants.LogLevelWarn, message, fields...)
}

// Error logs an error message
func (l *logger) Error(ctx context.Context, message string, err error, fields ...Field) {
	if l.level > constants.LogLevelError {
		return
	}

	if err != nil {
		fields = append(fields, Error(err))
	}

	l.log(ctx, constants.LogLevelError, message, fields...)
}

// WithFields creates a new logger with additional base fields.
func (l *logger) WithFields(fields ...Field) Logger {
	newLogger := &logger{
		level:      l.level,
		output:     l.output,
		component:  l.component,
		baseFields: make([]Field, len(l.baseFields)+len(fields)),
	}

	copy(newLogger.baseFields, l.baseFields)
	copy(newLogger.baseFields[len(l.baseFields):], fields)

	return newLogger
}

// WithComponent creates a new logger with a component name.
func (l *logger) WithComponent(component string) Logger {
	newLogger := &logger{
		level:      l.level,
		output:     l.output,
		component:  component,
		baseFields: make([]Field, len(l.baseFields)),
	}

	copy(newLogger.baseFields, l.baseFields)

	return newLogger
}

// SetLevel sets the logging level.
func (l *logger) SetLevel(level constants.LogLevel) {
	l.level = level
}

// log is the internal method that performs the actual logging.
func (l *logger) log(ctx context.Context, level constants.LogLevel, message string, fields ...Field) {
	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     levelToString(level),
		Component: l.component,
		Message:   message,
		Fields:    make(map[string]interface{}),
	}

	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			entry.TraceID = span.SpanContext().TraceID().String()
			entry.SpanID = span.SpanContext().SpanID().String()
		}

		if deviceID := ctx.Value(constants.ContextKeyDeviceID); deviceID != nil {
			entry.Fields["device_id"] = deviceID
		}
		if cycleID := ctx.Value(constants.ContextKeyCycleID); cycleID != nil {
			entry.Fields["cycle_id"] = cycleID
		}
	}

	if level >= constants.LogLevelError {
		entry.Caller = getCaller(3)
	}

	for _, field := range l.baseFields {
		entry.Fields[field.Key] = SanitizeValue(field.Key, field.Value)
	}

	for _, field := range fields {
		entry.Fields[field.Key] = SanitizeValue(field.Key, field.Value)
	}

	jsonData, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		// Fallback to plain text if JSON marshaling fails
		fmt.Fprintf(l.output, "[%s] %s: %s (marshal error: %v)\n",
			entry.Timestamp, entry.Level, message, marshalErr)
		return
	}

	fmt.Fprintln(l.output, string(jsonData))
}

// ================================================================================
// Utility Functions
// ================================================================================

// levelToString converts a log level to its string representation.
func levelToString(level constants.LogLevel) string {
	switch level {
	case constants.LogLevelDebug:
		return "DEBUG"
	case constants.LogLevelInfo:
		return "INFO"
	case constants.LogLevelWarn:
		return "WARN"
	case constants.LogLevelError:
		return "ERROR"
	case constants.LogLevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// getCaller returns the file and line number of the caller.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}

	parts := strings.Split(file, "/")
	if len(parts) > 0 {
		file = parts[len(parts)-1]
	}

	return fmt.Sprintf("%s:%d", file, line)
}

// SanitizeValue sanitizes sensitive field values. Device identifiers and
// unlock material must never land in cleartext logs.
func SanitizeValue(key string, value interface{}) interface{} {
	sensitiveKeys := []string{
		"imei",
		"serial",
		"android_id",
		"unlock_password",
		"pin",
		"api_key",
		"signature",
		"secret",
	}

	keyLower := strings.ToLower(key)
	for _, sensitiveKey := range sensitiveKeys {
		if strings.Contains(keyLower, sensitiveKey) {
			if str, ok := value.(string); ok && len(str) > 0 {
				return maskString(str)
			}
			return "***REDACTED***"
		}
	}

	return value
}

// maskString partially masks a string value.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}

	return s[:4] + "***" + s[len(s)-4:]
}

// ================================================================================
// Audit Logging
// ================================================================================

// AuditLogger is a specialized logger for the forensic incident trail. Every
// positive tamper detection and every lock transition is recorded here with
// its own severity, independent of any aggregation.
type AuditLogger struct {
	logger Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.WithComponent("audit"),
	}
}

// LogAuditEvent logs an audit event.
func (a *AuditLogger) LogAuditEvent(ctx context.Context, eventType constants.AuditEventType, severity constants.Severity, fields ...Field) {
	auditFields := append([]Field{
		String("event_type", string(eventType)),
		String("severity", severity.String()),
		Time("event_timestamp", time.Now().UTC()),
	}, fields...)

	a.logger.Info(ctx, "Audit event", auditFields...)
}

// LogTamperIncident records a single positive probe detection.
func (a *AuditLogger) LogTamperIncident(ctx context.Context, flag constants.TamperFlag, severity constants.Severity) {
	a.LogAuditEvent(ctx, constants.AuditEventTamperDetected, severity,
		String("tamper_flag", string(flag)),
	)
}

// LogLockTransition records a lock being applied, escalated or removed.
func (a *AuditLogger) LogLockTransition(ctx context.Context, eventType constants.AuditEventType, lockID string, lockType constants.LockType, reason constants.LockReason) {
	a.LogAuditEvent(ctx, eventType, constants.SeverityHigh,
		String("lock_id", lockID),
		String("lock_type", string(lockType)),
		String("lock_reason", string(reason)),
	)
}

// LogIdentityChange records a baseline mismatch on a monitored field.
func (a *AuditLogger) LogIdentityChange(ctx context.Context, field string, severity constants.Severity) {
	a.LogAuditEvent(ctx, constants.AuditEventIdentityChanged, severity,
		String("field", field),
	)
}

// LogCommandOutcome records the result of a queued command execution.
func (a *AuditLogger) LogCommandOutcome(ctx context.Context, commandID string, commandType constants.CommandType, result string) {
	a.LogAuditEvent(ctx, constants.AuditEventCommandExecuted, constants.SeverityMedium,
		String("command_id", commandID),
		String("command_type", string(commandType)),
		String("result", result),
	)
}

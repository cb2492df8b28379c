package log

import (
	"context"
	"time"
)

// Level is the severity of a record.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields holds the structured context of one record.
type Fields map[string]interface{}

// Keys shared by flobus components.
const (
	ComponentKey = "component"
	OperationKey = "operation"
	ChannelKey   = "channel"
	IDSeqKey     = "idseq_key"
)

// Entry is a record ready for a Formatter.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
	Caller    string
	Error     error
}

// Logger is the leveled, structured logger used across flobus.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs and exits the process.
	Fatal(msg string, fields ...Field)

	// With returns a child logger that adds fields to every record.
	With(fields ...Field) Logger
	// WithContext returns a child logger carrying the fields stored in ctx
	// by ContextWith.
	WithContext(ctx context.Context) Logger
}

// Formatter renders an Entry.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output receives formatted records.
type Output interface {
	Write(entry *Entry, formattedEntry []byte) error
	Close() error
}

type ctxFieldsKey struct{}

// ContextWith returns a copy of ctx that carries fields for WithContext.
// Fields already on ctx are kept; a repeated key takes the newer value.
func ContextWith(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev := FieldsFromContext(ctx)
	merged := make([]Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

// FieldsFromContext returns the fields stored by ContextWith.
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fields
}

// LoggerOption configures NewLogger.
type LoggerOption func(*BaseLogger)

// BaseLogger is the Logger returned by NewLogger and ApplyConfig.
type BaseLogger struct {
	level     Level
	fields    Fields
	formatter Formatter
	outputs   []Output
	handler   *bridgeHandler
}

// NewLogger returns a JSON logger at info level writing to the console
// unless options say otherwise.
func NewLogger(options ...LoggerOption) Logger {
	logger := &BaseLogger{
		level:     InfoLevel,
		fields:    Fields{},
		formatter: &JSONFormatter{},
	}
	for _, option := range options {
		option(logger)
	}
	if len(logger.outputs) == 0 {
		logger.outputs = []Output{&ConsoleOutput{}}
	}
	logger.handler = &bridgeHandler{logger: logger}
	return logger
}

func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level = level }
}

func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.formatter = formatter }
}

// WithOutput adds an output. Records go to every output in order.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, output) }
}

package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the common structured logging surface used across the pipeline.
// It is implemented by the plain slog-backed logger and the OTLP logger.
type Logger interface {
	WithComponent(componentName string) *slog.Logger
	WithOperation(operationName string) *slog.Logger
	WithSensor(sensorID string) *slog.Logger
	WithPeak(peakID string) *slog.Logger
	WithUserID(userID string) *slog.Logger
	WithError(err error) *slog.Logger
	LogStartup(serviceName string, version string, port int)
	LogShutdown(serviceName string, reason string)
	LogPipelineEvent(eventType string, details map[string]interface{})
	Logger() *slog.Logger
}

// StandardLogger provides a standardized logging interface.
type StandardLogger struct {
	logger Logger
}

// NewStandardLogger creates a plain JSON logger writing to stdout.
func NewStandardLogger(logLevel string) *StandardLogger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: getSlogLevel(logLevel),
	}))
	return &StandardLogger{logger: &fallbackLogger{logger: logger}}
}

// NewStandardOTLPLogger creates a logger that ships records to an OTLP
// collector, falling back to plain stdout logging if the exporter cannot
// be set up.
func NewStandardOTLPLogger(config OTLPConfig) *StandardLogger {
	otlpLogger, err := NewOTLPLogger(config)
	if err != nil {
		basic := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: getSlogLevel(config.LogLevel),
		}))
		return &StandardLogger{logger: &fallbackLogger{logger: basic}}
	}
	return &StandardLogger{logger: &otlpWrapper{logger: otlpLogger}}
}

func (l *StandardLogger) WithComponent(componentName string) *slog.Logger {
	return l.logger.WithComponent(componentName)
}

func (l *StandardLogger) WithOperation(operationName string) *slog.Logger {
	return l.logger.WithOperation(operationName)
}

func (l *StandardLogger) WithSensor(sensorID string) *slog.Logger {
	return l.logger.WithSensor(sensorID)
}

func (l *StandardLogger) WithPeak(peakID string) *slog.Logger {
	return l.logger.WithPeak(peakID)
}

func (l *StandardLogger) WithUserID(userID string) *slog.Logger {
	return l.logger.WithUserID(userID)
}

func (l *StandardLogger) WithError(err error) *slog.Logger {
	return l.logger.WithError(err)
}

func (l *StandardLogger) LogStartup(serviceName string, version string, port int) {
	l.logger.LogStartup(serviceName, version, port)
}

func (l *StandardLogger) LogShutdown(serviceName string, reason string) {
	l.logger.LogShutdown(serviceName, reason)
}

// LogPipelineEvent logs pipeline milestones (window scanned, batch built,
// attribution written) in a standardized format.
func (l *StandardLogger) LogPipelineEvent(eventType string, details map[string]interface{}) {
	l.logger.LogPipelineEvent(eventType, details)
}

// Logger returns the underlying *slog.Logger.
func (l *StandardLogger) Logger() *slog.Logger {
	return l.logger.Logger()
}

// getSlogLevel converts string level to slog.Level
func getSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// fallbackLogger is a simple implementation that uses slog directly.
type fallbackLogger struct {
	logger *slog.Logger
}

func (f *fallbackLogger) WithComponent(componentName string) *slog.Logger {
	return f.logger.With("component", componentName)
}

func (f *fallbackLogger) WithOperation(operationName string) *slog.Logger {
	return f.logger.With("operation", operationName)
}

func (f *fallbackLogger) WithSensor(sensorID string) *slog.Logger {
	return f.logger.With("sensor_id", sensorID)
}

func (f *fallbackLogger) WithPeak(peakID string) *slog.Logger {
	return f.logger.With("peak_id", peakID)
}

func (f *fallbackLogger) WithUserID(userID string) *slog.Logger {
	return f.logger.With("user_id", userID)
}

func (f *fallbackLogger) WithError(err error) *slog.Logger {
	return f.logger.With("error", err.Error())
}

func (f *fallbackLogger) LogStartup(serviceName string, version string, port int) {
	f.logger.Info("Service starting",
		"service", serviceName,
		"version", version,
		"port", port,
		"event", "startup",
	)
}

func (f *fallbackLogger) LogShutdown(serviceName string, reason string) {
	f.logger.Info("Service shutting down",
		"service", serviceName,
		"reason", reason,
		"event", "shutdown",
	)
}

func (f *fallbackLogger) LogPipelineEvent(eventType string, details map[string]interface{}) {
	f.logger.Info("Pipeline event",
		"event_type", eventType,
		"details", details,
		"event", "pipeline",
	)
}

func (f *fallbackLogger) Logger() *slog.Logger {
	return f.logger
}

// otlpWrapper wraps OTLPLogger to implement the Logger interface.
type otlpWrapper struct {
	logger *OTLPLogger
}

func (o *otlpWrapper) WithComponent(componentName string) *slog.Logger {
	return o.logger.logger.With("component", componentName)
}

func (o *otlpWrapper) WithOperation(operationName string) *slog.Logger {
	return o.logger.logger.With("operation", operationName)
}

func (o *otlpWrapper) WithSensor(sensorID string) *slog.Logger {
	return o.logger.logger.With("sensor_id", sensorID)
}

func (o *otlpWrapper) WithPeak(peakID string) *slog.Logger {
	return o.logger.logger.With("peak_id", peakID)
}

func (o *otlpWrapper) WithUserID(userID string) *slog.Logger {
	return o.logger.logger.With("user_id", userID)
}

func (o *otlpWrapper) WithError(err error) *slog.Logger {
	return o.logger.logger.With("error", err.Error())
}

func (o *otlpWrapper) LogStartup(serviceName string, version string, port int) {
	o.logger.logger.Info("Service starting",
		"service", serviceName,
		"version", version,
		"port", port,
		"event", "startup",
	)
}

func (o *otlpWrapper) LogShutdown(serviceName string, reason string) {
	o.logger.logger.Info("Service shutting down",
		"service", serviceName,
		"reason", reason,
		"event", "shutdown",
	)
}

func (o *otlpWrapper) LogPipelineEvent(eventType string, details map[string]interface{}) {
	o.logger.logger.Info("Pipeline event",
		"event_type", eventType,
		"details", details,
		"event", "pipeline",
	)
}

func (o *otlpWrapper) Logger() *slog.Logger {
	return o.logger.logger
}

package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type zeroLogger struct {
	log zerolog.Logger
}

// NewLogger builds a zerolog-backed Logger from config
func NewLogger(cfg LogConfig) (Logger, error) {
	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path is required for file output")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	default:
		return nil, fmt.Errorf("unknown log output: %s", cfg.Output)
	}

	if cfg.Format == "console" || cfg.Format == "text" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.IncludeCaller {
		ctx = ctx.CallerWithSkipFrameCount(3)
	}
	return &zeroLogger{log: ctx.Logger()}, nil
}

// NewWriterLogger builds a JSON Logger writing to w, mainly for tests
func NewWriterLogger(w io.Writer, level string) Logger {
	lvl, err := parseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return &zeroLogger{log: zerolog.New(w).Level(lvl).With().Timestamp().Logger()}
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() Logger {
	return &zeroLogger{log: zerolog.Nop()}
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *zeroLogger) Debug(msg string, fields ...Field) {
	withFields(l.log.Debug(), fields).Msg(msg)
}

func (l *zeroLogger) Info(msg string, fields ...Field) {
	withFields(l.log.Info(), fields).Msg(msg)
}

func (l *zeroLogger) Warn(msg string, fields ...Field) {
	withFields(l.log.Warn(), fields).Msg(msg)
}

func (l *zeroLogger) Error(msg string, fields ...Field) {
	withFields(l.log.Error(), fields).Msg(msg)
}

func (l *zeroLogger) WithFields(fields ...Field) Logger {
	ctx := l.log.With()
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			ctx = ctx.AnErr(f.Key, err)
			continue
		}
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zeroLogger{log: ctx.Logger()}
}

func (l *zeroLogger) WithContext(ctx context.Context) Logger {
	if runID, ok := RunIDFromContext(ctx); ok {
		return &zeroLogger{log: l.log.With().Str("run_id", runID).Logger()}
	}
	return l
}

func (l *zeroLogger) LogRunEvent(runID string, event string, data map[string]interface{}) {
	l.log.Info().
		Str("run_id", runID).
		Str("event", event).
		Fields(data).
		Msg("run event")
}

func (l *zeroLogger) LogBlockExecution(runID string, blockID string, event string, data map[string]interface{}) {
	l.log.Info().
		Str("run_id", runID).
		Str("block_id", blockID).
		Str("event", event).
		Fields(data).
		Msg("block event")
}

func (l *zeroLogger) LogSystemEvent(event string, data map[string]interface{}) {
	l.log.Info().
		Str("event", event).
		Fields(data).
		Msg("system event")
}

func withFields(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			e = e.AnErr(f.Key, err)
			continue
		}
		e = e.Interface(f.Key, f.Value)
	}
	return e
}

// Package gologger resolves go-logger contracts and supplies a slog-backed
// implementation for the command line.
package gologger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ParseLevel maps a config level name to slog. Unknown names fall back to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Provider struct {
	handler slog.Handler
}

// NewProvider writes text records at level or above to w. JSON output is
// used when format is "json".
func NewProvider(w io.Writer, level string, format string) *Provider {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &Provider{handler: handler}
}

func (p *Provider) GetLogger(name string) glog.Logger {
	logger := slog.New(p.handler)
	if name = strings.TrimSpace(name); name != "" {
		logger = logger.With("logger", name)
	}
	return &Logger{logger: logger, ctx: context.Background()}
}

type Logger struct {
	logger *slog.Logger
	ctx    context.Context
}

func (l *Logger) Trace(msg string, args ...any) { l.log(slog.LevelDebug-4, msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *Logger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
	os.Exit(1)
}

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Logger{logger: l.logger, ctx: ctx}
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if len(args)%2 != 0 {
		args = append(args[:len(args)-1:len(args)-1], "extra", fmt.Sprint(args[len(args)-1]))
	}
	l.logger.Log(l.ctx, level, msg, args...)
}

var (
	_ glog.LoggerProvider = (*Provider)(nil)
	_ glog.Logger         = (*Logger)(nil)
)

// Package testsupport holds capture doubles for the logging and metrics
// contracts shared by package tests.
package testsupport

import (
	"context"
	"strings"
	"sync"

	"github.com/juanbarco92/delta/core"
)

type Counter struct {
	Name  string
	Value int64
	Tags  map[string]string
}

type Histogram struct {
	Name  string
	Value float64
	Tags  map[string]string
}

type MetricsRecorder struct {
	mu         sync.Mutex
	counters   []Counter
	histograms []Histogram
}

func (m *MetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, Counter{Name: name, Value: value, Tags: cloneTags(tags)})
}

func (m *MetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, Histogram{Name: name, Value: value, Tags: cloneTags(tags)})
}

func (m *MetricsRecorder) CounterTotal(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, counter := range m.counters {
		if counter.Name == name {
			total += counter.Value
		}
	}
	return total
}

func (m *MetricsRecorder) Counters() []Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Counter(nil), m.counters...)
}

func (m *MetricsRecorder) Histograms() []Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Histogram(nil), m.histograms...)
}

type LogRecord struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Logger records every log call. Copies made through WithFields and
// WithContext share the same record buffer.
type Logger struct {
	mu       *sync.Mutex
	records  *[]LogRecord
	defaults map[string]any
}

func NewLogger() *Logger {
	records := []LogRecord{}
	return &Logger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *Logger) WithFields(fields map[string]any) core.Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &Logger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *Logger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *Logger) WithContext(context.Context) core.Logger {
	return &Logger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *Logger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, LogRecord{Level: level, Message: msg, Fields: fields})
}

func (l *Logger) Records() []LogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogRecord, len(*l.records))
	copy(out, *l.records)
	return out
}

// Count returns the number of records at level whose message contains
// fragment.
func (l *Logger) Count(level string, fragment string) int {
	count := 0
	for _, record := range l.Records() {
		if record.Level == level && strings.Contains(record.Message, fragment) {
			count++
		}
	}
	return count
}

type Provider struct {
	Logger core.Logger
}

func (p Provider) GetLogger(string) core.Logger {
	return p.Logger
}

func cloneFields(input map[string]any) map[string]any {
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func cloneTags(input map[string]string) map[string]string {
	output := make(map[string]string, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

var (
	_ core.MetricsRecorder = (*MetricsRecorder)(nil)
	_ core.Logger          = (*Logger)(nil)
	_ core.FieldsLogger    = (*Logger)(nil)
	_ core.LoggerProvider  = Provider{}
)

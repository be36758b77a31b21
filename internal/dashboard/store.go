package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gachasync/internal/metrics"
)

// ring is a bounded, concurrency safe history of the most recent items.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = 200
	}
	return &ring[T]{limit: limit}
}

func (r *ring[T]) push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	if len(r.items) > r.limit {
		r.items = append([]T(nil), r.items[len(r.items)-r.limit:]...)
	}
}

// filter returns a copy of the items accepted by keep, oldest first. A nil keep
// accepts everything.
func (r *ring[T]) filter(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, item := range r.items {
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// metricStore keeps the most recent metrics emitted through metrics.EmitMetric.
type metricStore struct {
	ring *ring[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{ring: newRing[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.ring.push(metric)
}

func (s *metricStore) snapshot() []metrics.Metric {
	return s.ring.filter(nil)
}

// byName returns the metrics called name, or all of them when name is empty.
func (s *metricStore) byName(name string) []metrics.Metric {
	if name == "" {
		return s.snapshot()
	}
	return s.ring.filter(func(m metrics.Metric) bool { return m.Name == name })
}

// logRecord is a captured log entry as rendered by the dashboard. Account and
// SyncID are lifted out of the fields so a single sync can be followed.
type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Account   string                 `json:"account,omitempty"`
	SyncID    string                 `json:"sync_id,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook retaining the most recent log entries.
type logStore struct {
	ring    *ring[logRecord]
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	ls := &logStore{ring: newRing[logRecord](limit)}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			switch k {
			case "component":
				record.Component, _ = v.(string)
				continue
			case "account":
				record.Account = fmt.Sprint(v)
			case "sync_id":
				record.SyncID = fmt.Sprint(v)
			}

			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.ring.push(record)
	return nil
}

func (s *logStore) snapshot() []logRecord {
	return s.ring.filter(nil)
}

// query returns the entries matching the non-empty filters. level is a minimum
// severity, so "warning" includes errors.
func (s *logStore) query(component, account, level string) []logRecord {
	minLevel := logrus.TraceLevel
	if level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			minLevel = lvl
		}
	}
	return s.ring.filter(func(r logRecord) bool {
		if component != "" && !strings.EqualFold(r.Component, component) {
			return false
		}
		if account != "" && r.Account != account {
			return false
		}
		lvl, err := logrus.ParseLevel(r.Level)
		return err != nil || lvl <= minLevel
	})
}

func (s *logStore) close() {
	s.enabled.Store(false)
}

package dashboard

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"gachasync/internal/metrics"
)

func TestMetricStoreLimit(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Name: "records_added", Value: i})
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 metrics in snapshot, got %d", len(snapshot))
	}

	if snapshot[0].Value != 3 || snapshot[1].Value != 4 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
}

func TestMetricStoreByName(t *testing.T) {
	store := newMetricStore(10)
	store.handle(metrics.Metric{Name: "syncs_completed", Value: 1})
	store.handle(metrics.Metric{Name: "channel_size", Value: 2})

	if got := store.byName("channel_size"); len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("byName = %#v", got)
	}
	if got := store.byName(""); len(got) != 2 {
		t.Fatalf("empty name should return everything, got %d", len(got))
	}
}

func TestLogStoreCapturesEntries(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "page fetch failed"
	entry.Data = logrus.Fields{"component": "endfield_client", "account": "100_7", "sync_id": "s1", "page": 3}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	snapshot := store.snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(snapshot))
	}

	got := snapshot[0]
	if got.Component != "endfield_client" || got.Account != "100_7" || got.SyncID != "s1" || got.Fields["page"] != 3 {
		t.Fatalf("unexpected snapshot data: %#v", got)
	}
	if _, ok := got.Fields["component"]; ok {
		t.Fatal("component should not be repeated in fields")
	}
}

func TestLogStoreQuery(t *testing.T) {
	store := newLogStore(10)
	fire := func(level logrus.Level, component, account string) {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = level
		entry.Message = "msg"
		entry.Data = logrus.Fields{"component": component, "account": account}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("Fire: %v", err)
		}
	}
	fire(logrus.InfoLevel, "sync_processor", "a")
	fire(logrus.WarnLevel, "sync_processor", "b")
	fire(logrus.ErrorLevel, "s3_writer", "a")

	if got := store.query("sync_processor", "", ""); len(got) != 2 {
		t.Fatalf("component filter = %d entries", len(got))
	}
	if got := store.query("", "a", ""); len(got) != 2 {
		t.Fatalf("account filter = %d entries", len(got))
	}
	if got := store.query("", "", "warning"); len(got) != 2 {
		t.Fatalf("level filter = %d entries", len(got))
	}
	if got := store.query("", "", ""); len(got) != 3 {
		t.Fatalf("no filter = %d entries", len(got))
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snapshot := store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 entries after pruning, got %d", len(snapshot))
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}

	snapshot = store.snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}

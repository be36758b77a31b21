package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gachasync/logger"
)

func TestHandlerExposesSyncCounters(t *testing.T) {
	Init()
	ObserveSync("hypergryph", true)
	AddRecords("char", 4)
	IncrementPages("weapon")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`gachasync_sync_total{provider="hypergryph",status="success"}`,
		`gachasync_records_added_total{kind="char"}`,
		`gachasync_pages_fetched_total{kind="weapon"}`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}

func TestReportProcessorAndWriter(t *testing.T) {
	resetMetricHandlers()
	t.Cleanup(resetMetricHandlers)

	names := map[string]bool{}
	RegisterMetricHandler(func(m Metric) { names[m.Name] = true })

	log := logger.GetLogger()
	ReportProcessor(log, ProcessorStats{SyncsStarted: 2, SyncsSucceeded: 1, SyncsFailed: 1, LastSync: time.Now()})
	ReportWriter(log, "s3_writer", WriterStats{BatchesWritten: 1, ObjectsWritten: 2, BytesWritten: 100})

	for _, want := range []string{"syncs_started", "failure_rate", "objects_written", "bytes_written"} {
		if !names[want] {
			t.Fatalf("metric %s not emitted", want)
		}
	}
}

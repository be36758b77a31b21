// Registers:
//
//	#gachasync_sync_total{provider,status}
//	#gachasync_records_added_total{kind}
//	#gachasync_pages_fetched_total{kind}
//	#go_* and process_* system metrics
//
// Serve exposes them at /metrics using the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gachasync/logger"
)

var (
	once         sync.Once
	registry     *prometheus.Registry
	syncTotal    *prometheus.CounterVec
	recordsAdded *prometheus.CounterVec
	pagesFetched *prometheus.CounterVec
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		syncTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gachasync_sync_total",
				Help: "Number of finished account syncs",
			},
			[]string{"provider", "status"},
		)
		recordsAdded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gachasync_records_added_total",
				Help: "Number of new pull records merged into stored history",
			},
			[]string{"kind"},
		)
		pagesFetched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gachasync_pages_fetched_total",
				Help: "Number of record pages read from the vendor API",
			},
			[]string{"kind"},
		)

		registry.MustRegister(syncTotal, recordsAdded, pagesFetched)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler returns the /metrics handler for the registry.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// Serve exposes /metrics on address until ctx is cancelled.
func Serve(ctx context.Context, address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.GetLogger().WithComponent("metrics").WithFields(logger.Fields{"address": address}).Info("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ObserveSync counts a finished sync.
func ObserveSync(provider string, ok bool) {
	if syncTotal == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	syncTotal.WithLabelValues(provider, status).Inc()
}

// AddRecords counts newly merged records of one kind.
func AddRecords(kind string, n int) {
	if recordsAdded == nil || n <= 0 {
		return
	}
	recordsAdded.WithLabelValues(kind).Add(float64(n))
}

// IncrementPages counts one fetched record page.
func IncrementPages(kind string) {
	if pagesFetched != nil {
		pagesFetched.WithLabelValues(kind).Inc()
	}
}

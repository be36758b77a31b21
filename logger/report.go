package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

// counters is the process wide tally printed by the runtime report.
type counters struct {
	syncsOK      int64
	syncsFailed  int64
	pagesFetched int64
	recordsAdded int64
	storeWrites  int64
	sinkWrites   int64
	warns        sync.Map // component -> *int64
	errors       sync.Map // component -> *int64
	channels     sync.Map // name -> *channelStat
}

var stats counters

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string) {
	bump(&stats.warns, component)
}

func recordError(component string) {
	bump(&stats.errors, component)
}

// IncrementSync counts a finished sync.
func IncrementSync(ok bool) {
	if ok {
		atomic.AddInt64(&stats.syncsOK, 1)
		return
	}
	atomic.AddInt64(&stats.syncsFailed, 1)
}

// IncrementPageFetched counts one record API page and its body size.
func IncrementPageFetched(kind string, size int) {
	atomic.AddInt64(&stats.pagesFetched, 1)
	recordChannel("api_"+kind, size)
}

// AddRecords counts records merged into stored histories.
func AddRecords(n int) {
	atomic.AddInt64(&stats.recordsAdded, int64(n))
}

// IncrementStoreWrite counts a persisted history.
func IncrementStoreWrite(size int) {
	atomic.AddInt64(&stats.storeWrites, 1)
	recordChannel("store_write", size)
}

// IncrementSinkWrite counts an archive write to S3 or Kafka.
func IncrementSinkWrite(sink string, size int64) {
	atomic.AddInt64(&stats.sinkWrites, 1)
	recordChannel(sink+"_write", int(size))
}

// RecordChannelMessage counts a message passing through a named channel.
func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := stats.channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// Snapshot is a copy of the counters.
type Snapshot struct {
	SyncsOK      int64
	SyncsFailed  int64
	PagesFetched int64
	RecordsAdded int64
	StoreWrites  int64
	SinkWrites   int64
	Warns        map[string]int64
	Errors       map[string]int64
	Channels     map[string]map[string]int64
}

// TakeSnapshot reads the counters.
func TakeSnapshot() Snapshot {
	s := Snapshot{
		SyncsOK:      atomic.LoadInt64(&stats.syncsOK),
		SyncsFailed:  atomic.LoadInt64(&stats.syncsFailed),
		PagesFetched: atomic.LoadInt64(&stats.pagesFetched),
		RecordsAdded: atomic.LoadInt64(&stats.recordsAdded),
		StoreWrites:  atomic.LoadInt64(&stats.storeWrites),
		SinkWrites:   atomic.LoadInt64(&stats.sinkWrites),
		Warns:        loadCounts(&stats.warns),
		Errors:       loadCounts(&stats.errors),
		Channels:     map[string]map[string]int64{},
	}
	stats.channels.Range(func(k, v any) bool {
		cs := v.(*channelStat)
		s.Channels[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})
	return s
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// StartReport logs system and sync statistics every interval until ctx ends.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsed, diskUsed, bytesSent, bytesRecv uint64
	if m, err := mem.VirtualMemory(); err == nil {
		memUsed = m.Used
	}
	if d, err := disk.Usage("/"); err == nil {
		diskUsed = d.Used
	}
	if n, err := gnet.IOCounters(false); err == nil && len(n) > 0 {
		bytesSent = n[0].BytesSent
		bytesRecv = n[0].BytesRecv
	}

	snap := TakeSnapshot()
	log.WithComponent("report").WithFields(Fields{
		"syncs_ok":       snap.SyncsOK,
		"syncs_failed":   snap.SyncsFailed,
		"pages_fetched":  snap.PagesFetched,
		"records_added":  snap.RecordsAdded,
		"store_writes":   snap.StoreWrites,
		"sink_writes":    snap.SinkWrites,
		"warns":          snap.Warns,
		"errors":         snap.Errors,
		"channels":       snap.Channels,
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed / 1024 / 1024),
		"disk_mb":        int64(diskUsed / 1024 / 1024),
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}).Info("runtime report")

	publishMetrics(ctx, reportDatums(snap, cpuPct, memUsed, bytesSent, bytesRecv))
}

func datum(name string, unit cwtypes.StandardUnit, value float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String("GachaSync-" + name),
		Unit:       unit,
		Value:      aws.Float64(value),
		Dimensions: dims,
	}
}

func reportDatums(snap Snapshot, cpuPct float64, memUsed, bytesSent, bytesRecv uint64) []cwtypes.MetricDatum {
	data := []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, cpuPct),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, float64(memUsed)/1024/1024),
		datum("SyncsSucceeded", cwtypes.StandardUnitCount, float64(snap.SyncsOK)),
		datum("SyncsFailed", cwtypes.StandardUnitCount, float64(snap.SyncsFailed)),
		datum("PagesFetched", cwtypes.StandardUnitCount, float64(snap.PagesFetched)),
		datum("RecordsAdded", cwtypes.StandardUnitCount, float64(snap.RecordsAdded)),
		datum("NetBytesSent", cwtypes.StandardUnitBytes, float64(bytesSent)),
		datum("NetBytesRecv", cwtypes.StandardUnitBytes, float64(bytesRecv)),
	}

	names := make([]string, 0, len(snap.Channels))
	for name := range snap.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dim := cwtypes.Dimension{Name: aws.String("Channel"), Value: aws.String(name)}
		data = append(data,
			datum("ChannelMessages", cwtypes.StandardUnitCount, float64(snap.Channels[name]["messages"]), dim),
			datum("ChannelBytes", cwtypes.StandardUnitBytes, float64(snap.Channels[name]["bytes"]), dim),
		)
	}
	for component, n := range snap.Errors {
		data = append(data, datum("Errors", cwtypes.StandardUnitCount, float64(n),
			cwtypes.Dimension{Name: aws.String("component"), Value: aws.String(component)}))
	}
	return data
}

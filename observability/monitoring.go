// Package observability aggregates runtime counters for the stats surface.
package observability

import (
	"log/slog"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/shirou/gopsutil/process"
)

// ChatStats is the snapshot served by the debug stats endpoint.
type ChatStats struct {
	ConnectedSessions int     `json:"connected_sessions"`
	MessagesPosted    uint64  `json:"messages_posted"`
	ReactionsUpdated  uint64  `json:"reactions_updated"`
	ReadReceipts      uint64  `json:"read_receipts"`
	EventsDropped     uint64  `json:"events_dropped"`
	CPUPercent        float64 `json:"cpu_percent"`
	RSSMb             uint64  `json:"rss_mb"`
	AllocMemMb        uint64  `json:"alloc_mem_mb"`
	NumGC             uint32  `json:"num_gc"`
}

// Monitoring collects telemetry with atomic counters so the hot paths
// never take a lock to report.
type Monitoring struct {
	log  *slog.Logger
	proc *process.Process

	messagesPosted   uint64
	reactionsUpdated uint64
	readReceipts     uint64
	eventsDropped    uint64
}

func NewMonitoring(log *slog.Logger) (*Monitoring, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Monitoring{log: log, proc: proc}, nil
}

func (m *Monitoring) IncrMessagesPosted() {
	atomic.AddUint64(&m.messagesPosted, 1)
}

func (m *Monitoring) IncrReactionsUpdated() {
	atomic.AddUint64(&m.reactionsUpdated, 1)
}

func (m *Monitoring) IncrReadReceipts() {
	atomic.AddUint64(&m.readReceipts, 1)
}

func (m *Monitoring) IncrEventsDropped() {
	atomic.AddUint64(&m.eventsDropped, 1)
}

// Snapshot assembles the current counters with Go memory stats and the
// process CPU/RSS readings from gopsutil.
func (m *Monitoring) Snapshot(connectedSessions int) ChatStats {
	stats := ChatStats{
		ConnectedSessions: connectedSessions,
		MessagesPosted:    atomic.LoadUint64(&m.messagesPosted),
		ReactionsUpdated:  atomic.LoadUint64(&m.reactionsUpdated),
		ReadReceipts:      atomic.LoadUint64(&m.readReceipts),
		EventsDropped:     atomic.LoadUint64(&m.eventsDropped),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats.AllocMemMb = memStats.Alloc / 1024 / 1024
	stats.NumGC = memStats.NumGC

	if cpu, err := m.proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := m.proc.MemoryInfo(); err == nil {
		stats.RSSMb = mem.RSS / 1024 / 1024
	}

	return stats
}

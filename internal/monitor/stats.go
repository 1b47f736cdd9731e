// Package monitor samples process and presence figures for the stats
// endpoint.
package monitor

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/orbit-social/backend/internal/presence"
)

// Clients reports transport-level socket counts.
type Clients interface {
	ClientCount() int
	AnonymousCount() int
}

type Stats struct {
	UptimeSeconds    int64   `json:"uptimeSeconds"`
	Goroutines       int     `json:"goroutines"`
	RSSBytes         uint64  `json:"rssBytes,omitempty"`
	CPUPercent       float64 `json:"cpuPercent"`
	Threads          int32   `json:"threads,omitempty"`
	OnlineUsers      int     `json:"onlineUsers"`
	ObservedOwners   int     `json:"observedOwners"`
	ObserverEntries  int     `json:"observerEntries"`
	WSClients        int     `json:"wsClients"`
	AnonymousClients int     `json:"anonymousClients"`
}

type Collector struct {
	registry  *presence.Registry
	observers *presence.ObserverIndex
	clients   Clients
	started   time.Time
	proc      *process.Process
}

// NewCollector builds a collector for the current process. Process figures
// are left zero when the platform does not expose them.
func NewCollector(registry *presence.Registry, observers *presence.ObserverIndex, clients Clients) *Collector {
	c := &Collector{
		registry:  registry,
		observers: observers,
		clients:   clients,
		started:   time.Now(),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

func (c *Collector) Snapshot(ctx context.Context) Stats {
	s := Stats{
		UptimeSeconds:   int64(time.Since(c.started).Seconds()),
		Goroutines:      runtime.NumGoroutine(),
		OnlineUsers:     c.registry.Len(),
		ObservedOwners:  c.observers.OwnerCount(),
		ObserverEntries: c.observers.EntryCount(),
	}
	if c.clients != nil {
		s.WSClients = c.clients.ClientCount()
		s.AnonymousClients = c.clients.AnonymousCount()
	}
	if c.proc != nil {
		if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			s.RSSBytes = mem.RSS
		}
		if cpu, err := c.proc.CPUPercentWithContext(ctx); err == nil {
			s.CPUPercent = cpu
		}
		if n, err := c.proc.NumThreadsWithContext(ctx); err == nil {
			s.Threads = n
		}
	}
	return s
}

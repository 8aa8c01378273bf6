package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/hearthd/hearth/pkg/log"
	"github.com/hearthd/hearth/pkg/types"
)

var (
	memoryUsedPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_host_memory_used_percent",
		Help: "Host memory utilisation",
	})
	memoryAvailableBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_host_memory_available_bytes",
		Help: "Host memory available",
	})
)

// StateCounter reports how many modules sit in each lifecycle state.
type StateCounter interface {
	CountByState() map[types.ModuleState]int
}

// Collector periodically samples gauges that have no natural event to hook:
// module state counts and host memory.
type Collector struct {
	states   StateCounter
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates a collector sampling every interval.
func NewCollector(states StateCounter, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{states: states, interval: interval}
}

// Start launches the sampling loop.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.sample()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sample()
			}
		}
	}()
	log.WithComponent("metrics").Debug().Dur("interval", c.interval).Msg("collector started")
}

// Stop halts the sampling loop and waits for it to exit.
func (c *Collector) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

func (c *Collector) sample() {
	if c.states != nil {
		counts := c.states.CountByState()
		for _, state := range types.AllModuleStates {
			ModulesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
		}
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		memoryUsedPercent.Set(vm.UsedPercent)
		memoryAvailableBytes.Set(float64(vm.Available))
	}
}

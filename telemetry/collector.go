package telemetry

import (
	"database/sql"
	"sync"
	"time"
)

// DBStatsProvider is implemented by stores that expose connection pool stats
type DBStatsProvider interface {
	DBStats() sql.DBStats
}

// MetricsCollector samples pool stats into DBConnections on an interval
type MetricsCollector struct {
	provider DBStatsProvider
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMetricsCollector(provider DBStatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{provider: provider, interval: interval, done: make(chan struct{})}
}

// Start samples once and then keeps sampling until Stop
func (mc *MetricsCollector) Start() {
	mc.sample()
	mc.wg.Add(1)
	go func() {
		defer mc.wg.Done()
		ticker := time.NewTicker(mc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-mc.done:
				return
			case <-ticker.C:
				mc.sample()
			}
		}
	}()
}

// Stop is safe to call more than once
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.done) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) sample() {
	if mc.provider == nil {
		return
	}
	s := mc.provider.DBStats()
	for state, n := range map[string]int{
		"open":   s.OpenConnections,
		"in_use": s.InUse,
		"idle":   s.Idle,
	} {
		DBConnections.With(state).Set(float64(n))
	}
	DBWaitSeconds.Set(s.WaitDuration.Seconds())
}

package metrics

import (
	"context"
	"sync"
	"time"

	"media-pipeline/internal/logging"
)

var log = logging.Component("metrics")

// collectTimeout bounds one Stats query.
const collectTimeout = 5 * time.Second

// StatsProvider supplies the counts the collector publishes.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

// Stats is a snapshot of the persistence layer.
type Stats struct {
	RecordsByKind map[string]int
	Derivatives   int
}

// Collector refreshes the record and derivative gauges on an interval.
type Collector struct {
	provider StatsProvider
	interval time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{provider: provider, interval: interval, done: make(chan struct{})}
}

// Start collects once immediately and then every interval until Stop.
func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.run(ctx)
}

// Stop ends the loop and waits for an in-progress collection to finish.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			close(c.done)
			return
		}
		c.cancel()
		<-c.done
	})
}

func (c *Collector) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.collectWith(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Collector) collect() { c.collectWith(context.Background()) }

func (c *Collector) collectWith(ctx context.Context) {
	if c.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	stats, err := c.provider.Stats(ctx)
	if err != nil {
		log.Warn("stats collection failed: %v", err)
		return
	}

	MediaRecordsTotal.Reset()
	for kind, n := range stats.RecordsByKind {
		MediaRecordsTotal.WithLabelValues(kind).Set(float64(n))
	}
	DerivativesTotal.Set(float64(stats.Derivatives))
	log.Debug("collected: %d kinds, %d derivatives", len(stats.RecordsByKind), stats.Derivatives)
}

package manager

import (
	"strconv"
	"time"

	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
)

// MetricsCollector periodically copies manager state into the gauges
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &MetricsCollector{
		manager:  mgr,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectResourceMetrics()
	c.collectTaskMetrics()
	c.collectClaimMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectResourceMetrics() {
	resources, err := c.manager.ListResources()
	if err != nil {
		return
	}

	metrics.ResourcesTotal.Reset()
	for _, res := range resources {
		metrics.ResourcesTotal.WithLabelValues(string(res.Type), strconv.FormatBool(res.Active)).Inc()
	}
}

func (c *MetricsCollector) collectTaskMetrics() {
	tasks, err := c.manager.ListTasks(types.TaskFilter{})
	if err != nil {
		return
	}

	metrics.TasksTotal.Reset()
	for _, task := range tasks {
		metrics.TasksTotal.WithLabelValues(string(task.Type), string(task.Status)).Inc()
	}
}

func (c *MetricsCollector) collectClaimMetrics() {
	claims, err := c.manager.GetClaims(types.ClaimFilter{})
	if err != nil {
		return
	}

	counts := make(map[types.ClaimStatus]int)
	for _, claim := range claims {
		counts[claim.Status]++
	}
	for _, status := range []types.ClaimStatus{types.ClaimStatusTentative, types.ClaimStatusClaimed, types.ClaimStatusConflict} {
		metrics.ClaimsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *MetricsCollector) collectRaftMetrics() {
	// Check if leader
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	// Get Raft stats
	stats := c.manager.GetRaftStats()
	if stats != nil {
		if lastIndex, ok := stats["last_log_index"].(uint64); ok {
			metrics.RaftLogIndex.Set(float64(lastIndex))
		}
		if appliedIndex, ok := stats["applied_index"].(uint64); ok {
			metrics.RaftAppliedIndex.Set(float64(appliedIndex))
		}
		if peers, ok := stats["peers"].(uint64); ok {
			metrics.RaftPeers.Set(float64(peers))
		}
	}
}

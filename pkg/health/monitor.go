package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/rs/zerolog"
)

// ReportFunc receives a probe's status after every check
type ReportFunc func(name string, healthy bool, message string)

type probe struct {
	name    string
	checker Checker
	status  *Status
}

// Monitor periodically runs registered probes and reports their status
type Monitor struct {
	config Config
	report ReportFunc
	logger zerolog.Logger

	mu     sync.RWMutex
	probes []*probe

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor reporting to the metrics component table
func NewMonitor(config Config) *Monitor {
	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = defaults.Retries
	}
	return &Monitor{
		config: config,
		report: metrics.UpdateComponent,
		logger: log.WithComponent("health"),
		stopCh: make(chan struct{}),
	}
}

// SetReporter replaces where statuses are reported
func (m *Monitor) SetReporter(report ReportFunc) {
	m.report = report
}

// Add registers a probe; call before Start
func (m *Monitor) Add(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, &probe{name: name, checker: checker, status: NewStatus()})
}

// Status returns a copy of the named probe's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.probes {
		if p.name == name {
			return *p.status, true
		}
	}
	return Status{}, false
}

// Start runs every probe in its own goroutine, checking once immediately
func (m *Monitor) Start() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.probes {
		m.wg.Add(1)
		go m.loop(p)
	}
}

// Stop stops all probes and waits for running checks to return
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop(p *probe) {
	defer m.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.check(ctx, p)
	for {
		select {
		case <-ticker.C:
			m.check(ctx, p)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check(ctx context.Context, p *probe) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	res := p.checker.Check(checkCtx)

	m.mu.Lock()
	flipped := p.status.Update(res, m.config)
	healthy := p.status.Healthy
	m.mu.Unlock()

	if flipped {
		if healthy {
			m.logger.Info().Str("probe", p.name).Msg("Collaborator reachable again")
		} else {
			m.logger.Warn().Str("probe", p.name).Str("type", string(p.checker.Type())).
				Str("reason", res.Message).Msg("Collaborator unreachable")
		}
	}

	message := res.Message
	if healthy && !res.Healthy {
		message = "degraded: " + res.Message
	}
	m.report(p.name, healthy, message)
}

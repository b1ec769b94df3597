// Package uptime samples external reachability on a fixed cadence and keeps
// rolling counters for the status panel.
//
// Counters are in-memory only: a restart resets them by design, and the
// panel reads monitoring_since to communicate the measurement window. The
// probe client deliberately has no retries — a retry would mask exactly the
// failures being measured.
package uptime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultInterval is the probe cadence.
const DefaultInterval = 5 * time.Second

// Stats is a value copy of the rolling counters.
type Stats struct {
	Percentage      float64   `json:"percentage"`
	TotalPings      int64     `json:"total_pings"`
	SuccessfulPings int64     `json:"successful_pings"`
	FailedPings     int64     `json:"failed_pings"`
	MonitoringSince time.Time `json:"-"`
}

// Prober pings one stable external endpoint on a ticker.
type Prober struct {
	http     *resty.Client
	url      string
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	total      int64
	successful int64
	failed     int64
	since      time.Time
}

// NewProber creates a prober against the given URL.
func NewProber(url string, interval time.Duration, logger *slog.Logger) *Prober {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Prober{
		http:     resty.New().SetTimeout(4 * time.Second),
		url:      url,
		interval: interval,
		logger:   logger.With("component", "uptime"),
		since:    time.Now(),
	}
}

// Run starts the probe loop. Blocks until ctx is cancelled. Probe errors are
// counted and swallowed — this subsystem is best-effort observability.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

// Snapshot returns a copy of the counters. 0/0 pings reads as 100%.
func (p *Prober) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	pct := 100.0
	if p.total > 0 {
		pct = float64(p.successful) / float64(p.total) * 100.0
	}
	return Stats{
		Percentage:      pct,
		TotalPings:      p.total,
		SuccessfulPings: p.successful,
		FailedPings:     p.failed,
		MonitoringSince: p.since,
	}
}

// Reset zeroes the counters and advances monitoring_since to now.
func (p *Prober) Reset() {
	p.mu.Lock()
	p.total, p.successful, p.failed = 0, 0, 0
	p.since = time.Now()
	p.mu.Unlock()
}

func (p *Prober) probe(ctx context.Context) {
	resp, err := p.http.R().SetContext(ctx).Get(p.url)
	ok := err == nil && resp.StatusCode() < http.StatusInternalServerError

	p.mu.Lock()
	p.total++
	if ok {
		p.successful++
	} else {
		p.failed++
	}
	p.mu.Unlock()

	if !ok {
		p.logger.Debug("uptime probe failed", "url", p.url, "error", err)
	}
}

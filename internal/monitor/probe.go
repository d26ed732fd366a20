package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/hospital-agent/pkg/icron"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

const defaultTimeout = 10 * time.Second

// Checker reports whether the hospital backend answers.
type Checker interface {
	Ping(ctx context.Context) error
}

// Snapshot is the latest probe result as shown by the health endpoint.
type Snapshot struct {
	Checked     bool       `json:"checked"`
	Reachable   bool       `json:"reachable"`
	LastChecked *time.Time `json:"last_checked,omitempty"`
	LatencyMS   int64      `json:"latency_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
	Schedule    string     `json:"schedule,omitempty"`
	NextCheck   *time.Time `json:"next_check,omitempty"`
	NextCheckIn int64      `json:"next_check_in_ms,omitempty"`
}

// Probe checks backend reachability on demand or on a cron schedule.
// Concurrent runs share one backend call.
type Probe struct {
	checker Checker
	timeout time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	last     Snapshot
	schedule string
}

type Option func(*Probe)

func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewProbe(checker Checker, opts ...Option) *Probe {
	p := &Probe{
		checker: checker,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run checks the backend now and returns the fresh snapshot.
func (p *Probe) Run(ctx context.Context) Snapshot {
	v, _, _ := p.group.Do("probe", func() (any, error) {
		return p.check(ctx), nil
	})
	snap := v.(Snapshot)
	p.decorate(&snap)
	return snap
}

func (p *Probe) check(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.checker.Ping(ctx)
	checkedAt := time.Now().UTC()

	snap := Snapshot{
		Checked:     true,
		Reachable:   err == nil,
		LastChecked: &checkedAt,
		LatencyMS:   time.Since(start).Milliseconds(),
	}
	if err != nil {
		snap.Error = err.Error()
	}

	p.mu.Lock()
	wasReachable := p.last.Reachable || !p.last.Checked
	p.last = snap
	p.mu.Unlock()

	switch {
	case err != nil && wasReachable:
		log.Warn("Hospital backend unreachable: %v", err)
	case err == nil && !wasReachable:
		log.Info("Hospital backend reachable again")
	default:
		log.Debug("Backend probe finished in %dms, reachable=%t", snap.LatencyMS, snap.Reachable)
	}
	return snap
}

// Snapshot returns the last result without contacting the backend.
func (p *Probe) Snapshot() Snapshot {
	p.mu.RLock()
	snap := p.last
	p.mu.RUnlock()
	p.decorate(&snap)
	return snap
}

func (p *Probe) decorate(snap *Snapshot) {
	p.mu.RLock()
	expr := p.schedule
	p.mu.RUnlock()
	if expr == "" {
		return
	}

	snap.Schedule = expr
	info, err := icron.GetTriggerInfo(expr, time.Now())
	if err != nil {
		return
	}
	next := info.Next.UTC()
	snap.NextCheck = &next
	snap.NextCheckIn = info.TimeUntilNext.Milliseconds()
}

// Schedule registers the probe on c. The caller starts and stops c.
func (p *Probe) Schedule(c *cron.Cron, expr string) error {
	if _, err := c.AddFunc(expr, func() {
		p.Run(context.Background())
	}); err != nil {
		return err
	}

	p.mu.Lock()
	p.schedule = expr
	p.mu.Unlock()

	log.Info("Backend probe scheduled with %q", expr)
	return nil
}

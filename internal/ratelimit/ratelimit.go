// Package ratelimit implements the proxy's per-IP admission control: a
// token bucket per client (aggregated to /64 for IPv6) refilled
// continuously over a configurable period, gated by CIDR allow/deny lists.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"accelproxy/internal/cidr"
	"accelproxy/internal/platform/logger"
)

// Verdict is the outcome of an admission check.
type Verdict int

// Possible admission outcomes, in the order spec.md §4.2 checks them.
const (
	VerdictAllow Verdict = iota
	VerdictDeniedIP
	VerdictRateLimited
)

// Config configures a Limiter.
type Config struct {
	RequestLimit int     // N tokens
	PeriodHours  float64 // T, refill window in hours
	Allow        []cidr.Block
	Deny         []cidr.Block

	// IdleTimeout and janitor tuning; zero values take spec.md's defaults
	// (2h inactivity, 20min sweep interval, 10000-entry hard cap).
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxBuckets    int
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 20 * time.Minute
	}
	if c.MaxBuckets <= 0 {
		c.MaxBuckets = 10000
	}
	if c.RequestLimit <= 0 {
		c.RequestLimit = 1
	}
	if c.PeriodHours <= 0 {
		c.PeriodHours = 1
	}
	return c
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter is the process-wide IP rate limiter. It is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
}

// New builds a Limiter from cfg. Call Start to run the background janitor.
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) perTokenRate() rate.Limit {
	periodSeconds := l.cfg.PeriodHours * 3600
	return rate.Limit(float64(l.cfg.RequestLimit) / periodSeconds)
}

// Admit runs the admission algorithm for a client IP: deny-list, then
// allow-list (unmetered pass), then the token bucket. ip is the client
// address as extracted by the caller; middleware.RateLimit passes the host
// part of r.RemoteAddr.
func (l *Limiter) Admit(ip string) Verdict {
	l.mu.Lock()
	allow, deny := l.cfg.Allow, l.cfg.Deny
	l.mu.Unlock()

	for _, d := range deny {
		if cidr.Contains(ip, d) {
			return VerdictDeniedIP
		}
	}
	for _, a := range allow {
		if cidr.Contains(ip, a) {
			return VerdictAllow
		}
	}

	key := cidr.NormalizeIPv6To64(ip)
	b := l.bucketFor(key)
	now := l.now()

	l.mu.Lock()
	b.lastAccess = now
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return VerdictRateLimited
	}
	return VerdictAllow
}

// UpdateLists swaps the allow/deny CIDR lists in place without resetting
// any existing per-IP token bucket, so an operator editing config.toml's
// [security] table doesn't reset everyone's rate-limit state.
func (l *Limiter) UpdateLists(allow, deny []cidr.Block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg.Allow = allow
	l.cfg.Deny = deny
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b := &bucket{
		limiter:    rate.NewLimiter(l.perTokenRate(), l.cfg.RequestLimit),
		lastAccess: l.now(),
	}
	l.buckets[key] = b
	return b
}

// TokensFor returns the current fractional token count for a normalized
// key, for tests. Returns the full limit if no bucket exists
// yet (a bucket is created lazily on first Admit, not on inspection).
func (l *Limiter) TokensFor(key string) float64 {
	l.mu.Lock()
	b, ok := l.buckets[key]
	l.mu.Unlock()
	if !ok {
		return float64(l.cfg.RequestLimit)
	}
	return b.limiter.TokensAt(l.now())
}

// Stats is a point-in-time snapshot of the bucket table.
type Stats struct {
	BucketCount int
}

// Snapshot returns current Limiter stats.
func (l *Limiter) Snapshot() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{BucketCount: len(l.buckets)}
}

// Sweep runs one janitor pass: buckets idle longer than IdleTimeout are
// dropped; if the table is still oversized afterward it is cleared
// entirely. This coarse clear is a deliberate availability/latency
// trade-off carried over from spec.md §9 rather than an LRU policy.
func (l *Limiter) Sweep() {
	now := l.now()
	log := logger.Named("ratelimit")

	l.mu.Lock()
	defer l.mu.Unlock()

	before := len(l.buckets)
	for k, b := range l.buckets {
		if now.Sub(b.lastAccess) > l.cfg.IdleTimeout {
			delete(l.buckets, k)
		}
	}
	if len(l.buckets) > l.cfg.MaxBuckets {
		l.buckets = make(map[string]*bucket)
		log.Warn().Int("before", before).Msg("ip bucket table exceeded cap, cleared")
		return
	}
	if before != len(l.buckets) {
		log.Debug().Int("before", before).Int("after", len(l.buckets)).Msg("ip bucket janitor swept idle entries")
	}
}

// Run starts the periodic janitor and blocks until stop is closed.
func (l *Limiter) Run(stop <-chan struct{}) {
	t := time.NewTicker(l.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.Sweep()
		}
	}
}

// Package admission decides whether a job submission may create a job.
//
// Three quotas are checked in order: a rolling daily total, a per-client
// sliding window of one minute, and the global number of active jobs. The
// checks and the bookkeeping that follows a successful check happen under a
// single lock, so two concurrent submissions can never both take the last slot.
//
// Lock order is Controller -> job store. The job store must never call back
// into the controller.
package admission

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/sdko-org/gridgate/internal/metrics"
)

const (
	window            = time.Minute
	dailyPeriod       = 24 * time.Hour
	concurrencyRetry  = 5 * time.Second
	DefaultPerIP      = 10
	DefaultConcurrent = 4
	DefaultDaily      = 500
)

// Rejection reasons, also used as metric labels.
const (
	ReasonDaily       = "daily"
	ReasonPerIP       = "per_ip"
	ReasonConcurrency = "concurrency"
)

// ActiveCounter reports the number of jobs still pending or running.
type ActiveCounter interface {
	ActiveCount() int
}

// Config holds the quota ceilings.
type Config struct {
	Enabled        bool
	PerIPPerMinute int
	ConcurrentJobs int
	DailyTotal     int
}

// Rejection is returned by Admit when a quota is exhausted.
type Rejection struct {
	Reason     string
	Detail     string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("admission rejected: %s (retry after %s)", r.Detail, r.RetryAfter)
}

// RetryAfterSeconds is the value for the Retry-After header.
func (r *Rejection) RetryAfterSeconds() int {
	return int(r.RetryAfter / time.Second)
}

// Controller enforces the quotas. It is safe for concurrent use.
type Controller struct {
	cfg   Config
	jobs  ActiveCounter
	clock clock.PassiveClock
	log   *logrus.Entry

	mu           sync.Mutex
	ipHits       map[string][]time.Time
	dailyCount   int
	dailyResetAt time.Time
}

// New creates a controller. Non-positive ceilings fall back to defaults.
func New(cfg Config, jobs ActiveCounter, clk clock.PassiveClock, logger *logrus.Logger) *Controller {
	if cfg.PerIPPerMinute <= 0 {
		cfg.PerIPPerMinute = DefaultPerIP
	}
	if cfg.ConcurrentJobs <= 0 {
		cfg.ConcurrentJobs = DefaultConcurrent
	}
	if cfg.DailyTotal <= 0 {
		cfg.DailyTotal = DefaultDaily
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Controller{
		cfg:          cfg,
		jobs:         jobs,
		clock:        clk,
		log:          logger.WithField("component", "admission"),
		ipHits:       make(map[string][]time.Time),
		dailyResetAt: clk.Now().Add(dailyPeriod),
	}
}

// Admit checks every quota for one submission from clientIP. On success the
// submission is recorded against the daily and per-client quotas and nil is
// returned; otherwise a *Rejection is returned and nothing is recorded.
func (c *Controller) Admit(clientIP string) error {
	if !c.cfg.Enabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if !now.Before(c.dailyResetAt) {
		c.dailyCount = 0
		c.dailyResetAt = now.Add(dailyPeriod)
	}
	if c.dailyCount >= c.cfg.DailyTotal {
		return c.reject(clientIP, ReasonDaily, "Daily request limit reached", c.dailyResetAt.Sub(now).Truncate(time.Second))
	}

	hits := prune(c.ipHits[clientIP], now.Add(-window))
	if len(hits) == 0 {
		delete(c.ipHits, clientIP)
	} else {
		c.ipHits[clientIP] = hits
	}
	if len(hits) >= c.cfg.PerIPPerMinute {
		oldest := hits[0]
		secs := math.Floor(oldest.Add(window).Sub(now).Seconds())
		retry := time.Duration(max(1, secs)) * time.Second
		return c.reject(clientIP, ReasonPerIP, "Too many requests per minute", retry)
	}

	if c.jobs.ActiveCount() >= c.cfg.ConcurrentJobs {
		return c.reject(clientIP, ReasonConcurrency, "Too many concurrent jobs", concurrencyRetry)
	}

	c.ipHits[clientIP] = append(hits, now)
	c.dailyCount++
	return nil
}

func (c *Controller) reject(clientIP, reason, detail string, retry time.Duration) *Rejection {
	metrics.RecordAdmissionRejection(reason)
	c.log.WithFields(logrus.Fields{
		"client_ip":   clientIP,
		"reason":      reason,
		"retry_after": retry,
	}).Info("Job submission rejected")
	return &Rejection{Reason: reason, Detail: detail, RetryAfter: retry}
}

// prune drops timestamps at or before cutoff. hits is ordered oldest first.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

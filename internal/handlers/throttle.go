package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sdko-org/gridgate/internal/metrics"
)

const (
	throttleCleanupInterval = time.Minute
	throttleIdleTimeout     = 3 * time.Minute
)

type rateLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SyncThrottle is a per-client token bucket in front of the synchronous
// render endpoints. It keeps no state shared with job admission.
type SyncThrottle struct {
	perMinute int
	clientIP  ClientIPFunc
	log       *logrus.Entry
	now       func() time.Time

	mu      sync.Mutex
	clients map[string]*rateLimiter
}

// NewSyncThrottle allows perMinute requests per client and minute, with
// bursts of the same size. perMinute <= 0 disables throttling.
func NewSyncThrottle(logger *logrus.Logger, perMinute int, clientIP ClientIPFunc) *SyncThrottle {
	if clientIP == nil {
		clientIP = ClientIP(false)
	}
	return &SyncThrottle{
		perMinute: perMinute,
		clientIP:  clientIP,
		log:       logger.WithField("component", "sync_throttle"),
		now:       time.Now,
		clients:   make(map[string]*rateLimiter),
	}
}

func (t *SyncThrottle) Middleware(next http.Handler) http.Handler {
	if t.perMinute <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := t.clientIP(r)
		if !t.limiterFor(ip).Allow() {
			metrics.RecordSyncThrottled()
			t.log.WithField("client_ip", ip).Info("Synchronous render throttled")
			w.Header().Set("Retry-After", strconv.Itoa(t.retryAfterSeconds()))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Detail: "Too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *SyncThrottle) limiterFor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	client, ok := t.clients[ip]
	if !ok {
		client = &rateLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(t.perMinute)/time.Minute.Seconds()), t.perMinute),
		}
		t.clients[ip] = client
	}
	client.lastSeen = t.now()
	return client.limiter
}

// retryAfterSeconds is the time one token takes to refill, rounded up.
func (t *SyncThrottle) retryAfterSeconds() int {
	secs := (60 + t.perMinute - 1) / t.perMinute
	if secs < 1 {
		return 1
	}
	return secs
}

// Run drops idle clients every minute until ctx is done.
func (t *SyncThrottle) Run(ctx context.Context) error {
	ticker := time.NewTicker(throttleCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.cleanup(throttleIdleTimeout)
		}
	}
}

func (t *SyncThrottle) cleanup(idle time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for ip, client := range t.clients {
		if now.Sub(client.lastSeen) > idle {
			delete(t.clients, ip)
		}
	}
}

func (t *SyncThrottle) clientCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

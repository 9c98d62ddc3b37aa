package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	appErrors "github.com/allo-oral/clinicaflow-api/pkg/errors"
	"github.com/allo-oral/clinicaflow-api/pkg/response"
)

// visitor tracks a token bucket per client IP.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorStore manages per-IP limiters and evicts entries not seen
// within the TTL.
type visitorStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      int
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func newVisitorStore(rps, burst int, ttl time.Duration) *visitorStore {
	s := &visitorStore{
		visitors: make(map[string]*visitor),
		rps:      rps,
		burst:    burst,
		ttl:      ttl,
		nowFunc:  time.Now,
		stop:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *visitorStore) getVisitor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, exists := s.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rate.Limit(s.rps), s.burst)
		s.visitors[ip] = &visitor{limiter: limiter, lastSeen: s.nowFunc()}
		return limiter
	}
	v.lastSeen = s.nowFunc()
	return v.limiter
}

func (s *visitorStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

func (s *visitorStore) close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *visitorStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for ip, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.visitors, ip)
		}
	}
}

func (s *visitorStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visitors)
}

// Limiter enforces a per-IP token bucket and owns the eviction goroutine
// behind it.
type Limiter struct {
	store  *visitorStore
	logger *zap.Logger
}

// New constructs a Limiter. Close must be called to stop its sweep
// goroutine.
func New(rps, burst int, logger *zap.Logger) *Limiter {
	const cleanupInterval = 3 * time.Minute
	return &Limiter{
		store:  newVisitorStore(rps, burst, cleanupInterval),
		logger: logger,
	}
}

// Middleware returns the gin handler enforcing the limit. Requests beyond
// the allowance receive 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !l.store.getVisitor(ip).Allow() {
			if l.logger != nil {
				l.logger.Warn("rate limit exceeded",
					zap.String("ip", ip),
					zap.String("path", c.Request.URL.Path),
				)
			}
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// Close stops the eviction goroutine. Safe to call more than once.
func (l *Limiter) Close() {
	l.store.close()
}

package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// A started run fans out into many model calls, so run creation is the
// request class worth limiting. Reads are cheap and stay unthrottled.

type window struct {
	mu    sync.Mutex
	count int
	start time.Time
}

type RateLimiter struct {
	mu          sync.RWMutex
	windows     map[string]*window
	maxRequests int
	duration    time.Duration
	logger      *zap.Logger
	stop        chan struct{}
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Logger               *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute == 0 {
		cfg.MaxRequestsPerMinute = 30
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	rl := &RateLimiter{
		windows:     make(map[string]*window),
		maxRequests: cfg.MaxRequestsPerMinute,
		duration:    cfg.WindowDuration,
		logger:      cfg.Logger,
		stop:        make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		if !rl.allow(c.IP()) {
			rl.logger.Warn("rate limit exceeded",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded, try again later",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.RLock()
	w, exists := rl.windows[key]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		w, exists = rl.windows[key]
		if !exists {
			w = &window{start: time.Now()}
			rl.windows[key] = w
		}
		rl.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if now.Sub(w.start) >= rl.duration {
		w.start = now
		w.count = 0
	}

	if w.count >= rl.maxRequests {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, w := range rl.windows {
				w.mu.Lock()
				stale := now.Sub(w.start) > 10*time.Minute
				w.mu.Unlock()
				if stale {
					delete(rl.windows, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) Stop() {
	close(rl.stop)
}

// Package ratelimit provides per-IP rate limiting for unauthenticated
// ingestion endpoints.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Clock interface for testing time-dependent behavior.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Config struct {
	// MaxPerWindow is the number of requests allowed per IP per window.
	MaxPerWindow int
	Window       time.Duration

	// Clock for testing (nil uses real time)
	Clock Clock
}

func DefaultConfig() *Config {
	return &Config{
		MaxPerWindow: 30,
		Window:       time.Hour,
	}
}

type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

type entry struct {
	count   int
	firstAt time.Time
	lastAt  time.Time
}

// Limiter tracks request counts per hashed client IP in fixed windows.
type Limiter struct {
	config *Config
	clock  Clock
	mu     sync.Mutex
	byIP   map[string]*entry

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupOnce   sync.Once
	cleanupWg     sync.WaitGroup
}

func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Limiter{
		config:        cfg,
		clock:         clock,
		byIP:          make(map[string]*entry),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	l.cleanupCancel()
	l.cleanupWg.Wait()
}

// Allow checks and records one request from the given IP.
func (l *Limiter) Allow(ip string) Result {
	l.startCleanup()
	now := l.clock.Now()
	key := hashKey(ip)

	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.byIP[key]
	if e == nil || now.Sub(e.firstAt) >= l.config.Window {
		l.byIP[key] = &entry{count: 1, firstAt: now, lastAt: now}
		return Result{Allowed: true}
	}
	if e.count >= l.config.MaxPerWindow {
		return Result{
			Allowed:    false,
			RetryAfter: l.config.Window - now.Sub(e.firstAt),
		}
	}
	e.count++
	e.lastAt = now
	return Result{Allowed: true}
}

func hashKey(value string) string {
	hash := sha256.Sum256([]byte(value))
	return hex.EncodeToString(hash[:8])
}

func (l *Limiter) startCleanup() {
	l.cleanupOnce.Do(func() {
		l.cleanupWg.Add(1)
		go func() {
			defer l.cleanupWg.Done()
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-l.cleanupCtx.Done():
					return
				case <-ticker.C:
					l.cleanup()
				}
			}
		}()
	})
}

func (l *Limiter) cleanup() {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.byIP {
		if now.Sub(e.lastAt) > l.config.Window {
			delete(l.byIP, k)
		}
	}
}

// ClientIP extracts the client IP from a request. X-Forwarded-For is only
// honored when trustProxy is set; otherwise a spoofed header would let a
// caller dodge the limit.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[len(parts)-1])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// limiterPool 按 key 维护令牌桶，闲置的桶由后台 GC 回收。
type limiterPool struct {
	mu   sync.Mutex
	m    map[string]*keyLimiter
	r    rate.Limit
	b    int
	ttl  time.Duration
	stop chan struct{}
}

func newLimiterPool(r rate.Limit, burst int, ttl time.Duration) *limiterPool {
	return &limiterPool{m: make(map[string]*keyLimiter), r: r, b: burst, ttl: ttl, stop: make(chan struct{})}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if kl, ok := p.m[key]; ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(p.r, p.b)
	p.m[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

func (p *limiterPool) gc() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			now := time.Now()
			p.mu.Lock()
			for k, v := range p.m {
				if now.Sub(v.ts) > p.ttl {
					delete(p.m, k)
				}
			}
			p.mu.Unlock()
		}
	}
}

// RateLimit 返回按 IP+路径限速的中间件。
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	pool := newLimiterPool(r, burst, 2*time.Minute)
	go pool.gc()
	return func(c *gin.Context) {
		ip := clientIP(c.Request.RemoteAddr)
		key := ip + "|" + c.FullPath()
		if key == "|" {
			key = ip + "|" + c.Request.URL.Path
		}
		if !pool.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

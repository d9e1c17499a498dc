// Package ratelimit 客户端侧限速
// 交易所按端点分别限额，这里在发请求前就地限速，尽量不去触发服务端的 429。
// 额度取官方文档的保守值，真被限到时仍由 HTTP 层按 Retry-After 退避。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 单端点限速器
type Limiter interface {
	// Allow 立即判定是否放行一次请求
	Allow() bool
	// Wait 阻塞到放行或 ctx 取消
	Wait(ctx context.Context) error
}

// TokenBucket 令牌桶，适合下单这类允许短突发的端点
type TokenBucket struct {
	mu     sync.Mutex
	cap    float64
	tokens float64
	rate   float64 // 每秒补充的令牌数
	last   time.Time
}

// NewTokenBucket 创建容量 capacity、每秒补充 perSecond 个令牌的桶
func NewTokenBucket(capacity int, perSecond float64) *TokenBucket {
	return &TokenBucket{
		cap:    float64(capacity),
		tokens: float64(capacity),
		rate:   perSecond,
		last:   time.Now(),
	}
}

func (b *TokenBucket) take() (ok bool, retry time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.cap {
		b.tokens = b.cap
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if b.rate <= 0 {
		return false, time.Second
	}
	return false, time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

func (b *TokenBucket) Allow() bool {
	ok, _ := b.take()
	return ok
}

func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		ok, retry := b.take()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// SlidingWindow 滑动窗口，适合查询类端点的硬性 N 次每窗口限额
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{limit: limit, window: window}
}

// prune 丢掉窗口外的时间戳，调用方须持锁
func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	w.stamps = w.stamps[i:]
}

func (w *SlidingWindow) Allow() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.prune(now)
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

func (w *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if w.Allow() {
			return nil
		}

		w.mu.Lock()
		retry := 50 * time.Millisecond
		if len(w.stamps) > 0 {
			retry = w.window - time.Since(w.stamps[0])
		}
		w.mu.Unlock()
		if retry <= 0 {
			retry = 50 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

// RateLimitManager 按端点键分发限速器，未知端点落到公共兜底额度
type RateLimitManager struct {
	mu       sync.RWMutex
	limiters map[string]Limiter
	fallback Limiter
}

// NewRateLimitManager 创建带默认端点额度表的管理器
func NewRateLimitManager() *RateLimitManager {
	m := &RateLimitManager{
		limiters: map[string]Limiter{
			// 下单/撤单（签名请求），允许突发但平均 10/s
			"order:post":   NewTokenBucket(100, 10),
			"order:delete": NewTokenBucket(100, 10),

			// 账户与订单查询
			"orders:get":     NewSlidingWindow(60, 10*time.Second),
			"capital:get":    NewSlidingWindow(60, 10*time.Second),
			"account:get":    NewSlidingWindow(60, 10*time.Second),
			"fills:get":      NewSlidingWindow(60, 10*time.Second),
			"borrowlend:get": NewSlidingWindow(30, 10*time.Second),

			// 公共行情
			"ticker:get":  NewSlidingWindow(200, 10*time.Second),
			"depth:get":   NewSlidingWindow(200, 10*time.Second),
			"trades:get":  NewSlidingWindow(200, 10*time.Second),
			"markets:get": NewSlidingWindow(100, 10*time.Second),
		},
		fallback: NewSlidingWindow(500, 10*time.Second),
	}
	return m
}

// Limiter 返回端点对应的限速器
func (m *RateLimitManager) Limiter(endpoint string) Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.limiters[endpoint]; ok {
		return l
	}
	return m.fallback
}

// Wait 阻塞到端点额度放行
func (m *RateLimitManager) Wait(ctx context.Context, endpoint string) error {
	return m.Limiter(endpoint).Wait(ctx)
}

// Allow 立即判定端点额度
func (m *RateLimitManager) Allow(endpoint string) bool {
	return m.Limiter(endpoint).Allow()
}

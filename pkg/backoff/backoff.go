package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy 重试退避策略
// 指数退避 + 抖动，封装为可复用对象，网络调用统一经过它
type Policy struct {
	MaxAttempts int           // 最大尝试次数（含首次）
	BaseDelay   time.Duration // 首次重试的基础延迟
	MaxDelay    time.Duration // 单次延迟上限
	Jitter      float64       // 抖动比例 [0,1]，0 表示无抖动
}

// Default 默认策略：3 次尝试，1s 起步，10s 封顶，20% 抖动
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

// Delay 计算第 attempt 次重试前的等待时间（attempt 从 1 开始）
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		// 在 [1-jitter, 1+jitter] 区间内随机缩放
		scale := 1 + p.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * scale)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Retryable 判断错误是否可重试
type Retryable func(err error) bool

// Do 执行 fn，失败且可重试时按策略退避重试
// ctx 取消会立即中止等待并返回 ctx.Err()
func (p Policy) Do(ctx context.Context, fn func() error, retryable Retryable) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return err
}

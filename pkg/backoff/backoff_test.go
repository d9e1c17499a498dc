package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay_ExponentialGrowthAndCap(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}

	if d := p.Delay(1); d != 100*time.Millisecond {
		t.Errorf("第 1 次延迟 = %v", d)
	}
	if d := p.Delay(2); d != 200*time.Millisecond {
		t.Errorf("第 2 次延迟 = %v", d)
	}
	// 超过上限后封顶
	if d := p.Delay(3); d != 300*time.Millisecond {
		t.Errorf("第 3 次延迟应封顶 = %v", d)
	}
	if d := p.Delay(10); d != 300*time.Millisecond {
		t.Errorf("高次数延迟应封顶 = %v", d)
	}
}

func TestDelay_JitterRange(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := p.Delay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("抖动超出区间: %v", d)
		}
	}
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("应最终成功: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	fatal := errors.New("fatal")
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return false })
	if !errors.Is(err, fatal) {
		t.Fatalf("应原样返回错误: %v", err)
	}
	if calls != 1 {
		t.Errorf("不可重试错误只应尝试一次, calls = %d", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("always fails")
	}, nil)
	if err == nil {
		t.Fatal("用尽次数后应返回最后的错误")
	}
	if calls != 3 {
		t.Errorf("calls = %d", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error { return errors.New("x") }, nil)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("取消后应返回 ctx 错误: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("取消后应立即返回")
	}
}

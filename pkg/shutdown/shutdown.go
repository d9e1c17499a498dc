// Package shutdown 进程退出时的收尾编排
package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/gofarm/pkg/logger"
)

// Handler 单个部件的关闭函数，应在 ctx 截止前返回
type Handler func(ctx context.Context)

// Manager 收集各部件的关闭函数，退出时并发执行并统一限时。
// 回调之间没有顺序保证，有先后要求的关闭动作不要拆进同一个 Manager。
type Manager struct {
	mu       sync.Mutex
	handlers []Handler
}

func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调，可在任意 goroutine 调用
func (m *Manager) OnShutdown(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Shutdown 并发执行全部回调，全部完成或 ctx 到期后返回
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	handlers := m.handlers
	m.mu.Unlock()

	if len(handlers) == 0 {
		return
	}
	logger.Infof("正在关闭 %d 个部件", len(handlers))

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, h := range handlers {
			wg.Add(1)
			go func(h Handler) {
				defer wg.Done()
				h(ctx)
			}(h)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("全部部件已关闭")
	case <-ctx.Done():
		logger.Warnf("部件关闭超时: %v", ctx.Err())
	}
}

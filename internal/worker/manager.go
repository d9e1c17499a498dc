package worker

import (
	"context"
	"time"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/pkg/logger"
	"github.com/betbot/gofarm/pkg/syncgroup"
)

// Manager 账户工作器编队
// 错峰启动避免同时发请求撞限频，全部工作器退出后 Run 返回，
// 进程以此作为退出条件
type Manager struct {
	workers []*Worker
	stagger time.Duration
	group   *syncgroup.SyncGroup
}

// NewManager 创建编队，stagger 为相邻账户的启动间隔
func NewManager(stagger time.Duration, workers ...*Worker) *Manager {
	if stagger < 0 {
		stagger = 0
	}
	return &Manager{
		workers: workers,
		stagger: stagger,
		group:   syncgroup.NewSyncGroup(),
	}
}

// Run 启动全部工作器并阻塞到它们全部停止
func (m *Manager) Run(ctx context.Context) {
	logger.Infof("启动 %d 个账户工作器, 启动间隔 %s", len(m.workers), m.stagger)

	for i, w := range m.workers {
		w := w
		delay := time.Duration(i) * m.stagger
		m.group.Add(func() {
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
				case <-timer.C:
				}
			}
			w.Run(ctx)
		})
	}

	m.group.Run()
	m.group.Wait()
	logger.Info("全部账户工作器已停止")
}

// Running 返回仍在运行的工作器数量
func (m *Manager) Running() int {
	return m.group.Running()
}

// States 返回各账户的当前状态
func (m *Manager) States() map[string]domain.WorkerState {
	states := make(map[string]domain.WorkerState, len(m.workers))
	for _, w := range m.workers {
		states[w.Account()] = w.State()
	}
	return states
}

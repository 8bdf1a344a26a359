package shutdown

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "shutdown")

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type entry struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器。回调按注册的逆序串行执行（先停 API，再关存储）。
type Manager struct {
	mu        sync.Mutex
	callbacks []entry
	done      bool
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, entry{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调仍会收到已取消的 ctx。
func (m *Manager) Shutdown(ctx context.Context) []error {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return nil
	}
	m.done = true
	callbacks := m.callbacks
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return nil
	}
	log.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := cb.handler(ctx); err != nil {
			log.Warnf("关闭 %s 失败: %v", cb.name, err)
			errs = append(errs, err)
		}
	}
	if ctx.Err() != nil {
		log.Warnf("关闭超时: %v", ctx.Err())
	} else {
		log.Info("所有关闭回调已完成")
	}
	return errs
}

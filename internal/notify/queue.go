package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Queue 是无界的尽力而为任务队列：任务与提交方的取消解耦，失败与 panic 只记录日志。
type Queue struct {
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewQueue 创建队列，timeout 为单个任务的最长执行时间。
func NewQueue(timeout time.Duration, logger *zap.Logger) *Queue {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{timeout: timeout, logger: logger}
}

// Submit 在后台执行任务，不等待结果。
func (q *Queue) Submit(ctx context.Context, name string, task func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("后台任务 panic", zap.String("task", name), zap.String("panic", fmt.Sprint(r)))
			}
		}()
		if err := task(taskCtx); err != nil {
			q.logger.Warn("后台任务失败", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait 等待所有已提交任务结束。
func (q *Queue) Wait() {
	q.wg.Wait()
}

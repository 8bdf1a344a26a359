package orchestrator

import (
	"context"
	"time"

	"github.com/betbot/stockpilot/internal/domain"
)

// Loop 按当前时段的间隔循环跑周期，直到 ctx 结束。
// 单个周期中止只记日志，配置错误直接返回。
func (o *Orchestrator) Loop(ctx context.Context, ro RunOptions) error {
	for {
		sum, err := o.RunCycle(ctx, ro)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if domain.IsConfigurationError(err) {
				return err
			}
			log.Errorf("周期 %s 中止，等待下一周期: %v", sum.ID, err)
		}

		wait := o.deps.Schedule.Interval(o.deps.Schedule.WindowAt(o.now()))
		if wait <= 0 {
			wait = time.Minute
		}
		log.Debugf("下一周期: %s 后", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Package app 负责应用级编排：加载配置 -> 构建依赖图 -> 启动状态 API、
// 决策周期与持仓巡检三个常驻循环。
package app

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/config"
	"quorum/internal/engine"
	"quorum/internal/logger"
	"quorum/internal/monitor"
	"quorum/internal/pkg/retry"
	"quorum/internal/scheduler"
	"quorum/internal/server"
	"quorum/internal/store/decisionlog"
	"quorum/internal/tracker"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg     *config.Config
	engine  *engine.Engine
	monitor *monitor.Monitor
	server  *server.Server
	tracker *tracker.Tracker
	declog  *decisionlog.Store
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部常驻循环，任意一个返回错误则整体退出。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("status api error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		interval := time.Duration(a.cfg.Engine.CycleMinutes) * time.Minute
		sched := scheduler.NewAlignedScheduler(ctx, "decision-cycle", interval, 15*time.Second)
		sched.RunImmediately = true
		sched.Start(func() { a.runCycleWithRetry(ctx) })
		return nil
	})

	group.Go(func() error {
		interval := time.Duration(a.cfg.Engine.MonitorSeconds) * time.Second
		sched := scheduler.NewAlignedScheduler(ctx, "position-monitor", interval, 0)
		sched.Start(func() { a.monitor.Tick(ctx) })
		return nil
	})

	err := group.Wait()
	a.Close()
	return err
}

// runCycleWithRetry 对单轮决策做有限次重试，仍失败则留给下一个周期边界。
func (a *App) runCycleWithRetry(ctx context.Context) {
	_, err := retry.Do(ctx, "决策周期", retry.Config{
		Attempts: a.cfg.Engine.RunRetryAttempts,
		Delay:    time.Duration(a.cfg.Engine.RunRetryDelaySec) * time.Second,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.engine.RunCycle(ctx)
	})
	if err != nil && ctx.Err() == nil {
		logger.Errorf("本轮决策放弃: %v", err)
	}
}

// Close 收尾本地存储，允许重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			logger.Warnf("关闭账本失败: %v", err)
		}
		a.tracker = nil
	}
	if a.declog != nil {
		if err := a.declog.Close(); err != nil {
			logger.Warnf("关闭决策日志失败: %v", err)
		}
		a.declog = nil
	}
}

// Package statsgauge 周期性刷新用户/任务相关的 Prometheus Gauge。
package statsgauge

import (
	"context"
	"log/slog"
	"time"

	"taskboard/internal/model"
	"taskboard/internal/pkg/metrics"

	"gorm.io/gorm"
)

// Collector 按固定间隔从数据库统计用户数和任务数并写入指标。
type Collector struct {
	db       *gorm.DB
	logger   *slog.Logger
	interval time.Duration
}

// NewCollector 创建一个新的统计采集器。
//
// 参数:
//
//	db: MySQL 数据库连接
//	logger: 日志记录器
//	interval: 采集间隔（<= 0 时使用默认值 1 分钟）
//
// 返回值:
//
//	*Collector: 采集器实例
func NewCollector(db *gorm.DB, logger *slog.Logger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Collector{db: db, logger: logger, interval: interval}
}

// Run 启动采集循环，直到 ctx 取消才返回。
//
// 首次立即采集一次，之后按 interval 定时刷新。
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("stats collector started",
		slog.String("interval", c.interval.String()))

	c.collect(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("stats collector stopped")
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

// collect 执行一次采集。统计失败不中断循环，只记日志。
func (c *Collector) collect(ctx context.Context) {
	var users int64
	if err := c.db.WithContext(ctx).Model(&model.User{}).Count(&users).Error; err != nil {
		c.logger.Warn("count users failed", slog.String("error", err.Error()))
	} else {
		metrics.UsersTotal.Set(float64(users))
	}

	var total, completed int64
	if err := c.db.WithContext(ctx).Model(&model.Todo{}).Count(&total).Error; err != nil {
		c.logger.Warn("count todos failed", slog.String("error", err.Error()))
		return
	}
	if err := c.db.WithContext(ctx).Model(&model.Todo{}).Where("completed = ?", true).Count(&completed).Error; err != nil {
		c.logger.Warn("count completed todos failed", slog.String("error", err.Error()))
		return
	}
	metrics.TodosTotal.WithLabelValues("completed").Set(float64(completed))
	metrics.TodosTotal.WithLabelValues("pending").Set(float64(total - completed))
}

package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/pkg/logger"
)

const timeRound = time.Millisecond

// LogSink 把事件写入结构化日志
type LogSink struct{}

// NewLogSink 创建日志落地端
func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) RecordOutcome(ctx context.Context, o *domain.ActionOutcome) error {
	entry := logger.WithFields(logrus.Fields{
		"account":  o.Account,
		"category": o.Category,
		"detail":   o.Detail,
		"elapsed":  o.Elapsed.Round(timeRound).String(),
	})
	if o.Success {
		if o.PnlDelta != 0 {
			entry.Infof("操作完成 pnl=%+.4f%%", o.PnlDelta*100)
		} else {
			entry.Info("操作完成")
		}
		return nil
	}
	entry.Warn("操作失败")
	return nil
}

func (s *LogSink) RecordTransition(ctx context.Context, t *domain.StateTransition) error {
	logger.WithFields(logrus.Fields{
		"account": t.Account,
		"from":    t.From,
		"to":      t.To,
	}).Infof("状态变更: %s", t.Reason)
	return nil
}

func (s *LogSink) RecordEquity(ctx context.Context, snap *EquitySnapshot) error {
	logger.WithFields(logrus.Fields{
		"account":   snap.Account,
		"positions": snap.OpenPositions,
	}).Infof("权益快照: equity=%.2f quote=%.2f", snap.NetEquity, snap.QuoteBalance)
	return nil
}

func (s *LogSink) Close() error { return nil }

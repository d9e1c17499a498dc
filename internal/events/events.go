// Package events 运行事件流
// 操作结果、状态变更和权益快照以追加方式扇出到多个落地端，
// 单个落地端失败只记录日志，不影响工作器主循环。
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/pkg/logger"
)

// EquitySnapshot 账户权益快照
type EquitySnapshot struct {
	Account       string    `json:"account"`
	NetEquity     float64   `json:"net_equity"`
	QuoteBalance  float64   `json:"quote_balance"`
	OpenPositions int       `json:"open_positions"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink 事件落地端
type Sink interface {
	RecordOutcome(ctx context.Context, o *domain.ActionOutcome) error
	RecordTransition(ctx context.Context, t *domain.StateTransition) error
	RecordEquity(ctx context.Context, snap *EquitySnapshot) error
	Close() error
}

// Journal 事件流入口，把记录扇出到全部落地端
// 各落地端自行保证并发安全，Journal 本身无状态
type Journal struct {
	sinks []Sink
}

// NewJournal 创建事件流，不带落地端时所有记录直接丢弃
func NewJournal(sinks ...Sink) *Journal {
	return &Journal{sinks: sinks}
}

// Outcome 记录一次操作结果
func (j *Journal) Outcome(ctx context.Context, o *domain.ActionOutcome) {
	for _, s := range j.sinks {
		if err := s.RecordOutcome(ctx, o); err != nil {
			logger.WithField("sink", fmt.Sprintf("%T", s)).Warnf("操作记录写入失败: %v", err)
		}
	}
}

// Transition 记录一次工作器状态变更
func (j *Journal) Transition(ctx context.Context, t *domain.StateTransition) {
	for _, s := range j.sinks {
		if err := s.RecordTransition(ctx, t); err != nil {
			logger.WithField("sink", fmt.Sprintf("%T", s)).Warnf("状态变更写入失败: %v", err)
		}
	}
}

// Equity 记录一次权益快照
func (j *Journal) Equity(ctx context.Context, snap *EquitySnapshot) {
	for _, s := range j.sinks {
		if err := s.RecordEquity(ctx, snap); err != nil {
			logger.WithField("sink", fmt.Sprintf("%T", s)).Warnf("权益快照写入失败: %v", err)
		}
	}
}

// Close 关闭全部落地端，返回第一个遇到的错误
func (j *Journal) Close() error {
	var first error
	for _, s := range j.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

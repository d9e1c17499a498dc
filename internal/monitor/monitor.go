// Package monitor 跟踪未平仓位并执行止损止盈
package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
	"github.com/betbot/gofarm/internal/metrics"
	"github.com/betbot/gofarm/internal/ports"
	"github.com/betbot/gofarm/pkg/logger"
)

// OrderClient 平仓所需的最小能力
type OrderClient interface {
	ports.OrderPlacer
	ports.OrderConfirmer
}

// Monitor 单账户仓位监视器
// 由所属工作器独占使用，每轮循环在抽取下一个操作之前先 Tick，
// 保证风控决策看到的是平仓后的最新盈亏
type Monitor struct {
	account   *domain.Account
	client    OrderClient
	positions map[string]*domain.Position // symbol -> 持仓
}

// New 创建仓位监视器
func New(account *domain.Account, client OrderClient) *Monitor {
	return &Monitor{
		account:   account,
		client:    client,
		positions: make(map[string]*domain.Position),
	}
}

// Has 检查交易对上是否已有持仓（开仓前的幂等保护）
func (m *Monitor) Has(symbol string) bool {
	_, ok := m.positions[symbol]
	return ok
}

// Open 登记一个新开仓位
// 同一交易对重复开仓违反持仓不变式，直接拒绝
func (m *Monitor) Open(pos *domain.Position) error {
	if pos == nil || pos.Symbol == "" {
		return errors.New("仓位信息不完整")
	}
	if m.Has(pos.Symbol) {
		return errors.Errorf("交易对 %s 已有持仓, 拒绝重复开仓", pos.Symbol)
	}
	m.positions[pos.Symbol] = pos
	return nil
}

// Count 当前持仓数
func (m *Monitor) Count() int {
	return len(m.positions)
}

// HeldSymbols 当前持仓的交易对列表（Tick 前取价用）
func (m *Monitor) HeldSymbols() []string {
	syms := make([]string, 0, len(m.positions))
	for s := range m.positions {
		syms = append(syms, s)
	}
	return syms
}

// Positions 导出持仓快照（状态持久化用）
func (m *Monitor) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// Restore 从快照恢复持仓（进程重启后接管旧仓位）
func (m *Monitor) Restore(positions []*domain.Position) {
	for _, p := range positions {
		if p == nil || p.Symbol == "" {
			continue
		}
		m.positions[p.Symbol] = p
	}
}

// Tick 用最新价格检查全部持仓，触发止损/止盈的仓位平掉
// 返回本轮产生的平仓结果（已实现盈亏由调用方计入风控）。
// 平仓遇到鉴权错误时立即中止巡检并返回该错误，由调用方决定是否停机；
// 其余失败只记入结果，仓位保留下轮重试
func (m *Monitor) Tick(ctx context.Context, prices map[string]float64) ([]domain.ActionOutcome, error) {
	if len(m.positions) == 0 {
		return nil, nil
	}

	var outcomes []domain.ActionOutcome
	for symbol, pos := range m.positions {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}

		pnl := pos.PnlPct(price)
		var reason string
		switch {
		case pos.HitStopLoss(price):
			reason = "stop_loss"
		case pos.HitTakeProfit(price):
			reason = "take_profit"
		default:
			continue
		}

		out, err := m.closePosition(ctx, pos, price, pnl, reason)
		outcomes = append(outcomes, out)
		if out.Success {
			delete(m.positions, symbol)
		}
		if exchange.IsAuth(err) {
			return outcomes, errors.Wrap(err, "平仓鉴权失败")
		}
	}
	return outcomes, nil
}

// closePosition 市价平仓
// 响应不明确时先查单确认，确认失败保留仓位留待下轮再试，绝不盲目重发
func (m *Monitor) closePosition(ctx context.Context, pos *domain.Position, price, pnl float64, reason string) (domain.ActionOutcome, error) {
	start := time.Now()
	log := logger.WithFields(logrus.Fields{
		"account": m.account.Name,
		"symbol":  pos.Symbol,
		"reason":  reason,
	})

	side := exchange.OrderSideAsk
	if pos.Side == domain.SideShort {
		side = exchange.OrderSideBid
	}
	req := &exchange.OrderRequest{
		Symbol:    pos.Symbol,
		Side:      side,
		OrderType: exchange.OrderTypeMarket,
		Quantity:  decimal.NewFromFloat(pos.Quantity),
		ClientID:  exchange.NewClientID(),
	}

	closed := false
	_, err := m.client.PlaceOrder(ctx, req)
	switch {
	case err == nil:
		closed = true
	case errors.Is(err, exchange.ErrAmbiguousOrder):
		res, found, cerr := m.client.ConfirmOrder(ctx, pos.Symbol, req.ClientID)
		if cerr != nil {
			err = cerr
			log.Warnf("平仓确认失败, 仓位保留: %v", cerr)
		} else if found && (res.IsFilled() || res.IsLive()) {
			closed = true
			err = nil
			log.Info("平仓单已确认存在")
		} else {
			err = nil
			log.Warn("平仓单未被交易所接受, 下轮重试")
		}
	default:
		log.Warnf("平仓失败, 仓位保留: %v", err)
	}

	outcome := domain.ActionOutcome{
		Account:   m.account.Name,
		Category:  domain.CategoryTrade,
		Detail:    "close:" + reason,
		Success:   closed,
		Elapsed:   time.Since(start),
		Timestamp: time.Now(),
	}
	if closed {
		outcome.PnlDelta = pnl
		metrics.PositionsClosed.Add(1)
		log.Infof("平仓完成: entry=%.4f exit=%.4f pnl=%.4f%%", pos.EntryPrice, price, pnl*100)
	}
	return outcome, err
}

package domain

import (
	"time"
)

// Side 交易方向
type Side string

const (
	SideLong  Side = "long"  // 多头（现货买入）
	SideShort Side = "short" // 空头（现货卖出）
)

// Sign 方向符号：多头 +1，空头 -1
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position 仓位领域模型
// 从开仓确认到平仓确认之间由 PositionMonitor 持有
// 不变式：每个 (账户, 交易对) 最多一个未平仓位，由 StrategyRunner 在开仓前保证
type Position struct {
	ID            string    `json:"id"`              // 仓位 ID（uuid）
	Symbol        string    `json:"symbol"`          // 交易对
	Side          Side      `json:"side"`            // 方向
	EntryPrice    float64   `json:"entry_price"`     // 入场价格
	Quantity      float64   `json:"quantity"`        // 数量（基础资产）
	StopLossPct   float64   `json:"stop_loss_pct"`   // 止损比例（0.004 = 0.4%）
	TakeProfitPct float64   `json:"take_profit_pct"` // 止盈比例（0.01 = 1.0%）
	OpenedAt      time.Time `json:"opened_at"`       // 开仓时间
	EntryOrderID  string    `json:"entry_order_id"`  // 入场订单 ID（审计用）
	Strategy      string    `json:"strategy"`        // 开仓策略名
}

// PnlPct 计算相对入场价的盈亏比例
// 多头 = (现价 - 入场价) / 入场价，空头取反
func (p *Position) PnlPct(currentPrice float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Side.Sign() * (currentPrice - p.EntryPrice) / p.EntryPrice
}

// HitStopLoss 检查是否触发止损
func (p *Position) HitStopLoss(currentPrice float64) bool {
	return p.PnlPct(currentPrice) <= -p.StopLossPct
}

// HitTakeProfit 检查是否触发止盈
func (p *Position) HitTakeProfit(currentPrice float64) bool {
	return p.PnlPct(currentPrice) >= p.TakeProfitPct
}

// NotionalValue 仓位名义价值（按现价计算，计价货币单位）
func (p *Position) NotionalValue(currentPrice float64) float64 {
	return p.Quantity * currentPrice
}

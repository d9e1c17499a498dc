package strategy

import (
	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
)

// MarketMaking 做市策略
// 价差足够宽时入场吃价差，方向跟随盘口委托量的不平衡：
// 买盘厚做多，卖盘厚做空
type MarketMaking struct {
	minSpreadPct float64
	depthLevels  int // 参与不平衡计算的盘口档数
}

// NewMarketMaking 创建做市策略
func NewMarketMaking(minSpreadPct float64) *MarketMaking {
	if minSpreadPct <= 0 {
		minSpreadPct = 0.0008
	}
	return &MarketMaking{minSpreadPct: minSpreadPct, depthLevels: 5}
}

func (m *MarketMaking) Kind() domain.StrategyKind {
	return domain.StrategyMarketMaking
}

func (m *MarketMaking) Evaluate(md *exchange.MarketData) *Signal {
	if md == nil || md.Depth == nil {
		return nil
	}
	if md.SpreadPct() < m.minSpreadPct {
		return nil
	}

	bidQty := depthQuantity(md.Depth.Bids, m.depthLevels)
	askQty := depthQuantity(md.Depth.Asks, m.depthLevels)
	if bidQty <= 0 && askQty <= 0 {
		return nil
	}

	if bidQty >= askQty {
		return &Signal{Side: domain.SideLong, Reason: "spread_bid_heavy"}
	}
	return &Signal{Side: domain.SideShort, Reason: "spread_ask_heavy"}
}

func depthQuantity(levels []exchange.DepthLevel, n int) float64 {
	var sum float64
	for i, lv := range levels {
		if i >= n {
			break
		}
		sum += lv.Quantity()
	}
	return sum
}

package strategy

import (
	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
)

// Basic 基础动量策略
// 现价高于近期成交均价顺势做多，低于则做空；没有成交数据时默认做多
// 基础策略的定位是高频刷量，几乎每次评估都给出信号
type Basic struct{}

// NewBasic 创建基础策略
func NewBasic() *Basic {
	return &Basic{}
}

func (b *Basic) Kind() domain.StrategyKind {
	return domain.StrategyBasic
}

func (b *Basic) Evaluate(md *exchange.MarketData) *Signal {
	if md == nil || md.LastPrice <= 0 {
		return nil
	}

	if len(md.RecentTrades) == 0 {
		return &Signal{Side: domain.SideLong, Reason: "default_long"}
	}

	var sum float64
	for _, t := range md.RecentTrades {
		sum += t.PriceFloat()
	}
	avg := sum / float64(len(md.RecentTrades))

	if md.LastPrice >= avg {
		return &Signal{Side: domain.SideLong, Reason: "momentum_up"}
	}
	return &Signal{Side: domain.SideShort, Reason: "momentum_down"}
}

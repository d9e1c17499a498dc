package strategy

import (
	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
)

// Crossover 均线交叉策略
// 用近期成交价序列算短/长窗口均价，短均线显著上穿做多、下穿做空
// 成交序列按最新在前的顺序消费
type Crossover struct {
	shortWindow int
	longWindow  int
	threshold   float64 // 均线偏离判定阈值，过滤噪声
}

// NewCrossover 创建均线交叉策略
func NewCrossover(shortWindow, longWindow int) *Crossover {
	if shortWindow <= 0 {
		shortWindow = 5
	}
	if longWindow <= shortWindow {
		longWindow = shortWindow * 4
	}
	return &Crossover{
		shortWindow: shortWindow,
		longWindow:  longWindow,
		threshold:   0.0005,
	}
}

func (c *Crossover) Kind() domain.StrategyKind {
	return domain.StrategyCrossover
}

func (c *Crossover) Evaluate(md *exchange.MarketData) *Signal {
	if md == nil || len(md.RecentTrades) < c.longWindow {
		return nil
	}

	shortMA := averagePrice(md.RecentTrades[:c.shortWindow])
	longMA := averagePrice(md.RecentTrades[:c.longWindow])
	if longMA <= 0 {
		return nil
	}

	diff := (shortMA - longMA) / longMA
	switch {
	case diff > c.threshold:
		return &Signal{Side: domain.SideLong, Reason: "ma_cross_up"}
	case diff < -c.threshold:
		return &Signal{Side: domain.SideShort, Reason: "ma_cross_down"}
	default:
		return nil
	}
}

func averagePrice(trades []exchange.PublicTrade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var sum float64
	for _, t := range trades {
		sum += t.PriceFloat()
	}
	return sum / float64(len(trades))
}

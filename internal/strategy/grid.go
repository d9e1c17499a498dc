package strategy

import (
	"fmt"
	"math"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
)

// Grid 网格策略
// 围绕中枢价维护虚拟网格：价格下穿一个间距买入，上穿一个间距卖出，
// 偏移超过半个间距但不足一格时只重定中枢不下单
// 有状态（中枢价），实例按账户持有
type Grid struct {
	spacing float64
	levels  int
	center  float64 // 0 表示未初始化
}

// NewGrid 创建网格策略
func NewGrid(spacing float64, levels int) *Grid {
	if spacing <= 0 {
		spacing = 0.004
	}
	if levels <= 0 {
		levels = 5
	}
	return &Grid{spacing: spacing, levels: levels}
}

func (g *Grid) Kind() domain.StrategyKind {
	return domain.StrategyGrid
}

// Center 当前中枢价（状态查询用）
func (g *Grid) Center() float64 {
	return g.center
}

func (g *Grid) Evaluate(md *exchange.MarketData) *Signal {
	if md == nil || md.LastPrice <= 0 {
		return nil
	}
	price := md.LastPrice

	// 首次评估只建中枢
	if g.center <= 0 {
		g.center = price
		return nil
	}

	dev := (price - g.center) / g.center
	abs := math.Abs(dev)

	switch {
	case abs < g.spacing*0.5:
		// 半格以内视为未离开当前网格
		return nil
	case abs < g.spacing:
		// 超过半格但不足一格：跟随重定中枢，不下单
		g.center = price
		return nil
	}

	// 越过的网格层数，封顶到配置层数
	level := int(abs / g.spacing)
	if level > g.levels {
		level = g.levels
	}
	g.center = price

	if dev < 0 {
		// 价格跌穿网格，低吸
		return &Signal{Side: domain.SideLong, Reason: fmt.Sprintf("grid_buy_level_%d", level)}
	}
	return &Signal{Side: domain.SideShort, Reason: fmt.Sprintf("grid_sell_level_%d", level)}
}

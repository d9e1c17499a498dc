// Package strategy 交易策略：信号计算与下单执行
//
// 每个策略只负责从市场数据算出入场信号，下单、持仓登记和风控
// 都在 Runner 里统一处理。策略实例按账户创建，互不共享状态。
package strategy

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
)

// Signal 一次策略评估产生的开仓意图
type Signal struct {
	Side   domain.Side // 方向
	Reason string      // 信号说明（日志与事件流用）
}

// Strategy 策略接口
// Evaluate 只做计算不做 IO，无信号返回 nil
type Strategy interface {
	Kind() domain.StrategyKind
	Evaluate(md *exchange.MarketData) *Signal
}

// Params 策略参数
type Params struct {
	StopLossPct   float64 `yaml:"stopLossPct"`   // 止损比例
	TakeProfitPct float64 `yaml:"takeProfitPct"` // 止盈比例
	OrderSizeMin  float64 `yaml:"orderSizeMin"`  // 单笔最小金额（计价货币）
	OrderSizeMax  float64 `yaml:"orderSizeMax"`  // 单笔最大金额（计价货币）

	GridSpacing float64 `yaml:"gridSpacing"` // 网格间距（0.004 = 0.4%）
	GridLevels  int     `yaml:"gridLevels"`  // 每侧网格层数

	ShortWindow  int     `yaml:"shortWindow"`  // 均线交叉短窗口（成交笔数）
	LongWindow   int     `yaml:"longWindow"`   // 均线交叉长窗口
	MinSpreadPct float64 `yaml:"minSpreadPct"` // 做市策略的最小价差

	// Weights 策略类型权重（第二次抽样）
	Weights map[domain.StrategyKind]float64 `yaml:"weights"`
}

// DefaultParams 默认策略参数
func DefaultParams() Params {
	return Params{
		StopLossPct:   0.004,
		TakeProfitPct: 0.01,
		OrderSizeMin:  10,
		OrderSizeMax:  50,
		GridSpacing:   0.004,
		GridLevels:    5,
		ShortWindow:   5,
		LongWindow:    20,
		MinSpreadPct:  0.0008,
		Weights:       domain.DefaultStrategyWeights,
	}
}

// Validate 启动期校验
func (p Params) Validate() error {
	if p.StopLossPct <= 0 || p.TakeProfitPct <= 0 {
		return errors.New("止损/止盈比例必须为正")
	}
	if p.OrderSizeMin <= 0 || p.OrderSizeMax < p.OrderSizeMin {
		return errors.Errorf("下单金额区间非法: [%v, %v]", p.OrderSizeMin, p.OrderSizeMax)
	}
	if p.GridSpacing <= 0 || p.GridLevels <= 0 {
		return errors.New("网格参数必须为正")
	}
	if p.ShortWindow <= 0 || p.LongWindow <= p.ShortWindow {
		return errors.Errorf("均线窗口非法: short=%d long=%d", p.ShortWindow, p.LongWindow)
	}
	var total float64
	for _, k := range domain.AllStrategyKinds {
		w := p.Weights[k]
		if w < 0 {
			return errors.Errorf("策略 %s 权重为负: %v", k, w)
		}
		total += w
	}
	if total <= 0 {
		return errors.New("策略权重总和必须为正")
	}
	return nil
}

// PickKind 按权重和给定随机数抽取策略类型，纯函数便于测试
func PickKind(weights map[domain.StrategyKind]float64, draw float64) domain.StrategyKind {
	var total float64
	for _, k := range domain.AllStrategyKinds {
		if w := weights[k]; w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return domain.StrategyBasic
	}

	target := draw * total
	var cum float64
	last := domain.StrategyBasic
	for _, k := range domain.AllStrategyKinds {
		w := weights[k]
		if w <= 0 {
			continue
		}
		cum += w
		last = k
		if target < cum {
			return k
		}
	}
	return last
}

// Registry 策略注册表
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyKind]Strategy
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.StrategyKind]Strategy)}
}

// Register 注册策略，重复注册报错
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := s.Kind()
	if _, exists := r.strategies[kind]; exists {
		return errors.Errorf("策略 %s 已注册", kind)
	}
	r.strategies[kind] = s
	return nil
}

// Get 获取策略
func (r *Registry) Get(kind domain.StrategyKind) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[kind]
	if !exists {
		return nil, errors.Errorf("策略 %s 未注册", kind)
	}
	return s, nil
}

// List 已注册的策略类型
func (r *Registry) List() []domain.StrategyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]domain.StrategyKind, 0, len(r.strategies))
	for k := range r.strategies {
		kinds = append(kinds, k)
	}
	return kinds
}

// Package dispatch 按权重随机抽取操作类别并派发执行
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
	"github.com/betbot/gofarm/internal/ports"
	"github.com/betbot/gofarm/pkg/logger"
)

// probePaths 功能探测用的公共只读端点
var probePaths = []string{
	"/api/v1/markets",
	"/api/v1/time",
	"/api/v1/markPrices",
	"/api/v1/openInterest",
}

// EffectiveWeights 计算本轮有效权重
// 时段系数只缩放 trade 类别；禁止交易时 trade 权重按比例摊给其余类别；
// 结果归一化为和 1
func EffectiveWeights(base map[domain.ActionCategory]float64, weightMult float64, tradingAllowed bool) map[domain.ActionCategory]float64 {
	out := make(map[domain.ActionCategory]float64, len(domain.AllCategories))
	for _, cat := range domain.AllCategories {
		out[cat] = base[cat]
	}

	out[domain.CategoryTrade] *= weightMult
	if !tradingAllowed {
		out[domain.CategoryTrade] = 0
	}

	var total float64
	for _, w := range out {
		total += w
	}
	if total <= 0 {
		// 权重全零无从抽样，兜底等权（启动期校验通常已挡住这种配置）
		for _, cat := range domain.AllCategories {
			out[cat] = 1.0 / float64(len(domain.AllCategories))
		}
		if !tradingAllowed {
			out[domain.CategoryTrade] = 0
			for _, cat := range domain.AllCategories {
				if cat != domain.CategoryTrade {
					out[cat] = 1.0 / float64(len(domain.AllCategories)-1)
				}
			}
		}
		return out
	}
	for cat, w := range out {
		out[cat] = w / total
	}
	return out
}

// Pick 按归一化权重和给定随机数抽取类别，纯函数便于测试
// draw 取值 [0,1)，按 AllCategories 固定顺序累积匹配
func Pick(weights map[domain.ActionCategory]float64, draw float64) domain.ActionCategory {
	var cum float64
	last := domain.AllCategories[len(domain.AllCategories)-1]
	for _, cat := range domain.AllCategories {
		w := weights[cat]
		if w <= 0 {
			continue
		}
		cum += w
		last = cat
		if draw < cum {
			return cat
		}
	}
	// 浮点误差残留落到最后一个非零类别
	return last
}

// ValidateWeights 启动期校验操作权重
// 总和必须为正；禁止交易时剩余类别也必须可抽样
func ValidateWeights(weights map[domain.ActionCategory]float64) error {
	var total, nonTrade float64
	for _, cat := range domain.AllCategories {
		w := weights[cat]
		if w < 0 {
			return errors.Errorf("类别 %s 权重为负: %v", cat, w)
		}
		total += w
		if cat != domain.CategoryTrade {
			nonTrade += w
		}
	}
	if total <= 0 {
		return errors.New("操作权重总和必须为正")
	}
	if nonTrade <= 0 {
		return errors.New("非交易类别权重总和必须为正, 否则冷却期内无操作可派发")
	}
	return nil
}

// TradeExecutor 交易类别的执行入口（由策略层实现）
type TradeExecutor interface {
	// ExecuteTrade 执行一次策略抽样与下单，返回具体动作描述
	// 无信号不算失败，返回描述即可
	ExecuteTrade(ctx context.Context) (string, error)
}

// Dispatcher 单账户的操作派发器
// 与所属工作器同生命周期，不跨账户共享
type Dispatcher struct {
	account *domain.Account
	client  ports.QueryClient
	trader  TradeExecutor
	rng     *rand.Rand
}

// New 创建派发器，rng 为该账户专用随机源
func New(account *domain.Account, client ports.QueryClient, trader TradeExecutor, rng *rand.Rand) *Dispatcher {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Dispatcher{account: account, client: client, trader: trader, rng: rng}
}

// SelectAction 按本轮有效权重抽取一个操作类别
func (d *Dispatcher) SelectAction(weightMult float64, tradingAllowed bool) domain.ActionCategory {
	weights := EffectiveWeights(d.account.Weights, weightMult, tradingAllowed)
	return Pick(weights, d.rng.Float64())
}

// Dispatch 执行指定类别的操作并产出结果记录
// 任何处理器错误都折叠为 success=false 的结果，不向上抛出
func (d *Dispatcher) Dispatch(ctx context.Context, category domain.ActionCategory) (domain.ActionOutcome, error) {
	start := time.Now()

	var detail string
	var err error
	switch category {
	case domain.CategoryTrade:
		detail, err = d.trader.ExecuteTrade(ctx)
	case domain.CategoryDataQuery:
		detail, err = d.dataQuery(ctx)
	case domain.CategoryAccountActivity:
		detail, err = d.accountActivity(ctx)
	case domain.CategoryLending:
		detail, err = d.lending(ctx)
	case domain.CategoryFeatureProbe:
		detail, err = d.featureProbe(ctx)
	default:
		err = errors.Errorf("未知操作类别: %s", category)
	}

	if err != nil {
		logger.WithFields(logrus.Fields{
			"account":  d.account.Name,
			"category": category,
			"detail":   detail,
		}).Warnf("操作执行失败: %v", err)
	}

	return domain.ActionOutcome{
		Account:   d.account.Name,
		Category:  category,
		Detail:    detail,
		Success:   err == nil,
		PnlDelta:  0,
		Elapsed:   time.Since(start),
		Timestamp: time.Now(),
	}, err
}

// dataQuery 数据查询：市场列表 / 行情 / 盘口 / 近期成交 随机取一
func (d *Dispatcher) dataQuery(ctx context.Context) (string, error) {
	symbol := d.account.PrimarySymbol()
	switch d.rng.Intn(4) {
	case 0:
		_, err := d.client.GetMarkets(ctx)
		return "markets", err
	case 1:
		_, err := d.client.GetTicker(ctx, symbol)
		return "ticker", err
	case 2:
		_, err := d.client.GetDepth(ctx, symbol)
		return "depth", err
	default:
		_, err := d.client.GetRecentTrades(ctx, symbol)
		return "recent_trades", err
	}
}

// accountActivity 账户活动：账户信息 / 余额 / 抵押品估值 随机取一
func (d *Dispatcher) accountActivity(ctx context.Context) (string, error) {
	switch d.rng.Intn(3) {
	case 0:
		_, err := d.client.GetAccountInfo(ctx)
		return "account_info", err
	case 1:
		_, err := d.client.GetBalances(ctx)
		return "balances", err
	default:
		_, err := d.client.GetCollateralInfo(ctx)
		return "collateral_value", err
	}
}

// lending 借贷操作：抵押品信息 / 借贷仓位 随机取一
func (d *Dispatcher) lending(ctx context.Context) (string, error) {
	if d.rng.Intn(2) == 0 {
		_, err := d.client.GetCollateralInfo(ctx)
		return "collateral_info", err
	}
	_, err := d.client.GetBorrowLendPositions(ctx)
	return "borrow_lend_positions", err
}

// featureProbe 功能使用：系统状态查询，或轮询一批公共端点探活
// 端点返回 4xx 业务错误也算探测成功（端点有响应即功能面已触达），
// 只有网络/认证类失败才算失败
func (d *Dispatcher) featureProbe(ctx context.Context) (string, error) {
	if d.rng.Intn(2) == 0 {
		_, err := d.client.GetSystemStatus(ctx)
		return "system_status", err
	}

	path := probePaths[d.rng.Intn(len(probePaths))]
	err := d.client.ProbeEndpoint(ctx, path)
	if err != nil && !exchange.IsTransient(err) && !exchange.IsAuth(err) {
		var apiErr *exchange.APIError
		if errors.As(err, &apiErr) {
			return "probe:" + path, nil
		}
	}
	return "probe:" + path, err
}

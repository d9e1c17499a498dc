package strategy

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
	"github.com/betbot/gofarm/internal/ports"
	"github.com/betbot/gofarm/pkg/logger"
)

// PositionBook 持仓登记接口（由 PositionMonitor 实现）
type PositionBook interface {
	Has(symbol string) bool
	Open(pos *domain.Position) error
}

// Runner 策略执行器
// 第二次权重抽样选出策略类型，评估信号并下单，开仓登记到持仓簿
// 每个账户一个实例，网格等有状态策略随实例隔离
type Runner struct {
	account  *domain.Account
	client   ports.TradingClient
	book     PositionBook
	params   Params
	registry *Registry
	rng      *rand.Rand
}

// NewRunner 创建策略执行器并注册全部策略
func NewRunner(account *domain.Account, client ports.TradingClient, book PositionBook, params Params, rng *rand.Rand) *Runner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if params.Weights == nil {
		params.Weights = domain.DefaultStrategyWeights
	}

	reg := NewRegistry()
	_ = reg.Register(NewBasic())
	_ = reg.Register(NewGrid(params.GridSpacing, params.GridLevels))
	_ = reg.Register(NewMarketMaking(params.MinSpreadPct))
	_ = reg.Register(NewCrossover(params.ShortWindow, params.LongWindow))

	return &Runner{
		account:  account,
		client:   client,
		book:     book,
		params:   params,
		registry: reg,
		rng:      rng,
	}
}

// ExecuteTrade 执行一次交易操作
// 已有持仓或无信号都按成功的空转处理；下单响应不明确时查单确认，
// 绝不重发同一笔订单
func (r *Runner) ExecuteTrade(ctx context.Context) (string, error) {
	symbol := r.account.PrimarySymbol()

	// 持仓不变式：同一交易对最多一个未平仓位
	if r.book.Has(symbol) {
		return "position_held", nil
	}

	kind := PickKind(r.params.Weights, r.rng.Float64())
	strat, err := r.registry.Get(kind)
	if err != nil {
		return string(kind), err
	}

	md, err := r.client.GetMarketData(ctx, symbol)
	if err != nil {
		return string(kind) + ":market_data", errors.Wrap(err, "获取市场数据失败")
	}

	sig := strat.Evaluate(md)
	if sig == nil {
		return string(kind) + ":no_signal", nil
	}

	result, req, err := r.placeEntry(ctx, symbol, sig, md)
	if err != nil {
		return string(kind) + ":entry", err
	}

	entryPrice := md.LastPrice
	if p, _ := result.Price.Float64(); p > 0 {
		entryPrice = p
	}
	quantity, _ := result.ExecutedQuantity.Float64()
	if quantity <= 0 {
		if q, _ := req.Quantity.Float64(); q > 0 {
			quantity = q
		} else if entryPrice > 0 {
			qq, _ := req.QuoteQuantity.Float64()
			quantity = qq / entryPrice
		}
	}

	pos := &domain.Position{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Side:          sig.Side,
		EntryPrice:    entryPrice,
		Quantity:      quantity,
		StopLossPct:   r.params.StopLossPct,
		TakeProfitPct: r.params.TakeProfitPct,
		OpenedAt:      time.Now(),
		EntryOrderID:  result.ID,
		Strategy:      string(kind),
	}
	if err := r.book.Open(pos); err != nil {
		return string(kind) + ":book", errors.Wrap(err, "持仓登记失败")
	}

	logger.WithFields(logrus.Fields{
		"account":  r.account.Name,
		"strategy": kind,
		"symbol":   symbol,
		"side":     sig.Side,
		"reason":   sig.Reason,
	}).Infof("开仓: entry=%.4f qty=%.6f", entryPrice, quantity)

	return fmt.Sprintf("%s:opened_%s", kind, sig.Side), nil
}

// placeEntry 下入场单
// 多头用计价金额市价买入，空头按等值基础数量市价卖出
func (r *Runner) placeEntry(ctx context.Context, symbol string, sig *Signal, md *exchange.MarketData) (*exchange.OrderResult, *exchange.OrderRequest, error) {
	quote := r.params.OrderSizeMin + r.rng.Float64()*(r.params.OrderSizeMax-r.params.OrderSizeMin)
	price := md.MidPrice()
	if price <= 0 {
		price = md.LastPrice
	}

	req := &exchange.OrderRequest{
		Symbol:    symbol,
		OrderType: exchange.OrderTypeMarket,
		ClientID:  exchange.NewClientID(),
	}
	if sig.Side == domain.SideLong {
		req.Side = exchange.OrderSideBid
		req.QuoteQuantity = decimal.NewFromFloat(quote)
	} else {
		req.Side = exchange.OrderSideAsk
		req.Quantity = exchange.QuantityForQuote(quote, price, symbol)
	}

	result, err := r.client.PlaceOrder(ctx, req)
	if err == nil {
		return result, req, nil
	}
	if !errors.Is(err, exchange.ErrAmbiguousOrder) {
		return nil, nil, err
	}

	// 响应不明确：查单确认，确认不到就认定未成交，留给下一轮
	res, found, cerr := r.client.ConfirmOrder(ctx, symbol, req.ClientID)
	if cerr != nil {
		return nil, nil, errors.Wrap(cerr, "下单结果确认失败")
	}
	if !found {
		return nil, nil, errors.New("下单未被交易所接受")
	}
	logger.WithField("account", r.account.Name).Info("入场单已通过查单确认")
	return res, req, nil
}

// Package replenish 资产补足
// 周期性检查账户持仓（现货加借贷池），低于最低线的资产自动市价买入补足，
// 保证交易操作始终有可用余额。补足失败只记录不致命。
package replenish

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

// Target 单个资产的最低线与补足金额
type Target struct {
	Asset       string  `yaml:"asset" json:"asset"`
	MinQuantity float64 `yaml:"minQuantity" json:"minQuantity"`
	TopUpQuote  float64 `yaml:"topUpQuote" json:"topUpQuote"`
}

// Config 补足器配置
type Config struct {
	Targets          []Target      `yaml:"targets" json:"targets"`
	QuoteAsset       string        `yaml:"quoteAsset" json:"quoteAsset"`
	MinOrderQuantity float64       `yaml:"minOrderQuantity" json:"minOrderQuantity"`
	SettlePause      time.Duration `yaml:"settlePause" json:"settlePause"`
}

// DefaultConfig 默认补足配置
func DefaultConfig() Config {
	return Config{
		Targets: []Target{
			{Asset: "SOL", MinQuantity: 0.5, TopUpQuote: 50},
			{Asset: "USDC", MinQuantity: 100, TopUpQuote: 100},
		},
		QuoteAsset:       "USDC",
		MinOrderQuantity: 0.0001,
		SettlePause:      3 * time.Second,
	}
}

// ExchangeClient 补足所需的交易所能力
type ExchangeClient interface {
	ports.BalancesGetter
	ports.CollateralGetter
	ports.TickerGetter
	ports.OrderPlacer
	ports.OrderConfirmer
}

// Result 单个资产的补足结果
type Result struct {
	Asset   string
	Current float64
	Bought  bool
	Detail  string
	Err     error
}

// Replenisher 资产补足器，每个账户一个实例
type Replenisher struct {
	account *domain.Account
	client  ExchangeClient
	cfg     Config
}

// New 创建补足器，零值配置项回落到默认值
func New(account *domain.Account, client ExchangeClient, cfg Config) *Replenisher {
	def := DefaultConfig()
	if len(cfg.Targets) == 0 {
		cfg.Targets = def.Targets
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = def.QuoteAsset
	}
	if cfg.MinOrderQuantity <= 0 {
		cfg.MinOrderQuantity = def.MinOrderQuantity
	}
	if cfg.SettlePause <= 0 {
		cfg.SettlePause = def.SettlePause
	}
	return &Replenisher{account: account, client: client, cfg: cfg}
}

// EnsureMinimums 检查全部目标资产并补足低于最低线的项
// 返回的 error 只表示余额查询失败，单笔买入失败记录在对应 Result 里，
// 每次调用对同一资产至多下一笔补足单
func (r *Replenisher) EnsureMinimums(ctx context.Context) ([]Result, error) {
	holdings, err := r.currentHoldings(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "获取资产失败")
	}

	var results []Result
	for _, tgt := range r.cfg.Targets {
		current := holdings[tgt.Asset]
		if current >= tgt.MinQuantity {
			continue
		}

		res := Result{Asset: tgt.Asset, Current: current}
		if tgt.Asset == r.cfg.QuoteAsset {
			// 计价资产无法用自身买入，只能提示人工充值
			res.Detail = "quote_asset_low"
			logger.WithFields(logrus.Fields{
				"account": r.account.Name,
				"asset":   tgt.Asset,
			}).Warnf("计价资产低于最低线: %.2f < %.2f", current, tgt.MinQuantity)
			results = append(results, res)
			continue
		}

		detail, err := r.buyAsset(ctx, tgt)
		res.Detail = detail
		res.Err = err
		res.Bought = err == nil
		results = append(results, res)

		if err != nil {
			logger.WithFields(logrus.Fields{
				"account": r.account.Name,
				"asset":   tgt.Asset,
			}).Warnf("补足买入失败: %v", err)
			continue
		}

		// 等待订单结算后再处理下一个资产
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-time.After(r.cfg.SettlePause):
		}
	}
	return results, nil
}

// currentHoldings 合并现货余额与借贷池抵押品得到总持仓
func (r *Replenisher) currentHoldings(ctx context.Context) (map[string]float64, error) {
	balances, err := r.client.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	holdings := make(map[string]float64, len(balances))
	for asset, b := range balances {
		if t, _ := b.Total().Float64(); t > 0 {
			holdings[asset] = t
		}
	}

	collateral, err := r.client.GetCollateralInfo(ctx)
	if err != nil {
		// 抵押品查询失败时退回现货口径
		logger.WithField("account", r.account.Name).Warnf("获取抵押品失败: %v", err)
		return holdings, nil
	}
	for _, asset := range collateral.Assets {
		if q, _ := asset.TotalQuantity.Float64(); q > 0 {
			holdings[asset.Symbol] += q
		}
	}
	return holdings, nil
}

// buyAsset 市价买入一笔补足单
// 先用计价金额下单动用现货余额，交易所报资金不足时改按基础数量下单，
// 后者可以动用借贷池资产
func (r *Replenisher) buyAsset(ctx context.Context, tgt Target) (string, error) {
	if tgt.TopUpQuote <= 0 {
		return "", errors.Errorf("资产 %s 未配置补足金额", tgt.Asset)
	}
	symbol := tgt.Asset + "_" + r.cfg.QuoteAsset

	ticker, err := r.client.GetTicker(ctx, symbol)
	if err != nil {
		return "", errors.Wrapf(err, "获取 %s 价格失败", symbol)
	}
	price, _ := ticker.LastPrice.Float64()
	if price <= 0 {
		return "", errors.Errorf("无法获取 %s 价格", symbol)
	}

	req := &exchange.OrderRequest{
		Symbol:        symbol,
		Side:          exchange.OrderSideBid,
		OrderType:     exchange.OrderTypeMarket,
		QuoteQuantity: decimal.NewFromFloat(tgt.TopUpQuote),
		ClientID:      exchange.NewClientID(),
	}
	detail, err := r.submit(ctx, req, "quote_sized")
	if err == nil || !exchange.IsInsufficientFunds(err) {
		return detail, err
	}

	quantity := exchange.QuantityForQuote(tgt.TopUpQuote, price, symbol)
	if q, _ := quantity.Float64(); q < r.cfg.MinOrderQuantity {
		return "", errors.Errorf("买入数量 %s 低于最小下单量", quantity)
	}
	fallback := &exchange.OrderRequest{
		Symbol:    symbol,
		Side:      exchange.OrderSideBid,
		OrderType: exchange.OrderTypeMarket,
		Quantity:  quantity,
		ClientID:  exchange.NewClientID(),
	}
	return r.submit(ctx, fallback, "base_sized")
}

// submit 下单并处理不明确响应，确认不到的订单按失败处理而不重发
func (r *Replenisher) submit(ctx context.Context, req *exchange.OrderRequest, mode string) (string, error) {
	result, err := r.client.PlaceOrder(ctx, req)
	if err != nil {
		if !errors.Is(err, exchange.ErrAmbiguousOrder) {
			return "", err
		}
		res, found, cerr := r.client.ConfirmOrder(ctx, req.Symbol, req.ClientID)
		if cerr != nil {
			return "", errors.Wrap(cerr, "补足单确认失败")
		}
		if !found {
			return "", errors.New("补足单未被交易所接受")
		}
		result = res
	}

	metrics.ReplenishOrders.Add(1)
	logger.WithFields(logrus.Fields{
		"account": r.account.Name,
		"symbol":  req.Symbol,
		"mode":    mode,
	}).Infof("补足买入成交: executed=%s status=%s", result.ExecutedQuantity, result.Status)
	return mode, nil
}

package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// 交易所 REST 返回的数量/价格都是字符串，统一先解析为 decimal 保精度，
// 核心层需要时再转 float64

// Balance 单资产余额
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Staked    decimal.Decimal `json:"staked"`
}

// Total 可用+冻结+质押
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked).Add(b.Staked)
}

// Balances 资产 -> 余额
type Balances map[string]Balance

// AvailableFloat 某资产的可用余额（float64）
func (bs Balances) AvailableFloat(asset string) float64 {
	b, ok := bs[asset]
	if !ok {
		return 0
	}
	f, _ := b.Available.Float64()
	return f
}

// Ticker 行情快照
type Ticker struct {
	Symbol             string          `json:"symbol"`
	LastPrice          decimal.Decimal `json:"lastPrice"`
	PriceChangePercent decimal.Decimal `json:"priceChangePercent"`
	High               decimal.Decimal `json:"high"`
	Low                decimal.Decimal `json:"low"`
	Volume             decimal.Decimal `json:"volume"`
	QuoteVolume        decimal.Decimal `json:"quoteVolume"`
}

// DepthLevel 盘口单档 [价格, 数量]
type DepthLevel [2]decimal.Decimal

// Price 档位价格
func (l DepthLevel) Price() float64 {
	f, _ := l[0].Float64()
	return f
}

// Quantity 档位数量
func (l DepthLevel) Quantity() float64 {
	f, _ := l[1].Float64()
	return f
}

// Depth 盘口
type Depth struct {
	Bids         []DepthLevel `json:"bids"` // 买盘，价格降序
	Asks         []DepthLevel `json:"asks"` // 卖盘，价格升序
	LastUpdateID string       `json:"lastUpdateId"`
}

// BestBid 最优买价，空盘返回 0
func (d *Depth) BestBid() float64 {
	if d == nil || len(d.Bids) == 0 {
		return 0
	}
	return d.Bids[0].Price()
}

// BestAsk 最优卖价，空盘返回 0
func (d *Depth) BestAsk() float64 {
	if d == nil || len(d.Asks) == 0 {
		return 0
	}
	return d.Asks[0].Price()
}

// PublicTrade 公开成交记录
type PublicTrade struct {
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    int64           `json:"timestamp"`
	IsBuyerMaker bool            `json:"isBuyerMaker"`
}

// PriceFloat 成交价（float64）
func (t PublicTrade) PriceFloat() float64 {
	f, _ := t.Price.Float64()
	return f
}

// MarketData 一个交易对的市场数据快照（行情 + 盘口 + 近期成交）
type MarketData struct {
	Symbol       string
	LastPrice    float64
	BestBid      float64
	BestAsk      float64
	Depth        *Depth
	RecentTrades []PublicTrade
	FetchedAt    time.Time
}

// MidPrice 盘口中间价，盘口缺失时退回最新成交价
func (m *MarketData) MidPrice() float64 {
	if m.BestBid > 0 && m.BestAsk > 0 {
		return (m.BestBid + m.BestAsk) / 2
	}
	return m.LastPrice
}

// SpreadPct 相对价差，无法计算时返回 0
func (m *MarketData) SpreadPct() float64 {
	if m.BestBid <= 0 || m.BestAsk <= 0 {
		return 0
	}
	mid := (m.BestBid + m.BestAsk) / 2
	return (m.BestAsk - m.BestBid) / mid
}

// Market 交易对元信息
type Market struct {
	Symbol      string `json:"symbol"`
	BaseSymbol  string `json:"baseSymbol"`
	QuoteSymbol string `json:"quoteSymbol"`
	MarketType  string `json:"marketType"`
}

// OrderSide 订单方向（交易所语义：Bid=买，Ask=卖）
type OrderSide string

const (
	OrderSideBid OrderSide = "Bid"
	OrderSideAsk OrderSide = "Ask"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// OrderRequest 下单请求
// Quantity 与 QuoteQuantity 二选一：市价单优先用计价金额（QuoteQuantity），
// 交易所拒绝时回退基础数量
type OrderRequest struct {
	Symbol        string          `json:"symbol"`
	Side          OrderSide       `json:"side"`
	OrderType     OrderType       `json:"orderType"`
	Quantity      decimal.Decimal `json:"quantity,omitempty"`
	QuoteQuantity decimal.Decimal `json:"quoteQuantity,omitempty"`
	Price         decimal.Decimal `json:"price,omitempty"`
	TimeInForce   string          `json:"timeInForce,omitempty"`
	PostOnly      bool            `json:"postOnly,omitempty"`
	ClientID      uint32          `json:"clientId,omitempty"`
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusExpired         OrderStatus = "Expired"
)

// OrderResult 下单/查单返回
type OrderResult struct {
	ID               string          `json:"id"`
	ClientID         uint32          `json:"clientId"`
	Symbol           string          `json:"symbol"`
	Side             OrderSide       `json:"side"`
	OrderType        OrderType       `json:"orderType"`
	Status           OrderStatus     `json:"status"`
	Quantity         decimal.Decimal `json:"quantity"`
	ExecutedQuantity decimal.Decimal `json:"executedQuantity"`
	Price            decimal.Decimal `json:"price"`
	CreatedAt        int64           `json:"createdAt"`
}

// IsFilled 是否已全部成交
func (r *OrderResult) IsFilled() bool {
	return r != nil && r.Status == OrderStatusFilled
}

// IsLive 是否仍挂在订单簿上
func (r *OrderResult) IsLive() bool {
	return r != nil && (r.Status == OrderStatusNew || r.Status == OrderStatusPartiallyFilled)
}

// Fill 成交历史记录
type Fill struct {
	OrderID   string          `json:"orderId"`
	ClientID  uint32          `json:"clientId"`
	Symbol    string          `json:"symbol"`
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	FeeSymbol string          `json:"feeSymbol"`
	Timestamp int64           `json:"timestamp"`
}

// CollateralAsset 单资产抵押信息
type CollateralAsset struct {
	Symbol          string          `json:"symbol"`
	TotalQuantity   decimal.Decimal `json:"totalQuantity"`
	CollateralValue decimal.Decimal `json:"collateralValue"`
	LendQuantity    decimal.Decimal `json:"lendQuantity"`
}

// CollateralSnapshot 抵押品快照
type CollateralSnapshot struct {
	NetEquity       decimal.Decimal   `json:"netEquity"`
	TotalCollateral decimal.Decimal   `json:"totalCollateralValue"`
	Assets          []CollateralAsset `json:"collateral"`
}

// BorrowLendPosition 借贷仓位
type BorrowLendPosition struct {
	Symbol             string          `json:"symbol"`
	NetQuantity        decimal.Decimal `json:"netQuantity"`
	Side               string          `json:"side"` // Borrow / Lend
	CumulativeInterest decimal.Decimal `json:"cumulativeInterest"`
}

// AccountInfo 账户设置信息
type AccountInfo struct {
	AutoLend         bool   `json:"autoLend"`
	AutoRepayBorrows bool   `json:"autoRepayBorrows"`
	LeverageLimit    string `json:"leverageLimit"`
}

// SystemStatus 系统状态
type SystemStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

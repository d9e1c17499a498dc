package ports

import (
	"context"

	"github.com/betbot/gofarm/internal/exchange"
)

// Small capability interfaces shared across layers (dispatch/strategy/monitor/replenish).
// A client instance is bound to one account's credentials at construction.

type BalancesGetter interface {
	GetBalances(ctx context.Context) (exchange.Balances, error)
}

type MarketDataGetter interface {
	GetMarketData(ctx context.Context, symbol string) (*exchange.MarketData, error)
}

type TickerGetter interface {
	GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error)
}

type DepthGetter interface {
	GetDepth(ctx context.Context, symbol string) (*exchange.Depth, error)
}

type TradesGetter interface {
	GetRecentTrades(ctx context.Context, symbol string) ([]exchange.PublicTrade, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.OrderResult, error)
}

type OrderCanceler interface {
	CancelOrder(ctx context.Context, symbol, orderID string) error
}

type OrderConfirmer interface {
	// ConfirmOrder 在下单响应不明确（超时/5xx）时查询订单是否真实存在，
	// 避免盲目重发造成重复下单
	ConfirmOrder(ctx context.Context, symbol string, clientID uint32) (*exchange.OrderResult, bool, error)
}

type CollateralGetter interface {
	GetCollateralInfo(ctx context.Context) (*exchange.CollateralSnapshot, error)
}

type LendingGetter interface {
	GetBorrowLendPositions(ctx context.Context) ([]exchange.BorrowLendPosition, error)
}

type MarketsGetter interface {
	GetMarkets(ctx context.Context) ([]exchange.Market, error)
}

type StatusGetter interface {
	GetSystemStatus(ctx context.Context) (*exchange.SystemStatus, error)
}

type AccountInfoGetter interface {
	GetAccountInfo(ctx context.Context) (*exchange.AccountInfo, error)
}

type EndpointProber interface {
	// ProbeEndpoint 访问一个公共只读端点（markPrices / openInterest 等），
	// 只探活不消费数据
	ProbeEndpoint(ctx context.Context, path string) error
}

// Composite convenience interfaces.

// TradingClient 策略执行所需能力
type TradingClient interface {
	MarketDataGetter
	OrderPlacer
	OrderCanceler
	OrderConfirmer
	BalancesGetter
}

// QueryClient 非交易类操作所需能力
type QueryClient interface {
	MarketsGetter
	MarketDataGetter
	TickerGetter
	DepthGetter
	TradesGetter
	BalancesGetter
	AccountInfoGetter
	CollateralGetter
	LendingGetter
	StatusGetter
	EndpointProber
}

// ExchangeClient 完整的交易所能力集合
type ExchangeClient interface {
	TradingClient
	QueryClient
}

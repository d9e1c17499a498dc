package exchange

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/gofarm/internal/metrics"
	"github.com/betbot/gofarm/pkg/backoff"
	"github.com/betbot/gofarm/pkg/logger"
	"github.com/betbot/gofarm/pkg/ratelimit"
)

// DefaultBaseURL 交易所 REST 地址
const DefaultBaseURL = "https://api.backpack.exchange"

// Config 客户端配置（一个客户端绑定一个账户的凭证）
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	ProxyURL     string // 账户独立代理，可选
	APIKey       string
	APISecret    string
	SignWindowMS int64
	Retry        backoff.Policy
	TradesLimit  int // 近期成交查询条数
}

// Client 交易所 REST 客户端
// 查询类请求按退避策略重试；下单请求从不盲目重发，
// 响应不明确时返回 ErrAmbiguousOrder，由调用方先查单确认
type Client struct {
	http        *resty.Client
	signer      *Signer
	limits      *ratelimit.RateLimitManager
	retry       backoff.Policy
	tradesLimit int
}

// NewClient 创建客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = backoff.Default()
	}
	if cfg.TradesLimit <= 0 {
		cfg.TradesLimit = 50
	}

	signer, err := NewSigner(cfg.APIKey, cfg.APISecret, cfg.SignWindowMS)
	if err != nil {
		return nil, errors.Wrap(err, "创建签名器失败")
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "gofarm/1.0")

	if cfg.ProxyURL != "" {
		client.SetProxy(cfg.ProxyURL)
		logger.Debugf("[exchange] 使用代理: %s", cfg.ProxyURL)
	}

	return &Client{
		http:        client,
		signer:      signer,
		limits:      ratelimit.NewRateLimitManager(),
		retry:       cfg.Retry,
		tradesLimit: cfg.TradesLimit,
	}, nil
}

// reqSpec 一次请求的描述
// params 同时作为 query/body 和签名参数（数值一律字符串化，与签名串一致）
type reqSpec struct {
	method      string
	path        string
	params      map[string]string
	instruction string // 空表示公共端点，无需签名
	limitKey    string
	out         interface{} // 成功响应的解码目标，nil 表示丢弃
}

// apiErrorBody 交易所错误响应体
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do 执行请求：暂时性错误按策略退避重试，签名过期立即换新时间戳重试一次
func (c *Client) do(ctx context.Context, spec reqSpec) error {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	resigned := false
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.send(ctx, spec)
		err = c.checkResponse(resp, err, spec.out)
		if err == nil {
			return nil
		}
		lastErr = err

		// 时间戳过期：换新签名重试一次，不计入退避次数
		if isExpiredRequest(err) && !resigned {
			resigned = true
			attempt--
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.BaseDelay):
			}
			continue
		}

		if !IsTransient(err) || attempt >= attempts {
			return err
		}

		delay := c.retry.Delay(attempt)
		if ra := retryAfter(resp); ra > 0 {
			delay = ra // 429 按服务端要求等待
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// doOnce 执行请求但不做暂时性重试（下单专用），签名过期仍可换签重试一次
func (c *Client) doOnce(ctx context.Context, spec reqSpec) error {
	resp, err := c.send(ctx, spec)
	err = c.checkResponse(resp, err, spec.out)
	if err != nil && isExpiredRequest(err) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retry.BaseDelay):
		}
		resp, err = c.send(ctx, spec)
		err = c.checkResponse(resp, err, spec.out)
	}
	return err
}

// send 发送单次请求（每次发送都重新生成签名头）
func (c *Client) send(ctx context.Context, spec reqSpec) (*resty.Response, error) {
	if spec.limitKey != "" {
		if err := c.limits.Wait(ctx, spec.limitKey); err != nil {
			return nil, err
		}
	}

	req := c.http.R().SetContext(ctx)

	switch spec.method {
	case http.MethodGet:
		if len(spec.params) > 0 {
			req.SetQueryParams(spec.params)
		}
	default:
		if len(spec.params) > 0 {
			req.SetBody(spec.params)
		}
	}

	if spec.instruction != "" {
		req.SetHeaders(c.signer.Headers(spec.instruction, spec.params, time.Now()))
	}

	return req.Execute(spec.method, spec.path)
}

// checkResponse 网络错误/业务错误归类，成功时解码响应体
func (c *Client) checkResponse(resp *resty.Response, err error, out interface{}) error {
	if err != nil {
		return &TransientError{Err: err}
	}
	if resp == nil {
		return &TransientError{Err: errors.New("empty response")}
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		if out == nil || len(resp.Body()) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "解析响应失败: %s", truncate(resp.Body(), 200))
		}
		return nil
	}

	var body apiErrorBody
	_ = json.Unmarshal(resp.Body(), &body)
	if body.Message == "" {
		body.Message = truncate(resp.Body(), 200)
	}
	return classifyAPIError(status, body.Code, body.Message)
}

// retryAfter 解析 429 响应的 Retry-After 头
func retryAfter(resp *resty.Response) time.Duration {
	if resp == nil || resp.StatusCode() != http.StatusTooManyRequests {
		return 0
	}
	if v := resp.Header().Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// ---- 公共端点 ----

// GetMarkets 查询全部交易对
func (c *Client) GetMarkets(ctx context.Context) ([]Market, error) {
	var out []Market
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/markets",
		limitKey: "markets:get", out: &out,
	})
	return out, err
}

// GetTicker 查询单交易对行情
func (c *Client) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var out Ticker
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/ticker",
		params: map[string]string{"symbol": symbol},
		limitKey: "ticker:get", out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDepth 查询盘口
func (c *Client) GetDepth(ctx context.Context, symbol string) (*Depth, error) {
	var out Depth
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/depth",
		params: map[string]string{"symbol": symbol},
		limitKey: "depth:get", out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRecentTrades 查询近期公开成交
func (c *Client) GetRecentTrades(ctx context.Context, symbol string) ([]PublicTrade, error) {
	var out []PublicTrade
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/trades",
		params: map[string]string{
			"symbol": symbol,
			"limit":  strconv.Itoa(c.tradesLimit),
		},
		limitKey: "trades:get", out: &out,
	})
	return out, err
}

// GetMarketData 组合查询一个交易对的市场数据快照
func (c *Client) GetMarketData(ctx context.Context, symbol string) (*MarketData, error) {
	ticker, err := c.GetTicker(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "查询行情失败: %s", symbol)
	}
	depth, err := c.GetDepth(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "查询盘口失败: %s", symbol)
	}
	trades, err := c.GetRecentTrades(ctx, symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "查询成交失败: %s", symbol)
	}

	last, _ := ticker.LastPrice.Float64()
	return &MarketData{
		Symbol:       symbol,
		LastPrice:    last,
		BestBid:      depth.BestBid(),
		BestAsk:      depth.BestAsk(),
		Depth:        depth,
		RecentTrades: trades,
		FetchedAt:    time.Now(),
	}, nil
}

// GetSystemStatus 查询系统状态
func (c *Client) GetSystemStatus(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/status",
		limitKey: "public:general", out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ProbeEndpoint 访问一个公共只读端点，只探活不消费数据
func (c *Client) ProbeEndpoint(ctx context.Context, path string) error {
	return c.do(ctx, reqSpec{
		method: http.MethodGet, path: path,
		limitKey: "public:general",
	})
}

// ---- 签名端点 ----

// GetBalances 查询现货余额
func (c *Client) GetBalances(ctx context.Context) (Balances, error) {
	var out Balances
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/capital",
		instruction: "balanceQuery",
		limitKey:    "capital:get", out: &out,
	})
	return out, err
}

// GetAccountInfo 查询账户设置
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	var out AccountInfo
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/account",
		instruction: "accountQuery",
		limitKey:    "account:get", out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCollateralInfo 查询抵押品信息
func (c *Client) GetCollateralInfo(ctx context.Context) (*CollateralSnapshot, error) {
	var out CollateralSnapshot
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/capital/collateral",
		instruction: "collateralQuery",
		limitKey:    "capital:get", out: &out,
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBorrowLendPositions 查询借贷仓位
func (c *Client) GetBorrowLendPositions(ctx context.Context) ([]BorrowLendPosition, error) {
	var out []BorrowLendPosition
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/borrowLend/positions",
		instruction: "borrowLendPositionQuery",
		limitKey:    "borrowlend:get", out: &out,
	})
	return out, err
}

// GetOpenOrders 查询未完成订单
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]OrderResult, error) {
	var out []OrderResult
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/api/v1/orders",
		params:      map[string]string{"symbol": symbol},
		instruction: "orderQueryAll",
		limitKey:    "orders:get", out: &out,
	})
	return out, err
}

// GetFillHistory 查询成交历史
func (c *Client) GetFillHistory(ctx context.Context, symbol string, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Fill
	err := c.do(ctx, reqSpec{
		method: http.MethodGet, path: "/wapi/v1/history/fills",
		params: map[string]string{
			"symbol": symbol,
			"limit":  strconv.Itoa(limit),
		},
		instruction: "fillHistoryQueryAll",
		limitKey:    "fills:get", out: &out,
	})
	return out, err
}

// PlaceOrder 下单
// 暂时性失败不重发：返回 ErrAmbiguousOrder，调用方用 ConfirmOrder 确认后再决定
func (c *Client) PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error) {
	params := orderParams(req)

	var out OrderResult
	err := c.doOnce(ctx, reqSpec{
		method: http.MethodPost, path: "/api/v1/order",
		params:      params,
		instruction: "orderExecute",
		limitKey:    "order:post", out: &out,
	})
	if err != nil {
		if IsTransient(err) {
			metrics.OrdersAmbiguous.Add(1)
			return nil, errors.Wrap(ErrAmbiguousOrder, err.Error())
		}
		return nil, err
	}
	metrics.OrdersPlaced.Add(1)
	return &out, nil
}

// CancelOrder 撤单
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return c.do(ctx, reqSpec{
		method: http.MethodDelete, path: "/api/v1/order",
		params: map[string]string{
			"symbol":  symbol,
			"orderId": orderID,
		},
		instruction: "orderCancel",
		limitKey:    "order:delete",
	})
}

// ConfirmOrder 按 clientId 确认一笔下单是否真实存在
// 先查未完成订单，再查成交历史；两处都没有则认为订单未被接受
func (c *Client) ConfirmOrder(ctx context.Context, symbol string, clientID uint32) (*OrderResult, bool, error) {
	if clientID == 0 {
		return nil, false, errors.New("clientId 为空，无法确认订单")
	}

	open, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, false, errors.Wrap(err, "确认订单失败（查询挂单）")
	}
	for i := range open {
		if open[i].ClientID == clientID {
			metrics.OrdersConfirmed.Add(1)
			return &open[i], true, nil
		}
	}

	fills, err := c.GetFillHistory(ctx, symbol, 100)
	if err != nil {
		return nil, false, errors.Wrap(err, "确认订单失败（查询成交）")
	}
	for _, f := range fills {
		if f.ClientID == clientID {
			metrics.OrdersConfirmed.Add(1)
			return &OrderResult{
				ID:               f.OrderID,
				ClientID:         f.ClientID,
				Symbol:           f.Symbol,
				Side:             f.Side,
				Status:           OrderStatusFilled,
				Quantity:         f.Quantity,
				ExecutedQuantity: f.Quantity,
				Price:            f.Price,
			}, true, nil
		}
	}

	return nil, false, nil
}

// NewClientID 生成下单用的数值 clientId
func NewClientID() uint32 {
	u := uuid.New()
	id := binary.BigEndian.Uint32(u[0:4])
	if id == 0 {
		id = 1
	}
	return id
}

// orderParams 将下单请求转为字符串参数（body 与签名串共用）
func orderParams(req *OrderRequest) map[string]string {
	params := map[string]string{
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.OrderType),
	}
	if req.QuoteQuantity.IsPositive() {
		params["quoteQuantity"] = req.QuoteQuantity.StringFixed(2)
	}
	if req.Quantity.IsPositive() {
		params["quantity"] = req.Quantity.String()
	}
	if req.Price.IsPositive() {
		params["price"] = req.Price.String()
	}
	if req.TimeInForce != "" {
		params["timeInForce"] = req.TimeInForce
	}
	if req.PostOnly {
		params["postOnly"] = "true"
	}
	if req.ClientID != 0 {
		params["clientId"] = fmt.Sprintf("%d", req.ClientID)
	}
	return params
}

// QuantityForQuote 按价格把计价金额换算成基础数量（小数位按资产惯例截断）
func QuantityForQuote(quoteAmount, price float64, symbol string) decimal.Decimal {
	if price <= 0 {
		return decimal.Zero
	}
	qty := decimal.NewFromFloat(quoteAmount).Div(decimal.NewFromFloat(price))
	switch {
	case hasPrefix(symbol, "BTC"):
		return qty.Truncate(8)
	case hasPrefix(symbol, "ETH"):
		return qty.Truncate(6)
	default:
		return qty.Truncate(4)
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

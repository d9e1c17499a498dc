package exchange

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/gofarm/pkg/backoff"
)

func fastRetry() backoff.Policy {
	return backoff.Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, baseURL string) (*Client, ed25519.PublicKey) {
	t.Helper()
	secret, pub := testSecret()
	c, err := NewClient(Config{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		APIKey:    "test-key",
		APISecret: secret,
		Retry:     fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, pub
}

// rebuildSigningString 服务端按同样规则重建签名串
func rebuildSigningString(instruction string, params map[string]string, r *http.Request) string {
	var sb strings.Builder
	sb.WriteString("instruction=")
	sb.WriteString(instruction)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("&")
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(params[k])
	}
	sb.WriteString("&timestamp=")
	sb.WriteString(r.Header.Get("X-Timestamp"))
	sb.WriteString("&window=")
	sb.WriteString(r.Header.Get("X-Window"))
	return sb.String()
}

func verifyRequestSignature(t *testing.T, r *http.Request, pub ed25519.PublicKey, instruction string, params map[string]string) {
	t.Helper()
	if r.Header.Get("X-API-Key") != "test-key" {
		t.Errorf("X-API-Key = %q", r.Header.Get("X-API-Key"))
	}
	sig, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Signature"))
	if err != nil {
		t.Fatalf("签名头非法: %v", err)
	}
	payload := rebuildSigningString(instruction, params, r)
	if !ed25519.Verify(pub, []byte(payload), sig) {
		t.Fatalf("签名验证失败: payload=%s", payload)
	}
}

func TestClient_GetBalances(t *testing.T) {
	var pub ed25519.PublicKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/capital" || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		verifyRequestSignature(t, r, pub, "balanceQuery", nil)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"SOL":{"available":"2.5","locked":"0.1","staked":"0"},"USDC":{"available":"150","locked":"0","staked":"0"}}`))
	}))
	defer srv.Close()

	c, p := newTestClient(t, srv.URL)
	pub = p

	bs, err := c.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if got := bs.AvailableFloat("SOL"); got != 2.5 {
		t.Errorf("SOL available = %v", got)
	}
	if got := bs.AvailableFloat("USDC"); got != 150 {
		t.Errorf("USDC available = %v", got)
	}
	if got := bs.AvailableFloat("BTC"); got != 0 {
		t.Errorf("缺失资产应返回 0, got %v", got)
	}
}

func TestClient_TransientRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"code":"SERVER_ERROR","message":"oops"}`, http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"SOL_USDC","lastPrice":"150.25"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	tk, err := c.GetTicker(context.Background(), "SOL_USDC")
	if err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if !tk.LastPrice.Equal(decimal.NewFromFloat(150.25)) {
		t.Errorf("lastPrice = %s", tk.LastPrice)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("应在第二次成功, calls=%d", n)
	}
}

func TestClient_RetryAfterHonored(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, `{"code":"TOO_MANY_REQUESTS","message":"slow down"}`, http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"SOL_USDC","lastPrice":"150"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	start := time.Now()
	if _, err := c.GetTicker(context.Background(), "SOL_USDC"); err != nil {
		t.Fatalf("GetTicker: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("未按 Retry-After 等待, elapsed=%v", elapsed)
	}
}

func TestClient_AuthErrorNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"code":"UNAUTHORIZED","message":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.GetBalances(context.Background())
	if !IsAuth(err) {
		t.Fatalf("应返回认证错误, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("认证错误不应重试, calls=%d", n)
	}
}

func TestClient_ExpiredRequestResigned(t *testing.T) {
	var calls int32
	var timestamps []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamps = append(timestamps, r.Header.Get("X-Timestamp"))
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"code":"INVALID_SIGNATURE","message":"Request has expired"}`, http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	if _, err := c.GetBalances(context.Background()); err != nil {
		t.Fatalf("过期后换签重试应成功: %v", err)
	}
	if len(timestamps) != 2 {
		t.Fatalf("应发出两次请求, got %d", len(timestamps))
	}
	if timestamps[0] == timestamps[1] {
		t.Error("重试应携带新时间戳")
	}
}

func TestClient_PlaceOrder(t *testing.T) {
	var pub ed25519.PublicKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/order" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var params map[string]string
		if err := json.Unmarshal(body, &params); err != nil {
			t.Errorf("下单 body 应为字符串参数表: %v", err)
		}
		verifyRequestSignature(t, r, pub, "orderExecute", params)

		if params["symbol"] != "SOL_USDC" || params["side"] != "Bid" || params["orderType"] != "Market" {
			t.Errorf("下单参数不符: %v", params)
		}
		if params["quoteQuantity"] != "25.00" {
			t.Errorf("quoteQuantity = %q", params["quoteQuantity"])
		}
		if params["clientId"] == "" {
			t.Error("clientId 不应为空")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ord-1","clientId":` + params["clientId"] + `,"symbol":"SOL_USDC","side":"Bid","status":"Filled","quantity":"0.1664","executedQuantity":"0.1664","price":"150.25"}`))
	}))
	defer srv.Close()

	c, p := newTestClient(t, srv.URL)
	pub = p

	res, err := c.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:        "SOL_USDC",
		Side:          OrderSideBid,
		OrderType:     OrderTypeMarket,
		QuoteQuantity: decimal.NewFromInt(25),
		ClientID:      NewClientID(),
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !res.IsFilled() {
		t.Errorf("应成交, status=%s", res.Status)
	}
}

func TestClient_PlaceOrder_AmbiguousOnTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"code":"SERVER_ERROR","message":"gateway"}`, http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:        "SOL_USDC",
		Side:          OrderSideBid,
		OrderType:     OrderTypeMarket,
		QuoteQuantity: decimal.NewFromInt(20),
		ClientID:      1234,
	})
	if !errors.Is(err, ErrAmbiguousOrder) {
		t.Fatalf("暂时性失败应返回待确认错误, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("下单绝不盲目重发, calls=%d", n)
	}
}

func TestClient_PlaceOrder_InsufficientFunds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"INSUFFICIENT_FUNDS","message":"not enough"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	_, err := c.PlaceOrder(context.Background(), &OrderRequest{
		Symbol:        "SOL_USDC",
		Side:          OrderSideBid,
		OrderType:     OrderTypeMarket,
		QuoteQuantity: decimal.NewFromInt(20),
		ClientID:      1,
	})
	if !IsInsufficientFunds(err) {
		t.Fatalf("应识别资金不足, got %v", err)
	}
	if errors.Is(err, ErrAmbiguousOrder) {
		t.Error("明确拒绝不应标记为待确认")
	}
}

func TestClient_ConfirmOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/orders":
			_, _ = w.Write([]byte(`[{"id":"ord-open","clientId":42,"symbol":"SOL_USDC","side":"Bid","status":"New","quantity":"0.5","executedQuantity":"0","price":"149"}]`))
		case "/wapi/v1/history/fills":
			_, _ = w.Write([]byte(`[{"orderId":"ord-filled","clientId":77,"symbol":"SOL_USDC","side":"Ask","price":"151","quantity":"0.3"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	ctx := context.Background()

	t.Run("挂单中", func(t *testing.T) {
		res, found, err := c.ConfirmOrder(ctx, "SOL_USDC", 42)
		if err != nil || !found {
			t.Fatalf("应在挂单中找到: found=%v err=%v", found, err)
		}
		if res.ID != "ord-open" || res.Status != OrderStatusNew {
			t.Errorf("挂单信息不符: %+v", res)
		}
	})

	t.Run("已成交", func(t *testing.T) {
		res, found, err := c.ConfirmOrder(ctx, "SOL_USDC", 77)
		if err != nil || !found {
			t.Fatalf("应在成交中找到: found=%v err=%v", found, err)
		}
		if res.ID != "ord-filled" || res.Status != OrderStatusFilled {
			t.Errorf("成交信息不符: %+v", res)
		}
	})

	t.Run("不存在", func(t *testing.T) {
		_, found, err := c.ConfirmOrder(ctx, "SOL_USDC", 99)
		if err != nil {
			t.Fatalf("查询本身不应失败: %v", err)
		}
		if found {
			t.Error("不存在的订单不应命中")
		}
	})

	t.Run("clientId 为零", func(t *testing.T) {
		if _, _, err := c.ConfirmOrder(ctx, "SOL_USDC", 0); err == nil {
			t.Error("clientId 为零无法确认, 应报错")
		}
	})
}

func TestClient_GetMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/ticker":
			_, _ = w.Write([]byte(`{"symbol":"SOL_USDC","lastPrice":"150"}`))
		case "/api/v1/depth":
			_, _ = w.Write([]byte(`{"bids":[["149.5","10"]],"asks":[["150.5","8"]]}`))
		case "/api/v1/trades":
			_, _ = w.Write([]byte(`[{"price":"150.1","quantity":"0.2"},{"price":"149.9","quantity":"0.5"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	md, err := c.GetMarketData(context.Background(), "SOL_USDC")
	if err != nil {
		t.Fatalf("GetMarketData: %v", err)
	}
	if md.LastPrice != 150 || md.BestBid != 149.5 || md.BestAsk != 150.5 {
		t.Errorf("快照不符: last=%v bid=%v ask=%v", md.LastPrice, md.BestBid, md.BestAsk)
	}
	if got := md.MidPrice(); got != 150 {
		t.Errorf("中间价 = %v", got)
	}
	if len(md.RecentTrades) != 2 {
		t.Errorf("近期成交 = %d", len(md.RecentTrades))
	}
}

func TestNewClientID(t *testing.T) {
	if NewClientID() == 0 {
		t.Error("clientId 不应为零")
	}
}

func TestQuantityForQuote(t *testing.T) {
	qty := QuantityForQuote(30, 150, "SOL_USDC")
	if qty.String() != "0.2" {
		t.Errorf("SOL 数量 = %s", qty)
	}
	qty = QuantityForQuote(100, 65000, "BTC_USDC")
	if qty.Exponent() < -8 {
		t.Errorf("BTC 应截断到 8 位小数: %s", qty)
	}
	if !QuantityForQuote(10, 0, "SOL_USDC").IsZero() {
		t.Error("价格为零应返回零数量")
	}
}

package dispatch

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"testing/quick"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/exchange"
)

// fakeQueryClient 可注入错误的查询客户端
type fakeQueryClient struct {
	err   error
	calls map[string]int
}

func newFakeQueryClient() *fakeQueryClient {
	return &fakeQueryClient{calls: map[string]int{}}
}

func (f *fakeQueryClient) note(name string) error {
	f.calls[name]++
	return f.err
}

func (f *fakeQueryClient) GetMarkets(ctx context.Context) ([]exchange.Market, error) {
	return nil, f.note("markets")
}
func (f *fakeQueryClient) GetMarketData(ctx context.Context, symbol string) (*exchange.MarketData, error) {
	return &exchange.MarketData{Symbol: symbol, LastPrice: 150}, f.note("market_data")
}
func (f *fakeQueryClient) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol}, f.note("ticker")
}
func (f *fakeQueryClient) GetDepth(ctx context.Context, symbol string) (*exchange.Depth, error) {
	return &exchange.Depth{}, f.note("depth")
}
func (f *fakeQueryClient) GetRecentTrades(ctx context.Context, symbol string) ([]exchange.PublicTrade, error) {
	return nil, f.note("trades")
}
func (f *fakeQueryClient) GetBalances(ctx context.Context) (exchange.Balances, error) {
	return exchange.Balances{}, f.note("balances")
}
func (f *fakeQueryClient) GetAccountInfo(ctx context.Context) (*exchange.AccountInfo, error) {
	return &exchange.AccountInfo{}, f.note("account_info")
}
func (f *fakeQueryClient) GetCollateralInfo(ctx context.Context) (*exchange.CollateralSnapshot, error) {
	return &exchange.CollateralSnapshot{}, f.note("collateral")
}
func (f *fakeQueryClient) GetBorrowLendPositions(ctx context.Context) ([]exchange.BorrowLendPosition, error) {
	return nil, f.note("borrow_lend")
}
func (f *fakeQueryClient) GetSystemStatus(ctx context.Context) (*exchange.SystemStatus, error) {
	return &exchange.SystemStatus{Status: "Ok"}, f.note("status")
}
func (f *fakeQueryClient) ProbeEndpoint(ctx context.Context, path string) error {
	return f.note("probe")
}

type fakeTrader struct {
	detail string
	err    error
	calls  int
}

func (f *fakeTrader) ExecuteTrade(ctx context.Context) (string, error) {
	f.calls++
	return f.detail, f.err
}

func testAccount() *domain.Account {
	return &domain.Account{
		Name:    "acct-1",
		Symbols: []string{"SOL_USDC"},
		Weights: domain.DefaultCategoryWeights,
	}
}

func TestEffectiveWeights_SumToOne(t *testing.T) {
	w := EffectiveWeights(domain.DefaultCategoryWeights, 1.0, true)
	var sum float64
	for _, v := range w {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("权重和 = %v", sum)
	}
}

// 时段系数只缩放 trade，其余类别相对比例不变
func TestEffectiveWeights_BandScalesTradeOnly(t *testing.T) {
	w := EffectiveWeights(domain.DefaultCategoryWeights, 0.5, true)

	// trade: 0.4*0.5=0.2, 总和 0.2+0.25+0.20+0.10+0.05=0.8
	if got := w[domain.CategoryTrade]; math.Abs(got-0.25) > 1e-9 {
		t.Errorf("trade 权重 = %v, want 0.25", got)
	}
	if got := w[domain.CategoryDataQuery]; math.Abs(got-0.3125) > 1e-9 {
		t.Errorf("dataQuery 权重 = %v, want 0.3125", got)
	}

	// 非交易类别之间的比例保持 0.25:0.20:0.10:0.05
	ratio := w[domain.CategoryDataQuery] / w[domain.CategoryAccountActivity]
	if math.Abs(ratio-1.25) > 1e-9 {
		t.Errorf("非交易类别比例被破坏: %v", ratio)
	}
}

func TestEffectiveWeights_TradeDisallowed(t *testing.T) {
	w := EffectiveWeights(domain.DefaultCategoryWeights, 1.0, false)
	if w[domain.CategoryTrade] != 0 {
		t.Fatalf("禁止交易时 trade 权重应为 0: %v", w[domain.CategoryTrade])
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("重分配后权重和 = %v", sum)
	}
	// 0.25/0.6
	if got := w[domain.CategoryDataQuery]; math.Abs(got-0.25/0.6) > 1e-9 {
		t.Errorf("dataQuery 重分配权重 = %v", got)
	}
}

// 属性：任意合法权重与系数下，有效权重都归一化；禁止交易时抽不到 trade
func TestProperty_WeightsNormalizedAndNoTradeWhenBanned(t *testing.T) {
	property := func(w1, w2, w3, w4, w5 float64, mult float64, draw float64) bool {
		for _, v := range []float64{w1, w2, w3, w4, w5, mult, draw} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
		abs := func(x float64) float64 {
			if x < 0 {
				return -x
			}
			return x
		}
		base := map[domain.ActionCategory]float64{
			domain.CategoryTrade:           abs(w1),
			domain.CategoryDataQuery:       abs(w2) + 0.01,
			domain.CategoryAccountActivity: abs(w3),
			domain.CategoryLending:         abs(w4),
			domain.CategoryFeatureProbe:    abs(w5),
		}
		mult = abs(mult)
		draw = draw - math.Floor(draw) // [0,1)

		eff := EffectiveWeights(base, mult, true)
		var sum float64
		for _, v := range eff {
			sum += v
		}
		if abs(sum-1) > 1e-6 {
			return false
		}

		banned := EffectiveWeights(base, mult, false)
		return Pick(banned, draw) != domain.CategoryTrade
	}
	if err := quick.Check(property, &quick.Config{MaxCount: 200}); err != nil {
		t.Errorf("权重属性测试失败: %v", err)
	}
}

func TestPick_Deterministic(t *testing.T) {
	w := EffectiveWeights(domain.DefaultCategoryWeights, 1.0, true)

	// 顺序 trade(0.40) dataQuery(0.25) accountActivity(0.20) lending(0.10) featureProbe(0.05)
	cases := []struct {
		draw float64
		want domain.ActionCategory
	}{
		{0.0, domain.CategoryTrade},
		{0.39, domain.CategoryTrade},
		{0.40, domain.CategoryDataQuery},
		{0.64, domain.CategoryDataQuery},
		{0.65, domain.CategoryAccountActivity},
		{0.84, domain.CategoryAccountActivity},
		{0.85, domain.CategoryLending},
		{0.94, domain.CategoryLending},
		{0.95, domain.CategoryFeatureProbe},
		{0.999999, domain.CategoryFeatureProbe},
	}
	for _, tc := range cases {
		if got := Pick(w, tc.draw); got != tc.want {
			t.Errorf("draw=%v: got %s, want %s", tc.draw, got, tc.want)
		}
	}
}

func TestValidateWeights(t *testing.T) {
	if err := ValidateWeights(domain.DefaultCategoryWeights); err != nil {
		t.Errorf("默认权重应合法: %v", err)
	}

	bad := map[domain.ActionCategory]float64{domain.CategoryTrade: -0.1}
	if err := ValidateWeights(bad); err == nil {
		t.Error("负权重应报错")
	}

	zero := map[domain.ActionCategory]float64{}
	if err := ValidateWeights(zero); err == nil {
		t.Error("全零权重应报错")
	}

	tradeOnly := map[domain.ActionCategory]float64{domain.CategoryTrade: 1.0}
	if err := ValidateWeights(tradeOnly); err == nil {
		t.Error("只有交易权重时冷却期内无操作可派发, 应报错")
	}
}

func TestDispatch_SubOperations(t *testing.T) {
	client := newFakeQueryClient()
	trader := &fakeTrader{detail: "basic:opened"}
	d := New(testAccount(), client, trader, rand.New(rand.NewSource(7)))
	ctx := context.Background()

	out, err := d.Dispatch(ctx, domain.CategoryTrade)
	if err != nil || !out.Success || out.Detail != "basic:opened" || trader.calls != 1 {
		t.Fatalf("trade 派发异常: %+v, %v", out, err)
	}
	if out.Category != domain.CategoryTrade || out.Account != "acct-1" {
		t.Fatalf("结果标签不符: %+v", out)
	}

	// 多次派发覆盖各子操作
	for i := 0; i < 20; i++ {
		if out, _ := d.Dispatch(ctx, domain.CategoryDataQuery); !out.Success {
			t.Fatalf("dataQuery 应成功: %+v", out)
		}
		if out, _ := d.Dispatch(ctx, domain.CategoryAccountActivity); !out.Success {
			t.Fatalf("accountActivity 应成功: %+v", out)
		}
		if out, _ := d.Dispatch(ctx, domain.CategoryLending); !out.Success {
			t.Fatalf("lending 应成功: %+v", out)
		}
		if out, _ := d.Dispatch(ctx, domain.CategoryFeatureProbe); !out.Success {
			t.Fatalf("featureProbe 应成功: %+v", out)
		}
	}
	for _, name := range []string{"markets", "ticker", "depth", "trades", "balances", "account_info", "collateral", "borrow_lend"} {
		if client.calls[name] == 0 {
			t.Errorf("子操作 %s 未被覆盖: %v", name, client.calls)
		}
	}
}

func TestDispatch_HandlerFailure(t *testing.T) {
	client := newFakeQueryClient()
	client.err = &exchange.TransientError{Err: errors.New("timeout")}
	d := New(testAccount(), client, &fakeTrader{}, rand.New(rand.NewSource(3)))

	out, err := d.Dispatch(context.Background(), domain.CategoryDataQuery)
	if out.Success || err == nil {
		t.Fatal("处理器失败应产出失败结果并返回原始错误")
	}
	if !exchange.IsTransient(err) {
		t.Errorf("错误链应保留原始类型: %v", err)
	}
	if out.PnlDelta != 0 {
		t.Errorf("失败结果盈亏应为 0: %v", out.PnlDelta)
	}
	if out.Timestamp.IsZero() || out.Elapsed < 0 {
		t.Errorf("结果时间字段异常: %+v", out)
	}
}

func TestDispatch_TradeFailure(t *testing.T) {
	trader := &fakeTrader{detail: "grid", err: errors.New("boom")}
	d := New(testAccount(), newFakeQueryClient(), trader, rand.New(rand.NewSource(3)))

	out, err := d.Dispatch(context.Background(), domain.CategoryTrade)
	if out.Success || err == nil {
		t.Fatal("策略失败应产出失败结果")
	}
}

// 探测端点返回 4xx 业务错误仍算成功（功能面已触达）
func TestFeatureProbe_Tolerates4xx(t *testing.T) {
	client := newFakeQueryClient()
	client.err = &exchange.APIError{StatusCode: 404, Code: "NOT_FOUND", Message: "no such endpoint"}
	d := New(testAccount(), client, &fakeTrader{}, rand.New(rand.NewSource(1)))

	sawProbe := false
	for i := 0; i < 30 && !sawProbe; i++ {
		out, _ := d.Dispatch(context.Background(), domain.CategoryFeatureProbe)
		if out.Detail == "system_status" {
			// 状态查询路径对 4xx 不豁免
			continue
		}
		sawProbe = true
		if !out.Success {
			t.Fatalf("4xx 探测应算成功: %+v", out)
		}
	}
	if !sawProbe {
		t.Fatal("未覆盖到端点探测路径")
	}
}

func TestSelectAction_UsesAccountWeights(t *testing.T) {
	acct := testAccount()
	acct.Weights = map[domain.ActionCategory]float64{
		domain.CategoryDataQuery: 1.0,
	}
	d := New(acct, newFakeQueryClient(), &fakeTrader{}, rand.New(rand.NewSource(5)))

	for i := 0; i < 50; i++ {
		if got := d.SelectAction(1.0, true); got != domain.CategoryDataQuery {
			t.Fatalf("唯一非零权重应恒被抽中, got %s", got)
		}
	}
}

func TestSelectAction_NeverTradeWhenBanned(t *testing.T) {
	d := New(testAccount(), newFakeQueryClient(), &fakeTrader{}, rand.New(rand.NewSource(time.Now().UnixNano())))
	for i := 0; i < 500; i++ {
		if got := d.SelectAction(1.0, false); got == domain.CategoryTrade {
			t.Fatal("冷却期内不应抽中 trade")
		}
	}
}

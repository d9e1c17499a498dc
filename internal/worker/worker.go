// Package worker 账户工作器
// 每个账户一个独立 goroutine 跑完整循环：资产补足、持仓巡检、
// 风控记账、按权重派发操作、事件落地、状态持久化。
// 状态机 Starting → Running ⇄ Cooling → Stopped，Stopped 为终态。
// 工作器之间不共享任何可变状态，单个账户致命错误不影响其他账户。
package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/dispatch"
	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/events"
	"github.com/betbot/gofarm/internal/exchange"
	"github.com/betbot/gofarm/internal/metrics"
	"github.com/betbot/gofarm/internal/monitor"
	"github.com/betbot/gofarm/internal/ports"
	"github.com/betbot/gofarm/internal/replenish"
	"github.com/betbot/gofarm/internal/risk"
	"github.com/betbot/gofarm/internal/schedule"
	"github.com/betbot/gofarm/pkg/logger"
	"github.com/betbot/gofarm/pkg/persistence"
)

// PriceSource 标记价格来源（WebSocket 缓存优先，REST 兜底）
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, bool)
}

// StatusClient 权益快照所需的查询能力
type StatusClient interface {
	ports.BalancesGetter
	ports.CollateralGetter
}

// Config 工作器循环参数
type Config struct {
	BaseInterval   time.Duration `yaml:"baseInterval" json:"baseInterval"`
	IntervalJitter float64       `yaml:"intervalJitter" json:"intervalJitter"`
	ReplenishEvery int           `yaml:"replenishEvery" json:"replenishEvery"`
	StatusEvery    time.Duration `yaml:"statusEvery" json:"statusEvery"`
	Stagger        time.Duration `yaml:"stagger" json:"stagger"`
}

// DefaultConfig 默认循环参数
func DefaultConfig() Config {
	return Config{
		BaseInterval:   20 * time.Second,
		IntervalJitter: 0.5,
		ReplenishEvery: 10,
		StatusEvery:    10 * time.Minute,
		Stagger:        2 * time.Second,
	}
}

// Deps 工作器依赖集合，全部按账户绑定
type Deps struct {
	Clock       *schedule.Clock
	Dispatcher  *dispatch.Dispatcher
	Risk        *risk.Controller
	Monitor     *monitor.Monitor
	Replenisher *replenish.Replenisher
	Journal     *events.Journal
	Prices      PriceSource
	Status      StatusClient
	Persist     persistence.Service
}

// accountState 每轮落盘的账户状态，重启后恢复冷却与盈亏窗口
type accountState struct {
	Risk      *domain.RiskState  `persistence:"risk"`
	Positions []*domain.Position `persistence:"positions"`
}

// Worker 单账户工作器
type Worker struct {
	account *domain.Account
	cfg     Config
	deps    Deps

	mu         sync.RWMutex
	state      domain.WorkerState
	iteration  int
	counters   map[domain.ActionCategory]int
	lastStatus time.Time
}

// New 创建账户工作器
func New(account *domain.Account, cfg Config, deps Deps) *Worker {
	def := DefaultConfig()
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = def.BaseInterval
	}
	if cfg.IntervalJitter < 0 {
		cfg.IntervalJitter = def.IntervalJitter
	}
	if cfg.ReplenishEvery <= 0 {
		cfg.ReplenishEvery = def.ReplenishEvery
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = def.StatusEvery
	}
	return &Worker{
		account:    account,
		cfg:        cfg,
		deps:       deps,
		state:      domain.WorkerStarting,
		counters:   make(map[domain.ActionCategory]int),
		lastStatus: time.Now(),
	}
}

// Account 返回账户名
func (w *Worker) Account() string {
	return w.account.Name
}

// State 返回当前状态
func (w *Worker) State() domain.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Iterations 返回已完成的循环次数
func (w *Worker) Iterations() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.iteration
}

// ActionCounts 返回各类别的累计操作次数
func (w *Worker) ActionCounts() map[domain.ActionCategory]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[domain.ActionCategory]int, len(w.counters))
	for k, v := range w.counters {
		out[k] = v
	}
	return out
}

// Run 运行工作器直到 ctx 取消或账户级致命错误，阻塞调用
func (w *Worker) Run(ctx context.Context) {
	if ctx.Err() != nil {
		w.transition(context.Background(), domain.WorkerStopped, "shutdown")
		return
	}

	logger.WithField("account", w.account.Name).Info("账户工作器启动")
	metrics.WorkersRunning.Add(1)
	defer metrics.WorkersRunning.Add(-1)

	w.start(ctx)
	w.transition(ctx, domain.WorkerRunning, "started")

	// 恢复出的风险状态可能仍处于冷却期
	if w.account.Risk.InCooldown(time.Now()) {
		w.transition(ctx, domain.WorkerCooling, "cooldown_restored")
	}

	for {
		if ctx.Err() != nil {
			break
		}

		reason, fatal := w.iterate(ctx)
		if fatal {
			logger.WithField("account", w.account.Name).Errorf("账户级致命错误，停止工作器: %s", reason)
			w.transition(context.Background(), domain.WorkerStopped, reason)
			w.persist()
			return
		}

		interval := w.deps.Clock.Interval(time.Now(), w.cfg.BaseInterval, w.cfg.IntervalJitter)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	w.transition(context.Background(), domain.WorkerStopped, "shutdown")
	w.persist()
	logger.WithField("account", w.account.Name).Info("账户工作器已退出")
}

// start 恢复持久化状态并做一次启动补足
func (w *Worker) start(ctx context.Context) {
	w.restore()
	w.runReplenish(ctx)
}

// iterate 执行一轮循环，返回非空 reason 与 true 表示账户级致命错误
func (w *Worker) iterate(ctx context.Context) (string, bool) {
	w.mu.Lock()
	w.iteration++
	iter := w.iteration
	w.mu.Unlock()

	ctrl := w.deps.Risk
	state := w.account.Risk

	// 定期资产补足
	if iter%w.cfg.ReplenishEvery == 0 {
		if err := w.runReplenish(ctx); exchange.IsAuth(err) {
			return "auth_error", true
		}
	}

	// 持仓巡检先于派发，冷却期也执行（平仓属于降风险操作）
	if err := w.tickPositions(ctx); exchange.IsAuth(err) {
		return "auth_error", true
	}

	// 冷却恢复判定
	now := time.Now()
	if !state.CooldownUntil.IsZero() {
		cooling := state.InCooldown(now)
		if ctrl.MaybeRecover(state, now) {
			reason := "cooldown_expired"
			if cooling {
				reason = "early_recovery"
			}
			w.transition(ctx, domain.WorkerRunning, reason)
		}
	}

	// 按调度时段与风控状态抽取并派发一个操作
	tradingAllowed := ctrl.IsTradingAllowed(state, now)
	weightMult, _ := w.deps.Clock.Multipliers(now)
	category := w.deps.Dispatcher.SelectAction(weightMult, tradingAllowed)
	outcome, err := w.deps.Dispatcher.Dispatch(ctx, category)
	w.recordOutcome(ctx, outcome)

	if exchange.IsAuth(err) {
		return "auth_error", true
	}
	if ctrl.FailureLimitReached(state) {
		return "failure_ceiling", true
	}

	w.maybeReportStatus(ctx, time.Now())
	w.persist()
	return "", false
}

// tickPositions 用最新标记价格巡检全部持仓，触发的平仓结果进入风控账本
func (w *Worker) tickPositions(ctx context.Context) error {
	symbols := w.deps.Monitor.HeldSymbols()
	if len(symbols) == 0 {
		return nil
	}

	prices := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		if p, ok := w.deps.Prices.Price(ctx, symbol); ok {
			prices[symbol] = p
		}
	}

	outcomes, err := w.deps.Monitor.Tick(ctx, prices)
	for _, outcome := range outcomes {
		w.recordOutcome(ctx, outcome)
	}
	return err
}

// recordOutcome 风控记账、事件落地，入冷却时发出状态变更
func (w *Worker) recordOutcome(ctx context.Context, outcome domain.ActionOutcome) {
	entered := w.deps.Risk.RecordOutcome(w.account.Risk, outcome, time.Now())

	w.mu.Lock()
	w.counters[outcome.Category]++
	w.mu.Unlock()

	metrics.ActionsDispatched.Add(1)
	if !outcome.Success {
		metrics.ActionFailures.Add(1)
	}

	w.deps.Journal.Outcome(ctx, &outcome)

	if entered {
		metrics.CooldownsEntered.Add(1)
		w.transition(ctx, domain.WorkerCooling, w.breachReason())
	}
}

// breachReason 判定触发的是日内还是小时级阈值
func (w *Worker) breachReason() string {
	limits := w.deps.Risk.Limits()
	if w.account.Risk.DailyPnlPct <= -limits.MaxDailyLossPct {
		return "daily_loss_limit"
	}
	return "hourly_loss_limit"
}

// runReplenish 资产补足，结果只进事件流不进风控账本
// 返回补足过程中遇到的鉴权错误，其余失败就地记录
func (w *Worker) runReplenish(ctx context.Context) error {
	if w.deps.Replenisher == nil {
		return nil
	}
	results, err := w.deps.Replenisher.EnsureMinimums(ctx)
	if err != nil {
		logger.WithField("account", w.account.Name).Warnf("资产检查失败: %v", err)
		if exchange.IsAuth(err) {
			return err
		}
		return nil
	}
	var authErr error
	for _, res := range results {
		detail := "replenish:" + res.Asset
		if res.Detail != "" {
			detail += ":" + res.Detail
		}
		w.deps.Journal.Outcome(ctx, &domain.ActionOutcome{
			Account:   w.account.Name,
			Category:  domain.CategoryAccountActivity,
			Detail:    detail,
			Success:   res.Err == nil,
			Timestamp: time.Now(),
		})
		if authErr == nil && exchange.IsAuth(res.Err) {
			authErr = res.Err
		}
	}
	return authErr
}

// maybeReportStatus 周期性输出账户摘要并写入权益快照
func (w *Worker) maybeReportStatus(ctx context.Context, now time.Time) {
	w.mu.Lock()
	due := now.Sub(w.lastStatus) >= w.cfg.StatusEvery
	if due {
		w.lastStatus = now
	}
	state := w.state
	counters := make(map[domain.ActionCategory]int, len(w.counters))
	for k, v := range w.counters {
		counters[k] = v
	}
	w.mu.Unlock()
	if !due {
		return
	}

	var parts []string
	for _, cat := range domain.AllCategories {
		if counters[cat] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", cat, counters[cat]))
		}
	}
	logger.WithFields(logrus.Fields{
		"account":   w.account.Name,
		"state":     state,
		"positions": w.deps.Monitor.Count(),
	}).Infof("状态汇报: daily=%+.4f hourly=%+.4f actions[%s]",
		w.account.Risk.DailyPnlPct, w.account.Risk.HourlyPnlPct, strings.Join(parts, " "))

	w.equitySnapshot(ctx, now)
}

// equitySnapshot 采集一次权益快照写入事件流
func (w *Worker) equitySnapshot(ctx context.Context, now time.Time) {
	if w.deps.Status == nil {
		return
	}
	snap := &events.EquitySnapshot{
		Account:       w.account.Name,
		OpenPositions: w.deps.Monitor.Count(),
		Timestamp:     now,
	}
	if balances, err := w.deps.Status.GetBalances(ctx); err == nil {
		snap.QuoteBalance = balances.AvailableFloat("USDC")
	}
	if coll, err := w.deps.Status.GetCollateralInfo(ctx); err == nil {
		snap.NetEquity, _ = coll.NetEquity.Float64()
	}
	w.deps.Journal.Equity(ctx, snap)
}

// transition 切换状态并写入事件流，同态切换不产生记录
func (w *Worker) transition(ctx context.Context, to domain.WorkerState, reason string) {
	w.mu.Lock()
	from := w.state
	w.state = to
	w.mu.Unlock()
	if from == to {
		return
	}

	logger.WithFields(logrus.Fields{
		"account": w.account.Name,
		"from":    from,
		"to":      to,
	}).Infof("工作器状态变更: %s", reason)

	w.deps.Journal.Transition(ctx, &domain.StateTransition{
		Account:   w.account.Name,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// restore 从持久化存储恢复风险状态与持仓
func (w *Worker) restore() {
	if w.deps.Persist == nil {
		return
	}
	var st accountState
	if err := persistence.LoadFields(&st, w.account.Name, w.deps.Persist); err != nil {
		logger.WithField("account", w.account.Name).Warnf("状态恢复失败: %v", err)
		return
	}
	if st.Risk != nil {
		w.account.Risk = st.Risk
		logger.WithField("account", w.account.Name).Infof(
			"已恢复风险状态: daily=%+.4f hourly=%+.4f", st.Risk.DailyPnlPct, st.Risk.HourlyPnlPct)
	}
	if len(st.Positions) > 0 {
		w.deps.Monitor.Restore(st.Positions)
		logger.WithField("account", w.account.Name).Infof("已恢复 %d 个持仓", len(st.Positions))
	}
}

// persist 落盘当前风险状态与持仓快照
func (w *Worker) persist() {
	if w.deps.Persist == nil {
		return
	}
	st := accountState{
		Risk:      w.account.Risk,
		Positions: w.deps.Monitor.Positions(),
	}
	if err := persistence.SaveFields(&st, w.account.Name, w.deps.Persist); err != nil {
		logger.WithField("account", w.account.Name).Warnf("状态持久化失败: %v", err)
	}
}

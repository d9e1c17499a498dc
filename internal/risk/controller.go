// Package risk 风控：滚动盈亏窗口 + 冷却熔断
package risk

import (
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/gofarm/internal/domain"
)

// Limits 风控参数
type Limits struct {
	MaxDailyLossPct      float64       `yaml:"maxDailyLossPct"`      // 日亏损熔断线（0.03 = 3%）
	MaxHourlyLossPct     float64       `yaml:"maxHourlyLossPct"`     // 小时亏损熔断线
	CooldownPeriod       time.Duration `yaml:"cooldownPeriod"`       // 冷却时长
	RecoveryThresholdPct float64       `yaml:"recoveryThresholdPct"` // 提前恢复阈值（日盈亏回升到该值解除冷却）
	FailureCeiling       int           `yaml:"failureCeiling"`       // 连续失败上限，达到后账户致命退出
}

// DefaultLimits 默认风控参数
func DefaultLimits() Limits {
	return Limits{
		MaxDailyLossPct:      0.03,
		MaxHourlyLossPct:     0.015,
		CooldownPeriod:       30 * time.Minute,
		RecoveryThresholdPct: 0.01,
		FailureCeiling:       5,
	}
}

// Validate 启动期校验，非法参数直接拒绝启动
func (l Limits) Validate() error {
	if l.MaxDailyLossPct <= 0 {
		return errors.Errorf("maxDailyLossPct 必须为正: %v", l.MaxDailyLossPct)
	}
	if l.MaxHourlyLossPct <= 0 {
		return errors.Errorf("maxHourlyLossPct 必须为正: %v", l.MaxHourlyLossPct)
	}
	if l.CooldownPeriod <= 0 {
		return errors.Errorf("cooldownPeriod 必须为正: %v", l.CooldownPeriod)
	}
	if l.FailureCeiling <= 0 {
		return errors.Errorf("failureCeiling 必须为正: %d", l.FailureCeiling)
	}
	return nil
}

// Controller 风控控制器
// 本身无状态，所有账户状态都在各自的 RiskState 里，可被多个工作器并发使用
type Controller struct {
	limits Limits
}

// NewController 创建风控控制器
func NewController(limits Limits) *Controller {
	return &Controller{limits: limits}
}

// Limits 返回当前风控参数
func (c *Controller) Limits() Limits {
	return c.limits
}

// rollWindows 检测 UTC 日/小时边界翻转并清零对应窗口
// 每个窗口只看自己的起点，翻了哪个清哪个，轮询不规律也不会重复清零
func (c *Controller) rollWindows(state *domain.RiskState, now time.Time) {
	utc := now.UTC()
	day := utc.Truncate(24 * time.Hour)
	if !day.Equal(state.DayStart) {
		state.DailyPnlPct = 0
		state.DayStart = day
	}
	hour := utc.Truncate(time.Hour)
	if !hour.Equal(state.HourStart) {
		state.HourlyPnlPct = 0
		state.HourStart = hour
	}
}

// RecordOutcome 记账一次操作结果
// 盈亏计入日/小时窗口；触线时设置冷却截止时间；同时维护连续失败计数。
// 返回值表示本次是否新进入冷却
func (c *Controller) RecordOutcome(state *domain.RiskState, outcome domain.ActionOutcome, now time.Time) bool {
	c.rollWindows(state, now)

	wasCooling := state.InCooldown(now)

	state.DailyPnlPct += outcome.PnlDelta
	state.HourlyPnlPct += outcome.PnlDelta

	if outcome.Success {
		state.ConsecutiveFailures = 0
	} else {
		state.ConsecutiveFailures++
	}

	// 只有亏损笔才触发或顺延冷却。日窗口在翻转前会一直压着熔断线，
	// 若零盈亏的查询类操作也算触线，冷却在当日内永不到期
	breached := state.DailyPnlPct <= -c.limits.MaxDailyLossPct ||
		state.HourlyPnlPct <= -c.limits.MaxHourlyLossPct
	if !breached || outcome.PnlDelta >= 0 {
		return false
	}
	state.CooldownUntil = now.Add(c.limits.CooldownPeriod)
	return !wasCooling
}

// IsTradingAllowed 冷却期内禁止派发新的交易动作，查询类不受影响
func (c *Controller) IsTradingAllowed(state *domain.RiskState, now time.Time) bool {
	return !state.InCooldown(now)
}

// MaybeRecover 尝试解除冷却：计时到期，或日盈亏回升到恢复阈值
// 返回值表示本次是否解除了冷却
func (c *Controller) MaybeRecover(state *domain.RiskState, now time.Time) bool {
	if state.CooldownUntil.IsZero() {
		return false
	}
	c.rollWindows(state, now)

	if !now.Before(state.CooldownUntil) {
		state.ClearCooldown()
		return true
	}
	if state.DailyPnlPct >= c.limits.RecoveryThresholdPct {
		state.ClearCooldown()
		return true
	}
	return false
}

// FailureLimitReached 连续失败达到上限，该账户按致命错误处理
func (c *Controller) FailureLimitReached(state *domain.RiskState) bool {
	return state.ConsecutiveFailures >= c.limits.FailureCeiling
}

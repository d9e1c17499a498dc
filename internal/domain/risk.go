package domain

import (
	"time"
)

// RiskState 账户风险状态
// 滚动的日/小时已实现盈亏窗口 + 冷却截止时间 + 连续失败计数
// 只由 RiskController 修改，ActionDispatcher 和 PositionMonitor 只读
type RiskState struct {
	DailyPnlPct  float64 `json:"daily_pnl_pct"`  // 当日累计已实现盈亏（比例，-0.03 = -3%）
	HourlyPnlPct float64 `json:"hourly_pnl_pct"` // 当小时累计已实现盈亏（比例）

	// CooldownUntil 冷却截止时间，零值表示未在冷却
	// 不变式：冷却未到期时不派发新的交易动作
	CooldownUntil time.Time `json:"cooldown_until"`

	ConsecutiveFailures int `json:"consecutive_failures"` // 连续失败次数

	// 窗口起点（UTC 对齐），用于检测日/小时边界翻转
	DayStart  time.Time `json:"day_start"`
	HourStart time.Time `json:"hour_start"`
}

// NewRiskState 创建风险状态，窗口起点对齐到 now 所在的 UTC 日/小时
func NewRiskState(now time.Time) *RiskState {
	now = now.UTC()
	return &RiskState{
		DayStart:  now.Truncate(24 * time.Hour),
		HourStart: now.Truncate(time.Hour),
	}
}

// InCooldown 检查当前是否处于冷却中
func (s *RiskState) InCooldown(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}

// ClearCooldown 清除冷却状态
func (s *RiskState) ClearCooldown() {
	s.CooldownUntil = time.Time{}
}

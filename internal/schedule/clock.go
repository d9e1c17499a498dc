// Package schedule 按 UTC 小时段调节操作节奏
// 维护时段 > 高峰时段 > 低谷兜底，交易权重与操作间隔分别乘以对应系数
package schedule

import (
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/gofarm/internal/domain"
)

// minInterval 间隔下限，防止异常配置把循环打成忙等
const minInterval = 50 * time.Millisecond

// Clock 时段时钟
// bands 按优先级排列，前面的时段覆盖后面的；都不命中时使用低谷兜底
type Clock struct {
	bands    []domain.ScheduleBand
	fallback domain.ScheduleBand
}

// DefaultBands 默认时段表（按优先级）
func DefaultBands() []domain.ScheduleBand {
	return []domain.ScheduleBand{
		domain.DefaultMaintenanceBand,
		domain.DefaultPeakBand,
	}
}

// NewClock 创建时钟，bands 为空时使用默认时段表。
// 维护时段固定拥有最高优先级，与配置里的声明顺序无关；
// 其余时段重叠时按声明顺序取先者
func NewClock(bands []domain.ScheduleBand) *Clock {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	ordered := make([]domain.ScheduleBand, len(bands))
	copy(ordered, bands)
	sort.SliceStable(ordered, func(i, j int) bool {
		return isMaintenance(ordered[i]) && !isMaintenance(ordered[j])
	})
	return &Clock{
		bands:    ordered,
		fallback: domain.DefaultOffPeakBand,
	}
}

func isMaintenance(b domain.ScheduleBand) bool {
	return b.Name == domain.DefaultMaintenanceBand.Name
}

// ValidateBands 校验时段配置，启动期调用，非法配置直接拒绝
func ValidateBands(bands []domain.ScheduleBand) error {
	for _, b := range bands {
		if b.StartHour < 0 || b.StartHour > 23 || b.EndHour < 0 || b.EndHour > 24 {
			return errors.Errorf("时段 %s 小时范围非法: [%d, %d)", b.Name, b.StartHour, b.EndHour)
		}
		if b.WeightMultiplier < 0 {
			return errors.Errorf("时段 %s 权重系数为负: %v", b.Name, b.WeightMultiplier)
		}
		if b.IntervalMultiplier <= 0 {
			return errors.Errorf("时段 %s 间隔系数必须为正: %v", b.Name, b.IntervalMultiplier)
		}
	}
	return nil
}

// CurrentBand 返回 now（UTC）命中的时段
func (c *Clock) CurrentBand(now time.Time) domain.ScheduleBand {
	hour := now.UTC().Hour()
	for _, b := range c.bands {
		if b.Contains(hour) {
			return b
		}
	}
	return c.fallback
}

// Multipliers 当前时段的 (权重系数, 间隔系数)
func (c *Clock) Multipliers(now time.Time) (float64, float64) {
	b := c.CurrentBand(now)
	return b.WeightMultiplier, b.IntervalMultiplier
}

// Interval 计算下一次操作前的等待时长
// base ± jitter 比例的均匀抖动，再乘以当前时段的间隔系数
func (c *Clock) Interval(now time.Time, base time.Duration, jitter float64) time.Duration {
	if base <= 0 {
		base = 20 * time.Second
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	scale := 1.0
	if jitter > 0 {
		scale = 1 + jitter*(2*rand.Float64()-1)
	}
	_, intervalMult := c.Multipliers(now)

	d := time.Duration(float64(base) * scale * intervalMult)
	if d < minInterval {
		d = minInterval
	}
	return d
}

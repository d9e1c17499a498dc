package schedule

import (
	"testing"
	"time"

	"github.com/betbot/gofarm/internal/domain"
)

func utcHour(hour int) time.Time {
	return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
}

func TestCurrentBand_Precedence(t *testing.T) {
	c := NewClock(nil)

	cases := []struct {
		hour int
		want string
	}{
		{3, "maintenance"}, // 维护时段 [2,4)
		{2, "maintenance"},
		{4, "offpeak"}, // 维护结束边界
		{9, "peak"},     // 高峰 [9,17)
		{16, "peak"},
		{17, "offpeak"}, // 高峰结束边界
		{20, "offpeak"},
		{0, "offpeak"},
	}
	for _, tc := range cases {
		got := c.CurrentBand(utcHour(tc.hour))
		if got.Name != tc.want {
			t.Errorf("hour=%d: band=%s, want %s", tc.hour, got.Name, tc.want)
		}
	}
}

// 维护时段优先级固定最高，配置里写在高峰后面也一样生效
func TestCurrentBand_MaintenanceWinsRegardlessOfOrder(t *testing.T) {
	bands := []domain.ScheduleBand{
		{Name: "peak", StartHour: 0, EndHour: 9, WeightMultiplier: 1, IntervalMultiplier: 1},
		{Name: "maintenance", StartHour: 2, EndHour: 4, WeightMultiplier: 0.2, IntervalMultiplier: 3},
	}
	c := NewClock(bands)

	if got := c.CurrentBand(utcHour(3)); got.Name != "maintenance" {
		t.Errorf("维护窗口内应取维护时段: %s", got.Name)
	}
	if got := c.CurrentBand(utcHour(5)); got.Name != "peak" {
		t.Errorf("维护窗口外照常取声明时段: %s", got.Name)
	}
}

// 其余自定义时段重叠时，排在前面的优先
func TestCurrentBand_OverlapFirstWins(t *testing.T) {
	bands := []domain.ScheduleBand{
		{Name: "special", StartHour: 10, EndHour: 12, WeightMultiplier: 0.1, IntervalMultiplier: 2},
		{Name: "peak", StartHour: 9, EndHour: 17, WeightMultiplier: 1, IntervalMultiplier: 1},
	}
	c := NewClock(bands)
	if got := c.CurrentBand(utcHour(11)); got.Name != "special" {
		t.Errorf("重叠时段应取优先的: %s", got.Name)
	}
	if got := c.CurrentBand(utcHour(14)); got.Name != "peak" {
		t.Errorf("非重叠部分应取后者: %s", got.Name)
	}
}

// 跨零点时段（17 点到次日 9 点）
func TestCurrentBand_Wraparound(t *testing.T) {
	bands := []domain.ScheduleBand{
		{Name: "night", StartHour: 22, EndHour: 6, WeightMultiplier: 0.5, IntervalMultiplier: 2},
	}
	c := NewClock(bands)
	for _, h := range []int{23, 0, 5} {
		if got := c.CurrentBand(utcHour(h)); got.Name != "night" {
			t.Errorf("hour=%d 应落在跨零点时段, got %s", h, got.Name)
		}
	}
	if got := c.CurrentBand(utcHour(12)); got.Name != "offpeak" {
		t.Errorf("白天应落到兜底时段, got %s", got.Name)
	}
}

func TestMultipliers(t *testing.T) {
	c := NewClock(nil)

	w, i := c.Multipliers(utcHour(3))
	if w != 0.2 || i != 3.0 {
		t.Errorf("维护时段系数 = (%v, %v)", w, i)
	}
	w, i = c.Multipliers(utcHour(10))
	if w != 1.0 || i != 1.0 {
		t.Errorf("高峰时段系数 = (%v, %v)", w, i)
	}
	w, i = c.Multipliers(utcHour(20))
	if w != 0.6 || i != 1.5 {
		t.Errorf("低谷时段系数 = (%v, %v)", w, i)
	}
}

func TestInterval_RangeWithJitterAndBand(t *testing.T) {
	c := NewClock(nil)
	base := 20 * time.Second

	// 高峰时段：系数 1.0，区间 [10s, 30s]
	for i := 0; i < 100; i++ {
		d := c.Interval(utcHour(10), base, 0.5)
		if d < 10*time.Second || d > 30*time.Second {
			t.Fatalf("高峰间隔超界: %v", d)
		}
	}

	// 维护时段：系数 3.0，区间 [30s, 90s]
	for i := 0; i < 100; i++ {
		d := c.Interval(utcHour(3), base, 0.5)
		if d < 30*time.Second || d > 90*time.Second {
			t.Fatalf("维护间隔超界: %v", d)
		}
	}

	// 无抖动时为确定值
	if d := c.Interval(utcHour(10), base, 0); d != base {
		t.Errorf("无抖动高峰间隔 = %v", d)
	}
}

func TestInterval_Floor(t *testing.T) {
	c := NewClock(nil)
	if d := c.Interval(utcHour(10), time.Millisecond, 0); d < minInterval {
		t.Errorf("间隔应有下限: %v", d)
	}
	if d := c.Interval(utcHour(10), -time.Second, 0); d <= 0 {
		t.Errorf("非法 base 应回落默认值: %v", d)
	}
}

func TestValidateBands(t *testing.T) {
	ok := []domain.ScheduleBand{domain.DefaultPeakBand, domain.DefaultMaintenanceBand}
	if err := ValidateBands(ok); err != nil {
		t.Errorf("默认时段应合法: %v", err)
	}

	bad := []domain.ScheduleBand{{Name: "x", StartHour: -1, EndHour: 5, WeightMultiplier: 1, IntervalMultiplier: 1}}
	if err := ValidateBands(bad); err == nil {
		t.Error("负小时应报错")
	}
	bad = []domain.ScheduleBand{{Name: "x", StartHour: 1, EndHour: 5, WeightMultiplier: -0.5, IntervalMultiplier: 1}}
	if err := ValidateBands(bad); err == nil {
		t.Error("负权重系数应报错")
	}
	bad = []domain.ScheduleBand{{Name: "x", StartHour: 1, EndHour: 5, WeightMultiplier: 1, IntervalMultiplier: 0}}
	if err := ValidateBands(bad); err == nil {
		t.Error("间隔系数为零应报错")
	}
}

package domain

// ScheduleBand 时段配置
// 一天划分为高峰/低谷/维护三个时段，每个时段给出交易权重乘数和轮询间隔乘数
// 加载后只读
type ScheduleBand struct {
	Name               string  `yaml:"name" json:"name"`                              // 时段名：peak / offpeak / maintenance
	StartHour          int     `yaml:"startHour" json:"start_hour"`                   // 起始小时（含，UTC）
	EndHour            int     `yaml:"endHour" json:"end_hour"`                       // 结束小时（不含，UTC）
	WeightMultiplier   float64 `yaml:"weightMultiplier" json:"weight_multiplier"`     // 交易类别权重乘数
	IntervalMultiplier float64 `yaml:"intervalMultiplier" json:"interval_multiplier"` // 轮询间隔乘数
}

// Contains 检查小时是否落在时段内，支持跨午夜（如 22-6）
func (b ScheduleBand) Contains(hour int) bool {
	if b.StartHour == b.EndHour {
		// 起止相同视为全天
		return true
	}
	if b.StartHour < b.EndHour {
		return hour >= b.StartHour && hour < b.EndHour
	}
	// 跨午夜
	return hour >= b.StartHour || hour < b.EndHour
}

// 默认时段（UTC）：维护窗口优先级最高，其次高峰，其余为低谷
var (
	DefaultPeakBand = ScheduleBand{
		Name: "peak", StartHour: 9, EndHour: 17,
		WeightMultiplier: 1.0, IntervalMultiplier: 1.0,
	}
	DefaultOffPeakBand = ScheduleBand{
		Name: "offpeak", StartHour: 17, EndHour: 9,
		WeightMultiplier: 0.6, IntervalMultiplier: 1.5,
	}
	DefaultMaintenanceBand = ScheduleBand{
		Name: "maintenance", StartHour: 2, EndHour: 4,
		WeightMultiplier: 0.2, IntervalMultiplier: 3.0,
	}
)

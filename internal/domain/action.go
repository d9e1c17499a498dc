package domain

import (
	"time"
)

// ActionCategory 操作类别
// 每个周期按权重随机抽取一个类别执行
type ActionCategory string

const (
	CategoryTrade           ActionCategory = "trade"            // 交易操作
	CategoryDataQuery       ActionCategory = "data_query"       // 数据查询
	CategoryAccountActivity ActionCategory = "account_activity" // 账户活动
	CategoryLending         ActionCategory = "lending"          // 借贷操作
	CategoryFeatureProbe    ActionCategory = "feature_probe"    // 功能使用
)

// AllCategories 全部操作类别（权重归一化和抽样时按此固定顺序遍历）
var AllCategories = []ActionCategory{
	CategoryTrade,
	CategoryDataQuery,
	CategoryAccountActivity,
	CategoryLending,
	CategoryFeatureProbe,
}

// DefaultCategoryWeights 默认操作权重
var DefaultCategoryWeights = map[ActionCategory]float64{
	CategoryTrade:           0.40,
	CategoryDataQuery:       0.25,
	CategoryAccountActivity: 0.20,
	CategoryLending:         0.10,
	CategoryFeatureProbe:    0.05,
}

// ActionOutcome 一次已派发操作的结果记录
// 由 RiskController 消费一次更新风险状态，随后写入事件流
type ActionOutcome struct {
	Account   string         `json:"account"`   // 账户名
	Category  ActionCategory `json:"category"`  // 操作类别
	Detail    string         `json:"detail"`    // 具体子操作（如 ticker / depth / grid_entry）
	Success   bool           `json:"success"`   // 是否成功
	PnlDelta  float64        `json:"pnl_delta"` // 已实现盈亏增量（比例，非交易操作为 0）
	Elapsed   time.Duration  `json:"elapsed"`   // 执行耗时
	Timestamp time.Time      `json:"timestamp"` // 完成时间
}

// WorkerState 账户工作器状态
type WorkerState string

const (
	WorkerStarting WorkerState = "starting" // 启动中
	WorkerRunning  WorkerState = "running"  // 运行中
	WorkerCooling  WorkerState = "cooling"  // 风控冷却中（仍执行非交易操作和平仓）
	WorkerStopped  WorkerState = "stopped"  // 已停止（终态）
)

// StateTransition 工作器状态变更记录（事件流用）
type StateTransition struct {
	Account   string      `json:"account"`   // 账户名
	From      WorkerState `json:"from"`      // 原状态
	To        WorkerState `json:"to"`        // 新状态
	Reason    string      `json:"reason"`    // 变更原因
	Timestamp time.Time   `json:"timestamp"` // 变更时间
}

// StrategyKind 交易策略类型
type StrategyKind string

const (
	StrategyBasic        StrategyKind = "basic"         // 基础交易
	StrategyGrid         StrategyKind = "grid"          // 网格交易
	StrategyMarketMaking StrategyKind = "market_making" // 做市
	StrategyCrossover    StrategyKind = "crossover"     // 均线交叉
)

// AllStrategyKinds 全部策略类型（抽样时按此固定顺序遍历）
var AllStrategyKinds = []StrategyKind{
	StrategyBasic,
	StrategyGrid,
	StrategyMarketMaking,
	StrategyCrossover,
}

// DefaultStrategyWeights 默认策略权重（独立于操作类别权重的第二次抽样）
var DefaultStrategyWeights = map[StrategyKind]float64{
	StrategyBasic:        0.50,
	StrategyGrid:         0.20,
	StrategyMarketMaking: 0.20,
	StrategyCrossover:    0.10,
}

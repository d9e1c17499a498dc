package domain

import (
	"time"
)

// Account 账户领域模型
// 启动时从配置创建，除了内嵌的 RiskState 外创建后不可变
// 每个账户由唯一的 AccountWorker 独占持有，账户之间不共享任何可变状态
type Account struct {
	Name      string   // 账户名（日志和事件流中的身份标识）
	APIKey    string   // API Key（base64 ED25519 公钥）
	APISecret string   // API Secret（base64 ED25519 私钥种子）
	ProxyURL  string   // 可选的代理地址（多账户分流）
	Symbols   []string // 操作的交易对（默认 SOL_USDC）

	// Weights 可选的按账户覆盖的操作类别权重（为空则使用全局权重）
	Weights map[ActionCategory]float64

	// Risk 账户风险状态（唯一的可变部分，只由 RiskController 修改）
	Risk *RiskState

	CreatedAt time.Time // 创建时间
}

// NewAccount 创建账户，初始化空的风险状态
func NewAccount(name, apiKey, apiSecret string) *Account {
	return &Account{
		Name:      name,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Symbols:   []string{"SOL_USDC"},
		Risk:      NewRiskState(time.Now().UTC()),
		CreatedAt: time.Now(),
	}
}

// PrimarySymbol 返回账户的主交易对
func (a *Account) PrimarySymbol() string {
	if len(a.Symbols) == 0 {
		return "SOL_USDC"
	}
	return a.Symbols[0]
}

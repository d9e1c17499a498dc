package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AccountConfig 单账户配置
// 凭证有两种来源：明文 api_key/api_secret，或 secret_alias 指向 badger 密钥库里的账户
type AccountConfig struct {
	Name        string             `yaml:"name" json:"name"`
	APIKey      string             `yaml:"api_key" json:"api_key"`
	APISecret   string             `yaml:"api_secret" json:"api_secret"`
	SecretAlias string             `yaml:"secret_alias" json:"secret_alias"`
	Proxy       string             `yaml:"proxy" json:"proxy"`
	Symbols     []string           `yaml:"symbols" json:"symbols"`
	Weights     map[string]float64 `yaml:"weights" json:"weights"` // 按账户覆盖的类别权重（可选）
}

// BandConfig 时段配置（UTC 小时，支持跨午夜）
type BandConfig struct {
	Name               string  `yaml:"name" json:"name"`
	StartHour          int     `yaml:"start_hour" json:"start_hour"`
	EndHour            int     `yaml:"end_hour" json:"end_hour"`
	WeightMultiplier   float64 `yaml:"weight_multiplier" json:"weight_multiplier"`
	IntervalMultiplier float64 `yaml:"interval_multiplier" json:"interval_multiplier"`
}

// RiskConfig 风控配置
type RiskConfig struct {
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct" json:"max_daily_loss_pct"`
	MaxHourlyLossPct     float64 `yaml:"max_hourly_loss_pct" json:"max_hourly_loss_pct"`
	CooldownMinutes      int     `yaml:"cooldown_minutes" json:"cooldown_minutes"`
	RecoveryThresholdPct float64 `yaml:"recovery_threshold_pct" json:"recovery_threshold_pct"`
	FailureCeiling       int     `yaml:"failure_ceiling" json:"failure_ceiling"`
}

// StrategyConfig 交易策略参数
type StrategyConfig struct {
	StopLossPct   float64            `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct float64            `yaml:"take_profit_pct" json:"take_profit_pct"`
	OrderSizeMin  float64            `yaml:"order_size_min" json:"order_size_min"`
	OrderSizeMax  float64            `yaml:"order_size_max" json:"order_size_max"`
	GridSpacing   float64            `yaml:"grid_spacing" json:"grid_spacing"`
	GridLevels    int                `yaml:"grid_levels" json:"grid_levels"`
	ShortWindow   int                `yaml:"short_window" json:"short_window"`
	LongWindow    int                `yaml:"long_window" json:"long_window"`
	MinSpreadPct  float64            `yaml:"min_spread_pct" json:"min_spread_pct"`
	Weights       map[string]float64 `yaml:"weights" json:"weights"` // 策略类型抽样权重
}

// WorkerConfig 工作器循环配置
type WorkerConfig struct {
	BaseIntervalSeconds int     `yaml:"base_interval_seconds" json:"base_interval_seconds"`
	IntervalJitter      float64 `yaml:"interval_jitter" json:"interval_jitter"`
	ReplenishEvery      int     `yaml:"replenish_every" json:"replenish_every"`
	StatusEveryMinutes  int     `yaml:"status_every_minutes" json:"status_every_minutes"`
	StaggerSeconds      int     `yaml:"stagger_seconds" json:"stagger_seconds"`
}

// ReplenishTarget 单资产补足目标
type ReplenishTarget struct {
	Asset       string  `yaml:"asset" json:"asset"`
	MinQuantity float64 `yaml:"min_quantity" json:"min_quantity"`
	TopUpQuote  float64 `yaml:"top_up_quote" json:"top_up_quote"`
}

// ReplenishConfig 资产补足配置
type ReplenishConfig struct {
	Targets            []ReplenishTarget `yaml:"targets" json:"targets"`
	QuoteAsset         string            `yaml:"quote_asset" json:"quote_asset"`
	SettlePauseSeconds int               `yaml:"settle_pause_seconds" json:"settle_pause_seconds"`
}

// ExchangeConfig 交易所接入配置
type ExchangeConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	WSURL          string `yaml:"ws_url" json:"ws_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	SignWindowMS   int64  `yaml:"sign_window_ms" json:"sign_window_ms"`
}

// JournalConfig 事件流落地配置
type JournalConfig struct {
	DBPath string `yaml:"db_path" json:"db_path"` // SQLite 文件路径，留空则只写日志
}

// Config 应用配置
type Config struct {
	Accounts  []AccountConfig
	Symbols   []string           // 全局默认交易对
	Weights   map[string]float64 // 全局类别权重
	Bands     []BandConfig
	Risk      RiskConfig
	Strategy  StrategyConfig
	Worker    WorkerConfig
	Replenish ReplenishConfig
	Exchange  ExchangeConfig
	Journal   JournalConfig
	SecretDB  string // badger 密钥库路径（secret_alias 的凭证来源）
	LogLevel  string
	LogFile   string
	LogByDay  bool
}

var globalConfig *Config
var configFilePath string

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	configFilePath = path
}

// GetConfigPath 获取配置文件路径
func GetConfigPath() string {
	return configFilePath
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Accounts  []AccountConfig    `yaml:"accounts" json:"accounts"`
	Symbols   []string           `yaml:"symbols" json:"symbols"`
	Weights   map[string]float64 `yaml:"weights" json:"weights"`
	Bands     []BandConfig       `yaml:"bands" json:"bands"`
	Risk      RiskConfig         `yaml:"risk" json:"risk"`
	Strategy  StrategyConfig     `yaml:"strategy" json:"strategy"`
	Worker    WorkerConfig       `yaml:"worker" json:"worker"`
	Replenish ReplenishConfig    `yaml:"replenish" json:"replenish"`
	Exchange  ExchangeConfig     `yaml:"exchange" json:"exchange"`
	Journal   JournalConfig      `yaml:"journal" json:"journal"`
	SecretDB  string             `yaml:"secret_db" json:"secret_db"`
	LogLevel  string             `yaml:"log_level" json:"log_level"`
	LogFile   string             `yaml:"log_file" json:"log_file"`
	LogByDay  *bool              `yaml:"log_by_day" json:"log_by_day"`
}

// 已知的操作类别键（weights 配置校验用）
var knownCategories = map[string]bool{
	"trade":            true,
	"data_query":       true,
	"account_activity": true,
	"lending":          true,
	"feature_probe":    true,
}

// 已知的策略类型键
var knownStrategies = map[string]bool{
	"basic":         true,
	"grid":          true,
	"market_making": true,
	"crossover":     true,
}

// Load 加载配置
func Load() (*Config, error) {
	return LoadFromFile(configFilePath)
}

// LoadFromFile 从指定文件加载配置
// 优先级：配置文件 > 环境变量 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	if globalConfig != nil && configFilePath == filePath {
		return globalConfig, nil
	}

	var configFile *ConfigFile
	if filePath != "" {
		var err error
		configFile, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}
	if configFile == nil {
		configFile = &ConfigFile{}
	}

	config := &Config{
		Accounts:  configFile.Accounts,
		Symbols:   configFile.Symbols,
		Weights:   configFile.Weights,
		Bands:     configFile.Bands,
		Risk:      configFile.Risk,
		Strategy:  configFile.Strategy,
		Worker:    configFile.Worker,
		Replenish: configFile.Replenish,
		Exchange:  configFile.Exchange,
		Journal:   configFile.Journal,
		SecretDB:  configFile.SecretDB,
		LogLevel:  configFile.LogLevel,
		LogFile:   configFile.LogFile,
	}

	// 账户兜底：配置文件没有账户时，从环境变量读取单账户凭证
	if len(config.Accounts) == 0 {
		if acct := accountFromEnv(); acct != nil {
			config.Accounts = []AccountConfig{*acct}
		}
	}

	if len(config.Symbols) == 0 {
		config.Symbols = parseListEnv("GOFARM_SYMBOLS", []string{"SOL_USDC"})
	}

	applyRiskDefaults(&config.Risk)
	applyStrategyDefaults(&config.Strategy)
	applyWorkerDefaults(&config.Worker)
	applyReplenishDefaults(&config.Replenish)

	if config.Exchange.BaseURL == "" {
		config.Exchange.BaseURL = getEnv("GOFARM_BASE_URL", "https://api.backpack.exchange")
	}
	if config.Exchange.WSURL == "" {
		config.Exchange.WSURL = getEnv("GOFARM_WS_URL", "wss://ws.backpack.exchange")
	}
	if config.Exchange.TimeoutSeconds <= 0 {
		config.Exchange.TimeoutSeconds = parseIntEnv("GOFARM_HTTP_TIMEOUT", 30)
	}
	if config.Exchange.SignWindowMS <= 0 {
		config.Exchange.SignWindowMS = int64(parseIntEnv("GOFARM_SIGN_WINDOW_MS", 5000))
	}

	if config.Journal.DBPath == "" {
		config.Journal.DBPath = getEnv("GOFARM_JOURNAL_DB", "data/journal.db")
	}
	if config.SecretDB == "" {
		config.SecretDB = getEnv("GOFARM_SECRET_DB", "")
	}
	if config.LogLevel == "" {
		config.LogLevel = getEnv("LOG_LEVEL", "info")
	}
	if config.LogFile == "" {
		config.LogFile = getEnv("LOG_FILE", "logs/farm.log")
	}
	if configFile.LogByDay != nil {
		config.LogByDay = *configFile.LogByDay
	} else {
		config.LogByDay = parseBoolEnv("LOG_BY_DAY", true)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	globalConfig = config
	configFilePath = filePath
	return config, nil
}

// accountFromEnv 从环境变量构造单账户配置（BACKPACK_API_KEY / BACKPACK_API_SECRET）
func accountFromEnv() *AccountConfig {
	apiKey := getEnv("BACKPACK_API_KEY", "")
	apiSecret := getEnv("BACKPACK_API_SECRET", "")
	if apiKey == "" || apiSecret == "" {
		return nil
	}
	return &AccountConfig{
		Name:      getEnv("GOFARM_ACCOUNT_NAME", "main"),
		APIKey:    apiKey,
		APISecret: apiSecret,
		Proxy:     getEnv("GOFARM_PROXY", ""),
	}
}

func applyRiskDefaults(r *RiskConfig) {
	if r.MaxDailyLossPct <= 0 {
		r.MaxDailyLossPct = parseFloatEnv("GOFARM_MAX_DAILY_LOSS_PCT", 0.03)
	}
	if r.MaxHourlyLossPct <= 0 {
		r.MaxHourlyLossPct = parseFloatEnv("GOFARM_MAX_HOURLY_LOSS_PCT", 0.015)
	}
	if r.CooldownMinutes <= 0 {
		r.CooldownMinutes = parseIntEnv("GOFARM_COOLDOWN_MINUTES", 30)
	}
	if r.RecoveryThresholdPct == 0 {
		r.RecoveryThresholdPct = parseFloatEnv("GOFARM_RECOVERY_THRESHOLD_PCT", 0.01)
	}
	if r.FailureCeiling <= 0 {
		r.FailureCeiling = parseIntEnv("GOFARM_FAILURE_CEILING", 5)
	}
}

func applyStrategyDefaults(s *StrategyConfig) {
	if s.StopLossPct <= 0 {
		s.StopLossPct = parseFloatEnv("GOFARM_STOP_LOSS_PCT", 0.004)
	}
	if s.TakeProfitPct <= 0 {
		s.TakeProfitPct = parseFloatEnv("GOFARM_TAKE_PROFIT_PCT", 0.01)
	}
	if s.OrderSizeMin <= 0 {
		s.OrderSizeMin = parseFloatEnv("GOFARM_ORDER_SIZE_MIN", 10)
	}
	if s.OrderSizeMax <= 0 {
		s.OrderSizeMax = parseFloatEnv("GOFARM_ORDER_SIZE_MAX", 50)
	}
	if s.GridSpacing <= 0 {
		s.GridSpacing = 0.004
	}
	if s.GridLevels <= 0 {
		s.GridLevels = 5
	}
	if s.ShortWindow <= 0 {
		s.ShortWindow = 5
	}
	if s.LongWindow <= 0 {
		s.LongWindow = 20
	}
	if s.MinSpreadPct <= 0 {
		s.MinSpreadPct = 0.0008
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	if w.BaseIntervalSeconds <= 0 {
		w.BaseIntervalSeconds = parseIntEnv("GOFARM_BASE_INTERVAL", 20)
	}
	if w.IntervalJitter <= 0 {
		w.IntervalJitter = parseFloatEnv("GOFARM_INTERVAL_JITTER", 0.5)
	}
	if w.ReplenishEvery <= 0 {
		w.ReplenishEvery = parseIntEnv("GOFARM_REPLENISH_EVERY", 10)
	}
	if w.StatusEveryMinutes <= 0 {
		w.StatusEveryMinutes = parseIntEnv("GOFARM_STATUS_EVERY_MINUTES", 10)
	}
	if w.StaggerSeconds <= 0 {
		w.StaggerSeconds = parseIntEnv("GOFARM_STAGGER_SECONDS", 2)
	}
}

func applyReplenishDefaults(r *ReplenishConfig) {
	if len(r.Targets) == 0 {
		r.Targets = []ReplenishTarget{
			{Asset: "SOL", MinQuantity: 0.5, TopUpQuote: 50},
			{Asset: "USDC", MinQuantity: 100, TopUpQuote: 100},
		}
	}
	if r.QuoteAsset == "" {
		r.QuoteAsset = "USDC"
	}
	if r.SettlePauseSeconds <= 0 {
		r.SettlePauseSeconds = 3
	}
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

// Get 获取全局配置（如果已加载）
func Get() *Config {
	return globalConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("至少需要配置一个账户（accounts 或 BACKPACK_API_KEY/BACKPACK_API_SECRET）")
	}

	seen := map[string]bool{}
	for i, acct := range c.Accounts {
		if acct.Name == "" {
			return fmt.Errorf("账户 #%d 缺少 name", i)
		}
		if seen[acct.Name] {
			return fmt.Errorf("账户名重复: %s", acct.Name)
		}
		seen[acct.Name] = true

		hasPlain := acct.APIKey != "" && acct.APISecret != ""
		hasAlias := acct.SecretAlias != ""
		if !hasPlain && !hasAlias {
			return fmt.Errorf("账户 %s 缺少凭证（api_key/api_secret 或 secret_alias）", acct.Name)
		}
		if hasAlias && c.SecretDB == "" {
			return fmt.Errorf("账户 %s 使用 secret_alias 但未配置 secret_db", acct.Name)
		}
		if err := validateWeightKeys(acct.Weights, knownCategories, "账户 "+acct.Name+" weights"); err != nil {
			return err
		}
	}

	if err := validateWeightKeys(c.Weights, knownCategories, "weights"); err != nil {
		return err
	}
	if err := validateWeightKeys(c.Strategy.Weights, knownStrategies, "strategy.weights"); err != nil {
		return err
	}

	for _, b := range c.Bands {
		if b.StartHour < 0 || b.StartHour > 23 || b.EndHour < 0 || b.EndHour > 24 {
			return fmt.Errorf("时段 %s 小时范围非法: [%d, %d)", b.Name, b.StartHour, b.EndHour)
		}
	}

	if c.Strategy.OrderSizeMin > c.Strategy.OrderSizeMax {
		return fmt.Errorf("order_size_min (%v) 不能大于 order_size_max (%v)", c.Strategy.OrderSizeMin, c.Strategy.OrderSizeMax)
	}
	if c.Strategy.ShortWindow >= c.Strategy.LongWindow {
		return fmt.Errorf("short_window (%d) 必须小于 long_window (%d)", c.Strategy.ShortWindow, c.Strategy.LongWindow)
	}
	for _, tgt := range c.Replenish.Targets {
		if tgt.Asset == "" {
			return fmt.Errorf("replenish 目标缺少 asset")
		}
		if tgt.MinQuantity < 0 || tgt.TopUpQuote < 0 {
			return fmt.Errorf("replenish 目标 %s 数值不能为负", tgt.Asset)
		}
	}

	return nil
}

// validateWeightKeys 检查权重键是否都在已知集合内，权重值是否非负
func validateWeightKeys(weights map[string]float64, known map[string]bool, where string) error {
	for k, v := range weights {
		if !known[k] {
			return fmt.Errorf("%s 含未知键: %s", where, k)
		}
		if v < 0 {
			return fmt.Errorf("%s 键 %s 权重为负: %v", where, k, v)
		}
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseListEnv 解析逗号分隔的列表环境变量
func parseListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

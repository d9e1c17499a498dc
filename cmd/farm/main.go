package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/controlplane/server"
	"github.com/betbot/gofarm/internal/dispatch"
	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/events"
	"github.com/betbot/gofarm/internal/exchange"
	"github.com/betbot/gofarm/internal/metrics"
	"github.com/betbot/gofarm/internal/monitor"
	"github.com/betbot/gofarm/internal/replenish"
	"github.com/betbot/gofarm/internal/risk"
	"github.com/betbot/gofarm/internal/schedule"
	"github.com/betbot/gofarm/internal/strategy"
	"github.com/betbot/gofarm/internal/stream"
	"github.com/betbot/gofarm/internal/worker"
	"github.com/betbot/gofarm/pkg/config"
	"github.com/betbot/gofarm/pkg/logger"
	"github.com/betbot/gofarm/pkg/persistence"
	"github.com/betbot/gofarm/pkg/secretstore"
	"github.com/betbot/gofarm/pkg/shutdown"
)

func firstExistingFile(paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

func main() {
	// .env 可选，找不到不报错
	_ = godotenv.Load()

	configPath := flag.String("config", "", "配置文件路径（支持 .yaml, .yml, .json）")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("初始化日志失败: %v", err))
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
		logrus.Infof("使用配置文件: %s", *configPath)
	} else {
		if p, ok := firstExistingFile("yml/farm.yaml", "yml/farm.yml", "farm.yaml"); ok {
			config.SetConfigPath(p)
			logrus.Infof("使用默认配置文件: %s", p)
		} else {
			logrus.Warn("未指定配置文件，将使用环境变量和默认值")
		}
	}

	cfg, err := config.LoadFromFile(config.GetConfigPath())
	if err != nil {
		logrus.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	// 设置日志级别与格式
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logrus.Warnf("无效的日志级别 %s，使用默认级别: info", cfg.LogLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 10,
		MaxAge:     30,
		Compress:   true,
		LogByDay:   cfg.LogByDay,
	}); err != nil {
		logrus.Errorf("重新初始化日志失败: %v", err)
		os.Exit(1)
	}

	logrus.Info("🚀 启动刷分引擎...")

	// 领域参数：配置层只做结构校验，这里再过一遍领域校验
	bands := mapBands(cfg.Bands)
	if err := schedule.ValidateBands(bands); err != nil {
		logrus.Errorf("时段配置无效: %v", err)
		os.Exit(1)
	}
	clock := schedule.NewClock(bands)

	limits := mapLimits(cfg.Risk)
	if err := limits.Validate(); err != nil {
		logrus.Errorf("风控配置无效: %v", err)
		os.Exit(1)
	}

	params := mapParams(cfg.Strategy)
	if err := params.Validate(); err != nil {
		logrus.Errorf("策略配置无效: %v", err)
		os.Exit(1)
	}

	accounts, err := buildAccounts(cfg)
	if err != nil {
		logrus.Errorf("装配账户失败: %v", err)
		os.Exit(1)
	}
	logrus.Infof("共 %d 个账户: %s", len(accounts), accountNames(accounts))

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 事件流：日志端始终在，SQLite 端按配置挂载
	sinks := []events.Sink{events.NewLogSink()}
	var recorder *events.Recorder
	if cfg.Journal.DBPath != "" {
		recorder, err = events.OpenRecorder(cfg.Journal.DBPath)
		if err != nil {
			logrus.Errorf("打开事件库失败: %v", err)
			os.Exit(1)
		}
		sinks = append(sinks, recorder)
		logrus.Infof("事件库: %s", cfg.Journal.DBPath)
	}
	journal := events.NewJournal(sinks...)

	// 对外部件（监控 API、行情流）在创建处注册关闭回调，关停时并发执行
	closer := shutdown.NewManager()

	// 共享行情流：所有账户订阅的交易对合并成一条公共 WS 连接
	var cache *stream.TickerCache
	if cfg.Exchange.WSURL != "" {
		cache = stream.NewTickerCache(stream.Config{
			URL:     cfg.Exchange.WSURL,
			Symbols: unionSymbols(accounts),
		})
		if err := cache.Start(rootCtx); err != nil {
			logrus.Warnf("行情流启动失败，价格走 REST 兜底: %v", err)
			cache = nil
		}
	}
	if cache != nil {
		closer.OnShutdown(func(context.Context) {
			if err := cache.Close(); err != nil {
				logrus.Errorf("关闭行情流失败: %v", err)
			}
		})
	}

	persist := persistence.NewJSONFileService("data/persistence")

	workerCfg := mapWorkerConfig(cfg.Worker)
	replenishCfg := mapReplenishConfig(cfg.Replenish)

	// 逐账户装配：client → monitor → runner → dispatcher → worker
	workers := make([]*worker.Worker, 0, len(accounts))
	for i, acct := range accounts {
		client, err := exchange.NewClient(exchange.Config{
			BaseURL:      cfg.Exchange.BaseURL,
			Timeout:      time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
			ProxyURL:     acct.ProxyURL,
			APIKey:       acct.APIKey,
			APISecret:    acct.APISecret,
			SignWindowMS: cfg.Exchange.SignWindowMS,
		})
		if err != nil {
			logrus.Errorf("账户 %s 创建交易所客户端失败: %v", acct.Name, err)
			os.Exit(1)
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		mon := monitor.New(acct, client)
		runner := strategy.NewRunner(acct, client, mon, params, rng)
		disp := dispatch.New(acct, client, runner, rng)

		workers = append(workers, worker.New(acct, workerCfg, worker.Deps{
			Clock:       clock,
			Dispatcher:  disp,
			Risk:        risk.NewController(limits),
			Monitor:     mon,
			Replenisher: replenish.New(acct, client, replenishCfg),
			Journal:     journal,
			Prices:      stream.NewFeed(cache, client, acct.Name),
			Status:      client,
			Persist:     persist,
		}))
	}

	manager := worker.NewManager(workerCfg.Stagger, workers...)

	// 可选：metrics/pprof（默认关闭，通过环境变量启用）
	if addr := firstEnv("GOFARM_PPROF_ADDR", "METRICS_ADDR"); addr != "" {
		if _, err := metrics.StartAsync(rootCtx, addr); err != nil {
			logrus.Errorf("metrics/pprof 启动失败: %v", err)
		} else {
			logrus.Infof("📊 metrics/pprof 启用: listen=%s (expvar:/debug/vars, pprof:/debug/pprof)", addr)
		}
	}

	// 可选：嵌入只读监控 API（与独立的 farmctl 二选一即可）
	if addr := os.Getenv("GOFARM_CONTROL_LISTEN"); addr != "" {
		if recorder == nil {
			logrus.Warn("未配置事件库，监控 API 不可用")
		} else {
			api, err := server.New(server.Config{Recorder: recorder, States: manager.States})
			if err != nil {
				logrus.Errorf("创建监控 API 失败: %v", err)
				os.Exit(1)
			}
			controlSrv := &http.Server{
				Addr:              addr,
				Handler:           api.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logrus.Infof("🖥 监控 API 启用: listen=%s", addr)
				if err := controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logrus.Errorf("监控 API 退出: %v", err)
				}
			}()
			closer.OnShutdown(func(ctx context.Context) {
				if err := controlSrv.Shutdown(ctx); err != nil {
					logrus.Errorf("停止监控 API 失败: %v", err)
				}
			})
		}
	}

	done := make(chan struct{})
	go func() {
		manager.Run(rootCtx)
		close(done)
	}()

	logrus.Info("✅ 刷分引擎已启动，按 Ctrl+C 停止")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
		logrus.Info("收到停止信号，正在关闭...")
	case <-done:
		// 全部工作器自行退出（例如都触发连续失败上限）
		logrus.Warn("全部账户工作器已退出")
	}
	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// 1. 等待工作器收尾（平仓确认、状态落盘）
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logrus.Warn("等待工作器退出超时")
	}

	// 2. 并发关闭对外部件（监控 API、行情流）
	closer.Shutdown(shutdownCtx)

	// 3. 关闭事件流（工作器已停，落地端最后刷盘）
	if err := journal.Close(); err != nil {
		logrus.Errorf("关闭事件流失败: %v", err)
	}

	logrus.Info("✅ 刷分引擎已停止")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func accountNames(accounts []*domain.Account) string {
	names := make([]string, 0, len(accounts))
	for _, a := range accounts {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// unionSymbols 合并所有账户的交易对（去重，保持出现顺序）
func unionSymbols(accounts []*domain.Account) []string {
	seen := map[string]bool{}
	var out []string
	for _, a := range accounts {
		for _, s := range a.Symbols {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// buildAccounts 把账户配置映射成领域对象，密钥库别名在这里解析
func buildAccounts(cfg *config.Config) ([]*domain.Account, error) {
	var store *secretstore.Store
	for _, ac := range cfg.Accounts {
		if ac.SecretAlias != "" {
			key, err := secretstore.ParseKey(os.Getenv("GOFARM_SECRET_KEY"))
			if err != nil {
				return nil, fmt.Errorf("解析密钥库加密密钥失败: %w", err)
			}
			store, err = secretstore.Open(secretstore.OpenOptions{
				Path:          cfg.SecretDB,
				EncryptionKey: key,
				ReadOnly:      true,
			})
			if err != nil {
				return nil, fmt.Errorf("打开密钥库失败: %w", err)
			}
			defer store.Close()
			break
		}
	}

	globalWeights := mapCategoryWeights(cfg.Weights)
	accounts := make([]*domain.Account, 0, len(cfg.Accounts))
	for _, ac := range cfg.Accounts {
		apiKey, apiSecret := ac.APIKey, ac.APISecret
		if ac.SecretAlias != "" {
			cred, ok, err := store.GetCredential(ac.SecretAlias)
			if err != nil {
				return nil, fmt.Errorf("读取账户 %s 的凭证失败: %w", ac.Name, err)
			}
			if !ok {
				return nil, fmt.Errorf("密钥库中没有别名 %s（账户 %s）", ac.SecretAlias, ac.Name)
			}
			apiKey, apiSecret = cred.APIKey, cred.APISecret
		}

		acct := domain.NewAccount(ac.Name, apiKey, apiSecret)
		acct.ProxyURL = ac.Proxy
		if len(ac.Symbols) > 0 {
			acct.Symbols = ac.Symbols
		} else if len(cfg.Symbols) > 0 {
			acct.Symbols = cfg.Symbols
		}
		switch {
		case len(ac.Weights) > 0:
			acct.Weights = mapCategoryWeights(ac.Weights)
		case len(globalWeights) > 0:
			acct.Weights = globalWeights
		default:
			acct.Weights = domain.DefaultCategoryWeights
		}
		if err := dispatch.ValidateWeights(acct.Weights); err != nil {
			return nil, fmt.Errorf("账户 %s 权重无效: %w", ac.Name, err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func mapCategoryWeights(in map[string]float64) map[domain.ActionCategory]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[domain.ActionCategory]float64, len(in))
	for k, v := range in {
		out[domain.ActionCategory(k)] = v
	}
	return out
}

func mapStrategyWeights(in map[string]float64) map[domain.StrategyKind]float64 {
	if len(in) == 0 {
		return domain.DefaultStrategyWeights
	}
	out := make(map[domain.StrategyKind]float64, len(in))
	for k, v := range in {
		out[domain.StrategyKind(k)] = v
	}
	return out
}

func mapBands(in []config.BandConfig) []domain.ScheduleBand {
	out := make([]domain.ScheduleBand, 0, len(in))
	for _, b := range in {
		out = append(out, domain.ScheduleBand{
			Name:               b.Name,
			StartHour:          b.StartHour,
			EndHour:            b.EndHour,
			WeightMultiplier:   b.WeightMultiplier,
			IntervalMultiplier: b.IntervalMultiplier,
		})
	}
	return out
}

func mapLimits(in config.RiskConfig) risk.Limits {
	return risk.Limits{
		MaxDailyLossPct:      in.MaxDailyLossPct,
		MaxHourlyLossPct:     in.MaxHourlyLossPct,
		CooldownPeriod:       time.Duration(in.CooldownMinutes) * time.Minute,
		RecoveryThresholdPct: in.RecoveryThresholdPct,
		FailureCeiling:       in.FailureCeiling,
	}
}

func mapParams(in config.StrategyConfig) strategy.Params {
	return strategy.Params{
		StopLossPct:   in.StopLossPct,
		TakeProfitPct: in.TakeProfitPct,
		OrderSizeMin:  in.OrderSizeMin,
		OrderSizeMax:  in.OrderSizeMax,
		GridSpacing:   in.GridSpacing,
		GridLevels:    in.GridLevels,
		ShortWindow:   in.ShortWindow,
		LongWindow:    in.LongWindow,
		MinSpreadPct:  in.MinSpreadPct,
		Weights:       mapStrategyWeights(in.Weights),
	}
}

func mapWorkerConfig(in config.WorkerConfig) worker.Config {
	return worker.Config{
		BaseInterval:   time.Duration(in.BaseIntervalSeconds) * time.Second,
		IntervalJitter: in.IntervalJitter,
		ReplenishEvery: in.ReplenishEvery,
		StatusEvery:    time.Duration(in.StatusEveryMinutes) * time.Minute,
		Stagger:        time.Duration(in.StaggerSeconds) * time.Second,
	}
}

func mapReplenishConfig(in config.ReplenishConfig) replenish.Config {
	targets := make([]replenish.Target, 0, len(in.Targets))
	for _, t := range in.Targets {
		targets = append(targets, replenish.Target{
			Asset:       t.Asset,
			MinQuantity: t.MinQuantity,
			TopUpQuote:  t.TopUpQuote,
		})
	}
	return replenish.Config{
		Targets:     targets,
		QuoteAsset:  in.QuoteAsset,
		SettlePause: time.Duration(in.SettlePauseSeconds) * time.Second,
	}
}

// Package stream 行情 WebSocket 缓存
// 订阅公共 ticker 频道，把最新成交价缓存在内存里供所有工作器共享，
// 缓存过期时由各账户自己的 REST 通道兜底
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/gofarm/internal/metrics"
	"github.com/betbot/gofarm/internal/ports"
	"github.com/betbot/gofarm/pkg/cache"
	"github.com/betbot/gofarm/pkg/sigchan"
	"github.com/betbot/gofarm/pkg/syncgroup"
)

var log = logrus.WithField("component", "ticker_cache")

const (
	// DefaultWSURL 交易所公共行情流地址
	DefaultWSURL = "wss://ws.backpack.exchange"
	// DefaultTTL 缓存新鲜度窗口，超过后 Price 返回未命中
	DefaultTTL = 15 * time.Second

	reconnectCoolDownPeriod = 15 * time.Second
	pingInterval            = 10 * time.Second
	readTimeout             = 30 * time.Second
	writeTimeout            = 10 * time.Second
	handshakeTimeout        = 30 * time.Second
)

// Config 行情缓存配置
type Config struct {
	URL      string        // WebSocket 地址，留空使用 DefaultWSURL
	ProxyURL string        // 可选代理
	Symbols  []string      // 订阅的交易对
	TTL      time.Duration // 缓存新鲜度窗口
}

// TickerCache 公共行情缓存（全进程一个实例，信号驱动重连）
type TickerCache struct {
	cfg Config

	// 连接管理
	conn       *websocket.Conn
	connCancel context.CancelFunc
	connMu     sync.Mutex

	// 重连管理
	reconnectC *sigchan.Chan
	closeC     chan struct{}
	closeOnce  sync.Once

	// Goroutine 管理
	sg     *syncgroup.SyncGroup // 长期运行的 goroutine（reconnector）
	connSg *syncgroup.SyncGroup // 连接级 goroutine（Read / ping）

	// 价格缓存
	prices *cache.InMemoryCache[string, float64]
}

// NewTickerCache 创建行情缓存
func NewTickerCache(cfg Config) *TickerCache {
	if cfg.URL == "" {
		cfg.URL = DefaultWSURL
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &TickerCache{
		cfg:        cfg,
		reconnectC: sigchan.New(1),
		closeC:     make(chan struct{}),
		sg:         syncgroup.NewSyncGroup(),
		connSg:     syncgroup.NewSyncGroup(),
		prices:     cache.NewInMemoryCache[string, float64](cfg.TTL),
	}
}

// Start 启动行情流：先起重连器，再拨号
// 首次拨号失败不算致命，交给重连器继续尝试
func (t *TickerCache) Start(ctx context.Context) error {
	if len(t.cfg.Symbols) == 0 {
		return fmt.Errorf("没有要订阅的交易对")
	}

	t.sg.Add(func() {
		t.reconnector(ctx)
	})
	t.sg.Run()

	if err := t.DialAndConnect(ctx); err != nil {
		log.Warnf("首次连接行情流失败: %v，交给重连器重试", err)
		t.Reconnect()
	}
	return nil
}

// Price 查询缓存价格，过期或未知交易对返回 false
func (t *TickerCache) Price(symbol string) (float64, bool) {
	return t.prices.Get(symbol)
}

// setPrice 更新缓存
func (t *TickerCache) setPrice(symbol string, price float64) {
	t.prices.Set(symbol, price, t.cfg.TTL)
}

// DialAndConnect 拨号并建立订阅
func (t *TickerCache) DialAndConnect(ctx context.Context) error {
	select {
	case <-t.closeC:
		return fmt.Errorf("行情缓存已关闭，取消重连")
	default:
	}

	conn, err := t.Dial(ctx)
	if err != nil {
		return err
	}

	// 原子替换连接（取消旧连接的 context）
	connCtx, connCancel := t.SetConn(ctx, conn)

	// 启动新 goroutine 前先等旧的一批退出，避免并存的 Read 循环
	done := make(chan struct{})
	go func() {
		t.connSg.WaitAndClear()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		log.Debugf("等待旧连接 goroutine 退出超时，继续启动新连接")
	}

	t.connSg.Add(func() {
		t.read(connCtx, conn, connCancel)
	})
	t.connSg.Add(func() {
		t.ping(connCtx, conn, connCancel)
	})
	t.connSg.Run()

	if err := t.subscribe(conn); err != nil {
		conn.Close()
		return err
	}

	log.Infof("行情流已连接: %s，订阅 %v", t.cfg.URL, t.cfg.Symbols)
	return nil
}

// Dial 拨号 WebSocket 连接
func (t *TickerCache) Dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	if t.cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(t.cfg.ProxyURL)
		if err == nil {
			dialer.Proxy = http.ProxyURL(proxyURL)
			log.Infof("使用代理连接行情流: %s", t.cfg.ProxyURL)
		}
	}

	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout * 2))
	})

	return conn, nil
}

// SetConn 原子替换连接
func (t *TickerCache) SetConn(ctx context.Context, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.connCancel != nil {
		t.connCancel()
	}

	connCtx, connCancel := context.WithCancel(ctx)
	t.conn = conn
	t.connCancel = connCancel

	return connCtx, connCancel
}

// Reconnect 触发重连（信号驱动，已有待处理信号时忽略）
func (t *TickerCache) Reconnect() {
	t.reconnectC.Emit()
}

// reconnector 重连器 goroutine
func (t *TickerCache) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeC:
			return
		case <-t.reconnectC.C():
			log.Warnf("收到重连信号，冷却 %s...", reconnectCoolDownPeriod)

			select {
			case <-t.closeC:
				return
			case <-ctx.Done():
				return
			case <-time.After(reconnectCoolDownPeriod):
			}

			// 冷却期间积压的信号一并消化，避免背靠背重连
			t.reconnectC.Drain()

			log.Warnf("重新连接行情流...")
			if err := t.DialAndConnect(ctx); err != nil {
				log.Warnf("重连失败: %v，将再次尝试", err)
				t.Reconnect()
			}
		}
	}
}

// read 读取消息循环
func (t *TickerCache) read(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeC:
			return
		default:
		}

		// 用 deadline 让 ReadMessage 至多阻塞 readTimeout，以便周期性检查 ctx
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			log.Errorf("设置读取超时失败: %v", err)
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("行情流正常关闭")
				return
			}
			if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
				continue
			}
			if err.Error() == "use of closed network connection" {
				log.Debugf("行情流连接已关闭")
				return
			}

			log.Warnf("行情流读取错误: %v，触发重连", err)
			_ = conn.Close()
			t.Reconnect()
			return
		}

		t.handleMessage(message)
	}
}

// ping 协议级心跳循环
func (t *TickerCache) ping(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeC:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				log.Warnf("发送 PING 失败: %v，触发重连", err)
				t.Reconnect()
				return
			}
		}
	}
}

// subscribe 发送订阅请求
func (t *TickerCache) subscribe(conn *websocket.Conn) error {
	params := make([]string, 0, len(t.cfg.Symbols))
	for _, s := range t.cfg.Symbols {
		params = append(params, "ticker."+s)
	}
	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": params,
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}
	log.Debugf("订阅请求已发送: %v", params)
	return nil
}

// tickerMessage 行情推送消息
// data.c 是最新成交价（字符串形式的十进制数）
type tickerMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleMessage 处理单条推送
func (t *TickerCache) handleMessage(message []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		preview := message
		if len(preview) > 200 {
			preview = preview[:200]
		}
		log.Debugf("解析行情消息失败: %v, msg=%q", err, string(preview))
		return
	}

	if msg.Error != nil {
		log.Warnf("行情流返回错误: code=%d message=%s", msg.Error.Code, msg.Error.Message)
		return
	}
	// 订阅确认等非数据消息没有 stream 字段
	if msg.Stream == "" || msg.Data.Symbol == "" || msg.Data.Close == "" {
		return
	}

	price, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil || price <= 0 {
		log.Debugf("行情价格非法: symbol=%s c=%q", msg.Data.Symbol, msg.Data.Close)
		return
	}

	t.setPrice(msg.Data.Symbol, price)
	metrics.TickerUpdates.Add(1)
}

// Close 关闭行情流并等待所有 goroutine 退出
func (t *TickerCache) Close() error {
	t.closeOnce.Do(func() {
		close(t.closeC)
	})

	t.connMu.Lock()
	if t.connCancel != nil {
		t.connCancel()
		t.connCancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	t.connSg.WaitAndClear()
	t.sg.WaitAndClear()
	t.prices.Close()
	log.Debugf("行情缓存已关闭")
	return nil
}

// Feed 每账户行情源
// 共享的 WS 缓存新鲜时直接用，否则走该账户自己的 REST 通道查 ticker，
// 这样兜底流量也沿用账户各自的代理出口
type Feed struct {
	cache   *TickerCache
	rest    ports.TickerGetter
	account string
}

// NewFeed 创建账户行情源，cache 可以为 nil（纯 REST 模式）
func NewFeed(cache *TickerCache, rest ports.TickerGetter, account string) *Feed {
	return &Feed{cache: cache, rest: rest, account: account}
}

// Price 查询最新价，WS 缓存优先，REST 兜底
func (f *Feed) Price(ctx context.Context, symbol string) (float64, bool) {
	if f.cache != nil {
		if price, ok := f.cache.Price(symbol); ok {
			return price, true
		}
	}
	if f.rest == nil {
		return 0, false
	}

	ticker, err := f.rest.GetTicker(ctx, symbol)
	if err != nil {
		log.WithField("account", f.account).Debugf("REST 兜底查价失败: %s: %v", symbol, err)
		return 0, false
	}
	price := ticker.LastPrice.InexactFloat64()
	if price <= 0 {
		return 0, false
	}
	// 回填缓存，减少后续兜底请求
	if f.cache != nil {
		f.cache.setPrice(symbol, price)
	}
	return price, true
}

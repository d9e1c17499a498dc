// Package server 只读监控 API
// 基于事件库（SQLite）对外提供账户操作记录、状态变更和权益曲线的查询；
// 嵌入引擎进程时还能返回各工作器的实时状态。不提供任何写操作。
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/betbot/gofarm/internal/domain"
	"github.com/betbot/gofarm/internal/events"
)

// StatesFunc 返回各工作器的实时状态，同进程嵌入时由引擎提供
type StatesFunc func() map[string]domain.WorkerState

type Config struct {
	// DBPath 事件库路径。Recorder 为空时服务端自行打开并负责关闭
	DBPath string
	// Recorder 已打开的事件库，嵌入模式下与工作器共用同一实例
	Recorder *events.Recorder
	// States 可选，缺省时 /api/status 只报告离线模式
	States StatesFunc
}

type Server struct {
	cfg      Config
	recorder *events.Recorder
	ownDB    bool
}

func New(cfg Config) (*Server, error) {
	s := &Server{cfg: cfg, recorder: cfg.Recorder}
	if s.recorder == nil {
		if cfg.DBPath == "" {
			return nil, errors.New("db path is required")
		}
		rec, err := events.OpenRecorder(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		s.ownDB = true
	}
	return s, nil
}

func (s *Server) Close() error {
	if s.ownDB && s.recorder != nil {
		return s.recorder.Close()
	}
	return nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	api := r.Group("/api")
	api.GET("/status", s.wrap(s.handleStatus))

	accounts := api.Group("/accounts")
	accounts.GET("/", s.wrap(s.handleAccountsList))
	account := accounts.Group("/:account")
	account.GET("/outcomes", s.wrap(s.handleAccountOutcomes))
	account.GET("/transitions", s.wrap(s.handleAccountTransitions))
	account.GET("/equity", s.wrap(s.handleAccountEquity))
	account.GET("/stats", s.wrap(s.handleAccountStats))

	return r
}

type paramsKeyType string

const paramsKey paramsKeyType = "gofarm_path_params"

// wrap adapts net/http handlers to gin, injecting path params into request context.
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

// pathParam reads a path parameter previously injected by wrap.
func pathParam(r *http.Request, key string) string {
	if m, ok := r.Context().Value(paramsKey).(map[string]string); ok {
		return m[key]
	}
	return ""
}

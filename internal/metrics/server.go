package metrics

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

// Handler 返回 debug 路由，/debug/vars 暴露本包计数器，/debug/pprof 暴露剖析端点。
// 不挂到 DefaultServeMux 上，引擎可以决定完全不开这个口。
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

func newServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Start 阻塞式启动 debug 服务。计数器用于离线核对各账户的操作量，
// 端口只应监听 localhost 或内网。
func Start(listenAddr string) error {
	return newServer(listenAddr).ListenAndServe()
}

// StartAsync 非阻塞启动 debug 服务，ctx 取消时优雅关闭。
// 立即返回监听失败的错误，运行期错误不上报。
func StartAsync(ctx context.Context, listenAddr string) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	srv := newServer(listenAddr)
	go func() { _ = srv.Serve(ln) }()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(stopCtx)
	}()
	return srv, nil
}

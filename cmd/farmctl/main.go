// farmctl serves the read-only monitoring API on its own, without the
// farming engine in the same process. Point it at the journal db the
// engine writes and query account outcomes, transitions and equity curves.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/gofarm/internal/controlplane/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	listenAddr := flag.String("listen", envOr("GOFARM_CONTROL_LISTEN", ":8080"), "HTTP listen address")
	dbPath := flag.String("db", envOr("GOFARM_JOURNAL_DB", "data/journal.db"), "journal SQLite db file path")
	flag.Parse()

	srv, err := server.New(server.Config{DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              *listenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("farmctl: serving %s on %s", *dbPath, *listenAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Print("farmctl: stopped")
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

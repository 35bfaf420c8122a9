package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"example.com/mtg_board_viewer/internal/platform/config"
	"example.com/mtg_board_viewer/internal/platform/otel"
	"example.com/mtg_board_viewer/internal/ws"
)

type serverConfig struct {
	Port  int      `env:"PORT" envDefault:"8080"`
	Allow []string `env:"ORIGIN_ALLOWLIST" envSeparator:","`
}

func main() {
	var cfg serverConfig
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("server: %v", err)
	}
	port := strconv.Itoa(cfg.Port)
	allow := cfg.Allow
	if len(allow) == 0 {
		allow = []string{"http://localhost:" + port, "http://127.0.0.1:" + port}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, "mtg-relay")
	if err != nil {
		config.Exitf("server: otel: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("server: otel shutdown: %v", err)
		}
	}()

	hub := ws.NewHub(allow)

	mux := http.NewServeMux()
	hub.Routes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           cors(allow, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Printf("server listening on :%s", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func cors(allow []string, next http.Handler) http.Handler {
	allowSet := map[string]struct{}{}
	for _, a := range allow {
		if a != "" {
			allowSet[a] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if _, ok := allowSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"wirefish/config"
	"wirefish/internal/engine"
	"wirefish/internal/handlers"
	"wirefish/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (overrides WIREFISH_CONFIG)")
	listen := flag.String("listen", "", "HTTP listen address (overrides server.listen)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[main] WARN: failed to load .env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if lvl := os.Getenv("WIREFISH_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	closer, err := cfg.InitializeLogging()
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	opts := engine.Options{Opener: cfg.Opener()}
	routerOpts := handlers.RouterOptions{MetricsPath: cfg.Metrics.Path}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m := metrics.NewMetrics()
		if err := m.Register(reg); err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		opts.Metrics = m
		routerOpts.Gatherer = reg
	}
	eng := engine.New(opts)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: handlers.NewRouter(eng, routerOpts),
	}

	go func() {
		log.Printf("[main] wirefish listening on http://%s", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("[main] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] WARN: HTTP shutdown: %v", err)
	}
	eng.Shutdown(2 * time.Second)
}

// loadConfig reads the config named by the flag, then WIREFISH_CONFIG, then
// ./config.json. A missing ./config.json falls back to defaults.
func loadConfig(flagPath string) (*config.Config, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv("WIREFISH_CONFIG")
	}
	if path != "" {
		return config.LoadConfig(path)
	}
	cfg, err := config.LoadConfig("config.json")
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

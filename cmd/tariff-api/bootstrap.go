package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cargoline/tariffbox/config"
	classifyapi "github.com/cargoline/tariffbox/internal/api/classify_api"
	"github.com/cargoline/tariffbox/internal/cache"
	"github.com/cargoline/tariffbox/internal/cache/rediscache"
	"github.com/cargoline/tariffbox/internal/services/emissions"
	"github.com/cargoline/tariffbox/internal/services/resolver"
	"github.com/cargoline/tariffbox/internal/storage/pgtariff"
)

type tariffAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    tariffAPIOpts
	api     *classifyapi.ClassifyAPI
	closeDB func()
}

func mustBootstrapTariffAPI() *tariffAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("config parse failed: %v", err))
	}

	httpAddr := cfg.Tariff.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	st := mustOpenPostgresWithRetry(cfg.ConnString(), 60*time.Second)

	var taricCache cache.BytesCache
	if !cfg.Tariff.TaricCacheDisabled {
		taricCache = rediscache.New(cfg.RedisAddr())
	}
	cacheTTL := time.Duration(cfg.Tariff.TaricCacheTTLSeconds) * time.Second

	res := resolver.New(taricCache, cacheTTL)
	linker := emissions.New(emissions.NewPGStore(st), res)

	var limiter *rediscache.RateLimiter
	if cfg.Tariff.RateLimitPerMinute > 0 {
		limiter = rediscache.NewRateLimiter(cfg.RedisAddr())
	}
	api := classifyapi.New(linker, limiter, int64(cfg.Tariff.RateLimitPerMinute))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &tariffAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: tariffAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: swaggerPath,
		},
		api:     api,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtariff.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtariff.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *tariffAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *tariffAPIApp) Run() error {
	return runTariffAPI(a.ctx, a.opts, a.api)
}

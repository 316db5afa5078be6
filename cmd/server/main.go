package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GRM3355/3355-backend-sub001/internal/broker"
	"github.com/GRM3355/3355-backend-sub001/internal/config"
	"github.com/GRM3355/3355-backend-sub001/internal/db"
	"github.com/GRM3355/3355-backend-sub001/internal/directory"
	"github.com/GRM3355/3355-backend-sub001/internal/gateway"
	clog "github.com/GRM3355/3355-backend-sub001/internal/log"
	"github.com/GRM3355/3355-backend-sub001/internal/query"
	"github.com/GRM3355/3355-backend-sub001/internal/server"
	"github.com/GRM3355/3355-backend-sub001/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var br broker.Broker
	switch cfg.Broker {
	case config.BrokerRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		br = broker.NewRedis(rdb)
	default:
		// 单实例部署用进程内总线，省掉对 Redis 的依赖。
		br = broker.NewMemBus().NewAdapter()
	}
	defer br.Close()

	st := store.New(gdb)
	dir := directory.New()
	gw := gateway.New(st, dir, br)
	facade := query.New(st, dir)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, facade, gw),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("broker", cfg.Broker).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

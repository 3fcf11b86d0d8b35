package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duespark/dunning/internal/collection"
	"github.com/duespark/dunning/internal/collector"
	"github.com/duespark/dunning/internal/config"
	"github.com/duespark/dunning/internal/db"
	"github.com/duespark/dunning/internal/distlock"
	httpSrv "github.com/duespark/dunning/internal/http"
	"github.com/duespark/dunning/internal/logger"
	"github.com/duespark/dunning/internal/metrics"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/duespark/dunning/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server (trigger endpoint, webhooks, tenant API)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level)
		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
			DSN:             cfg.ClickHouse.DSN,
			MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
			PingTimeout:     cfg.ClickHouse.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer func() {
			_ = chDB.Close()
		}()

		collectionsRepo := repository.NewCollectionsRepository(mysqlDB)
		tenantsRepo := repository.NewTenantsRepository(mysqlDB)
		sentRepo := repository.NewSentMessagesRepository(mysqlDB)
		archiveRepo := repository.NewCHArchiveRepository(chDB)

		limits := ratelimit.Limits{
			MaxActiveCollectionsPerTenant: cfg.Limits.MaxActiveCollectionsPerTenant,
			MaxMessagesPerDayPerTenant:    cfg.Limits.MaxMessagesPerDayPerTenant,
			MinHoursBetweenMessages:       cfg.Limits.MinHoursBetweenMessages,
		}

		gw, err := buildGateway(cfg)
		if err != nil {
			return err
		}

		machine := collection.NewMachine(collectionsRepo, gw, collection.MachineOpts{
			Limits:      limits,
			Topic:       cfg.Kafka.Topic,
			SendTimeout: cfg.Worker.SendTimeout,
			BackoffBase: cfg.Worker.BackoffBase,
			BackoffMax:  cfg.Worker.BackoffMax,
		}, logger.Log)

		lock := distlock.New(redisClient, cfg.Worker.LockKey, cfg.Worker.LockTTL)
		coll := collector.New(lock, collectionsRepo, machine, limits, cfg.Worker.BatchSize, logger.Log)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Tenants:      tenantsRepo,
			SentMessages: sentRepo,
			Archive:      archiveRepo,
			Machine:      machine,
			Collector:    coll,
			Redis:        redisClient,
			Log:          logger.Log,
		})

		errCh := make(chan error, 1)
		go func() {
			log.Printf("starting http on %s", cfg.HTTP.Addr)
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Printf("signal received: %s, shutting down...", sig)
		case err := <-errCh:
			if err != nil {
				log.Printf("http server exited: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/duespark/dunning/internal/collection"
	"github.com/duespark/dunning/internal/collector"
	"github.com/duespark/dunning/internal/config"
	"github.com/duespark/dunning/internal/db"
	"github.com/duespark/dunning/internal/distlock"
	"github.com/duespark/dunning/internal/gateway"
	"github.com/duespark/dunning/internal/logger"
	"github.com/duespark/dunning/internal/metrics"
	"github.com/duespark/dunning/internal/ratelimit"
	"github.com/duespark/dunning/internal/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var collectorOnce bool

var collectorCmd = &cobra.Command{
	Use:   "collector",
	Short: "Run the collection worker (periodic batch advancement)",
	RunE:  runCollector,
}

func init() {
	collectorCmd.Flags().BoolVar(&collectorOnce, "once", false, "run a single batch and exit")
}

func runCollector(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(cfg.Log.Level)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

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

	collectionsRepo := repository.NewCollectionsRepository(dbx)

	// providers -> gateway
	var provs []gateway.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		if pc.BaseURL == "" {
			provs = append(provs, gateway.NewSimulated(0.98, 0))
			continue
		}
		provs = append(provs, gateway.NewHTTPProvider(
			pc.Name, pc.BaseURL, pc.EmailPath, pc.WhatsAppPath,
			pc.TimeoutMs, pc.Breaker.FailThreshold, pc.Breaker.OpenForMs,
		))
	}
	if len(provs) == 0 {
		return fmt.Errorf("no providers enabled in config")
	}
	gw := gateway.NewDispatcher(provs, 2)

	limits := ratelimit.Limits{
		MaxActiveCollectionsPerTenant: cfg.Limits.MaxActiveCollectionsPerTenant,
		MaxMessagesPerDayPerTenant:    cfg.Limits.MaxMessagesPerDayPerTenant,
		MinHoursBetweenMessages:       cfg.Limits.MinHoursBetweenMessages,
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if collectorOnce {
		res, err := coll.ProcessCollections(ctx)
		if err != nil {
			return err
		}
		log.Printf(">> run finished processed=%d skipped=%d errors=%d lockHeld=%v",
			res.Processed, res.Skipped, res.Errors, res.LockHeld)
		return nil
	}

	log.Printf(">> collector started interval=%s batchSize=%d lockKey=%q",
		cfg.Worker.Interval, cfg.Worker.BatchSize, cfg.Worker.LockKey)

	err = coll.Run(ctx, cfg.Worker.Interval)
	if err == context.Canceled {
		return nil
	}
	return err
}

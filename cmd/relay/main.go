package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-mint-relay/internal/api"
	"github.com/0gfoundation/0g-mint-relay/internal/auth"
	"github.com/0gfoundation/0g-mint-relay/internal/cache"
	"github.com/0gfoundation/0g-mint-relay/internal/chain"
	"github.com/0gfoundation/0g-mint-relay/internal/config"
	"github.com/0gfoundation/0g-mint-relay/internal/contracts"
	"github.com/0gfoundation/0g-mint-relay/internal/health"
	"github.com/0gfoundation/0g-mint-relay/internal/metrics"
	"github.com/0gfoundation/0g-mint-relay/internal/minting"
	"github.com/0gfoundation/0g-mint-relay/internal/recorder"
	"github.com/0gfoundation/0g-mint-relay/internal/records"
	"github.com/0gfoundation/0g-mint-relay/internal/relay"
	"github.com/0gfoundation/0g-mint-relay/internal/relayer"
	"github.com/0gfoundation/0g-mint-relay/internal/subscription"
	"github.com/0gfoundation/0g-mint-relay/internal/voucher"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chains and contract resolution ────────────────────────────────────
	resolver, err := contracts.NewResolver(cfg.Chains)
	if err != nil {
		log.Fatal("contract config invalid", zap.Error(err))
	}
	chains, err := chain.DialAll(ctx, cfg.Chains, log)
	if err != nil {
		log.Fatal("chain dial failed", zap.Error(err))
	}
	defer chains.Close()
	backends := minting.NewTable()

	// ── Record store (optional) ───────────────────────────────────────────
	var (
		counter  subscription.Counter
		recQueue relay.Recorder
	)
	if cfg.Postgres.DSN != "" {
		pool, err := records.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()
		if err := records.Migrate(ctx, pool); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
		store := records.NewStore(pool)
		counter = store
		recQueue = recorder.NewQueue(rdb)

		consumer := recorder.NewConsumer(rdb, store, log)
		if _, err := consumer.Redrive(ctx); err != nil {
			log.Warn("recorder redrive failed", zap.Error(err))
		}
		go consumer.Run(ctx)
	} else {
		log.Warn("DATABASE_URL not set, minted records are not persisted")
	}

	// ── Subscription oracle ───────────────────────────────────────────────
	oracle := subscription.NewOracle(resolver, backends, chains, counter,
		cache.NewRedis(rdb, "mint-relay:"),
		subscription.Options{
			CacheTTL:   cfg.Subscription.CacheTTL(),
			StaleTTL:   cfg.Subscription.StaleTTL(),
			PlanPeriod: cfg.Subscription.PlanPeriod(),
			Policy: subscription.Policy{
				LenientFreeBootstrap: cfg.Subscription.LenientFreeBootstrap,
				FreeLimit:            cfg.Subscription.FreeLimit,
			},
		}, log)

	// ── Relayer account (optional) ────────────────────────────────────────
	var submitter relay.Relayer
	var acct *relayer.Account
	if cfg.RelayerEnabled() {
		key, err := relayer.LoadKey(cfg.Relayer.PrivateKey)
		if err != nil {
			log.Fatal("relayer key invalid", zap.Error(err))
		}
		minBalance, ok := new(big.Int).SetString(cfg.Relayer.MinBalanceWei, 10)
		if !ok {
			log.Fatal("invalid RELAYER_MIN_BALANCE_WEI")
		}
		acct = relayer.NewAccount(key, chains, relayer.Options{
			MinBalance:    minBalance,
			GasMultiplier: cfg.Relayer.GasMultiplier,
			QueueSize:     cfg.Relayer.QueueSize,
		}, log)
		acct.Start(ctx)
		defer acct.Stop()
		submitter = acct
		log.Info("relayer enabled", zap.String("address", acct.Address().Hex()))

		chainIDs := make([]int64, 0, len(cfg.Chains))
		for _, ch := range cfg.Chains {
			chainIDs = append(chainIDs, ch.ID)
		}
		go monitorBalances(ctx, acct, chainIDs, time.Minute, log)
	} else {
		log.Warn("RELAYER_PRIVATE_KEY not set, gasless submission disabled")
	}

	svc := relay.NewService(relay.Deps{
		Resolver: resolver,
		Backends: backends,
		Chains:   chains,
		Relayer:  submitter,
		Quota:    oracle,
		Recorder: recQueue,
		Ledger:   relay.NewRedisLedger(rdb),
		Log:      log,
	}, relay.Options{ConfirmTimeout: cfg.Relayer.ConfirmTimeout()})

	builder := voucher.NewBuilder(resolver, minting.NewNonces(chains), cfg.Voucher.TTL())

	// ── gRPC health ───────────────────────────────────────────────────────
	hs := health.New(svc.Configured(), map[string]health.Check{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}, log)
	go hs.Run(ctx, 15*time.Second)
	go func() {
		if err := hs.Serve(cfg.Server.GRPCPort); err != nil {
			log.Error("gRPC health server error", zap.Error(err))
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestID(), api.CORS(cfg.Server.CORSOrigins), api.Observe(log))
	api.NewHandler(svc, oracle, builder, auth.NewVerifier(rdb, auth.DefaultWindow), log).Register(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	// Drain HTTP first so in-flight relays can still reach the writers.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	hs.Stop()
	cancel()
	log.Info("shutdown complete")
}

// balanceReader is implemented by *relayer.Account.
type balanceReader interface {
	Address() common.Address
	MinBalance() *big.Int
	Balance(ctx context.Context, chainID int64) (*big.Int, error)
}

// monitorBalances exports the relayer balance per chain and warns once a
// chain drops to the submission threshold.
func monitorBalances(ctx context.Context, acct balanceReader, chainIDs []int64, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for _, id := range chainIDs {
			bal, err := acct.Balance(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("monitorBalances: read failed", zap.Int64("chain_id", id), zap.Error(err))
				continue
			}
			f, _ := new(big.Float).SetInt(bal).Float64()
			metrics.RelayerBalance.WithLabelValues(strconv.FormatInt(id, 10)).Set(f)
			if bal.Cmp(acct.MinBalance()) <= 0 {
				log.Warn("relayer balance at or below threshold",
					zap.Int64("chain_id", id),
					zap.String("relayer", acct.Address().Hex()),
					zap.String("balance_wei", bal.String()),
					zap.String("min_wei", acct.MinBalance().String()))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

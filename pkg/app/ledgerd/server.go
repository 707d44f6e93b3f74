// Package ledgerd implements app.Runner for the wrapped asset ledger process.
package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/chainsafe/liquid-stake/pkg/api"
	"github.com/chainsafe/liquid-stake/pkg/app"
	apphttp "github.com/chainsafe/liquid-stake/pkg/app/http"
	"github.com/chainsafe/liquid-stake/pkg/auth"
	"github.com/chainsafe/liquid-stake/pkg/bus"
	"github.com/chainsafe/liquid-stake/pkg/bus/kafka"
	"github.com/chainsafe/liquid-stake/pkg/config"
	"github.com/chainsafe/liquid-stake/pkg/dispatch"
	"github.com/chainsafe/liquid-stake/pkg/external"
	"github.com/chainsafe/liquid-stake/pkg/external/evm"
	"github.com/chainsafe/liquid-stake/pkg/external/sim"
	"github.com/chainsafe/liquid-stake/pkg/ledger"
	"github.com/chainsafe/liquid-stake/pkg/ledgerstore"
	"github.com/chainsafe/liquid-stake/pkg/lock"
	"github.com/chainsafe/liquid-stake/pkg/pgutil"
	"github.com/chainsafe/liquid-stake/pkg/pipeline"
	"github.com/chainsafe/liquid-stake/pkg/reconciler"
	"github.com/chainsafe/liquid-stake/pkg/router"
)

const (
	defaultHTTPMiddlewareTimeout = 60 * time.Second

	receiptSubscriber = "kafka/receipts"
)

// Store is everything the process keeps in the ledger database.
type Store interface {
	ledger.Store
	pipeline.SagaStore
}

// Server holds configuration for the ledger process.
type Server struct {
	cfg *config.Config
}

var _ app.Runner = (*Server)(nil)

// NewServer initializes a new ledger Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run wires the ledger, the conversion pipeline and the router, then serves
// the HTTP API until an OS shutdown signal is received or a component fails.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	set, err := parseSettings(cfg)
	if err != nil {
		return err
	}

	logger.Info("Starting liquid stake ledger",
		zap.String("self", set.self.String()),
		zap.String("wrapped_symbol", set.wrappedSym.String()),
		zap.String("store", cfg.Database.Driver),
		zap.String("staking_backend", cfg.Staking.Backend))

	store, closeStore, err := s.openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	b := bus.New(logger.Named("bus"))

	execOpts := []dispatch.Option{dispatch.WithLogger(logger.Named("dispatch"))}
	if cfg.Redis.Enabled {
		rdb, err := lock.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		execOpts = append(execOpts, dispatch.WithLocker(lock.NewMutex(rdb, cfg.Redis.LockKey, cfg.Redis.LockTTL)))
		logger.Info("Distributed unit lock enabled", zap.String("key", cfg.Redis.LockKey))
	}
	exec := dispatch.NewExecutor(store, execOpts...)

	l := ledger.New(set.self, store,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithReceiptSink(bus.NewReceiptSink(set.self, b, logger)),
		ledger.WithMaxSupplyCheck(cfg.Ledger.EnforceMaxSupply),
		ledger.WithTransferMemoCheck(cfg.Ledger.EnforceTransferMemo),
	)

	if !cfg.Ledger.EnforceMaxSupply || !cfg.Ledger.EnforceTransferMemo {
		logger.Warn("Ledger invariant checks disabled",
			zap.Bool("enforce_max_supply", cfg.Ledger.EnforceMaxSupply),
			zap.Bool("enforce_transfer_memo", cfg.Ledger.EnforceTransferMemo))
	}

	if err := bootstrap(ctx, set, store, l, logger); err != nil {
		return err
	}

	staking, base, closeStaking, err := s.openStaking(set, b, logger)
	if err != nil {
		return err
	}
	defer closeStaking()

	p := pipeline.New(
		pipeline.Config{Self: set.self, BaseSymbol: set.baseSym, WrappedSymbol: set.wrappedSym},
		l, staking, base, store,
		pipeline.WithLogger(logger.Named("pipeline")),
	)
	rt := router.New(router.Config{Self: set.self, BaseOrigin: set.baseOrigin}, l, p, exec, logger.Named("router"))
	if err := rt.Subscribe(b); err != nil {
		return fmt.Errorf("subscribe router: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		closeKafka, err := s.startKafka(gctx, g, b, logger)
		if err != nil {
			return err
		}
		defer closeKafka()
	}

	sweeper := pipeline.NewSweeper(p, exec, cfg.Pipeline.SweepInterval, cfg.Pipeline.StuckAfter, logger.Named("sweeper"))
	g.Go(func() error { return sweeper.Run(gctx) })

	rec := reconciler.New(store, logger.Named("reconciler"))
	s.runInitialReconcile(ctx, rec, logger)
	rec.StartPeriodicReconciliation(cfg.Reconciliation.Interval, reconcileTimeout(&cfg.Reconciliation))
	defer rec.Stop()

	if cfg.GRPC.Enabled {
		if err := s.startHealth(gctx, g, logger); err != nil {
			return err
		}
	}

	jwt := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if !jwt.IsConfigured() {
		logger.Warn("JWT secret not set, authenticated endpoints reject every request")
	}
	service := api.NewLog(
		api.NewService(api.Config{Self: set.self, BaseOrigin: set.baseOrigin}, rt, b, l, store),
		logger,
	)
	handler := s.newRouter(service, jwt, logger)

	g.Go(func() error {
		return apphttp.ServeAndWait(gctx, handler, logger, &cfg.Server, cfg.Shutdown.Timeout)
	})

	return g.Wait()
}

func (s *Server) openStore() (Store, func(), error) {
	if s.cfg.Database.Driver == "memory" {
		return ledgerstore.NewMemoryStore(), func() {}, nil
	}
	db, err := pgutil.ConnectDB(&s.cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect ledger db: %w", err)
	}
	return ledgerstore.NewStore(db), func() { _ = db.Close() }, nil
}

func (s *Server) openStaking(set *settings, b *bus.Bus, logger *zap.Logger) (external.Staking, external.BaseLedger, func(), error) {
	if s.cfg.Staking.Backend == "evm" {
		c, ec, err := evm.Dial(&s.cfg.Ethereum, logger.Named("evm"))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("initialize ethereum client: %w", err)
		}
		st := evm.NewStaking(c, evm.Config{
			Account:       set.staking,
			Self:          set.self,
			BaseSymbol:    set.baseSym,
			WrappedSymbol: set.wrappedSym,
			Decimals:      s.cfg.Ethereum.TokenDecimals,
		})
		return st, st, ec.Close, nil
	}

	base := sim.NewBaseLedger(set.baseOrigin, set.baseSym, b)
	st := sim.NewStaking(set.staking, base, set.baseSym, s.cfg.Staking.FeeBps)
	if s.cfg.Staking.SeedUnits > 0 {
		st.Seed(set.self, s.cfg.Staking.SeedUnits)
	}
	logger.Warn("Using the simulated staking service", zap.Int64("fee_bps", s.cfg.Staking.FeeBps))
	return st, base, func() {}, nil
}

// startKafka forwards deposit records to the bus and wrapped receipts to Kafka.
func (s *Server) startKafka(ctx context.Context, g *errgroup.Group, b *bus.Bus, logger *zap.Logger) (func(), error) {
	cfg := s.cfg.Kafka

	if err := kafka.EnsureTopics(ctx, cfg.Brokers, cfg.Partitions, cfg.Replication, cfg.DepositTopic, cfg.ReceiptTopic); err != nil {
		return nil, err
	}

	producer, err := kafka.NewProducer(cfg.Brokers, cfg.ReceiptTopic)
	if err != nil {
		return nil, err
	}
	if err := b.Subscribe(bus.TopicWrappedReceipt, receiptSubscriber, producer.Publish); err != nil {
		producer.Close()
		return nil, fmt.Errorf("subscribe receipt producer: %w", err)
	}

	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID,
		map[string]string{cfg.DepositTopic: bus.TopicBaseTransfer}, b,
		kafka.WithPermanentErrors(isPermanent),
		kafka.WithConsumerLogger(logger.Named("kafka")),
	)
	if err != nil {
		producer.Close()
		return nil, err
	}
	g.Go(func() error { return consumer.Run(ctx) })

	logger.Info("Kafka transport enabled",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("deposit_topic", cfg.DepositTopic),
		zap.String("receipt_topic", cfg.ReceiptTopic))

	return func() {
		consumer.Close()
		b.Unsubscribe(bus.TopicWrappedReceipt, receiptSubscriber)
		producer.Close()
	}, nil
}

// isPermanent reports whether a failed deposit record would fail again on retry.
func isPermanent(err error) bool {
	for _, target := range []error{
		router.ErrMalformedCall,
		router.ErrUnknownAction,
		ledger.ErrInvalidSymbol,
		ledger.ErrInvalidQuantity,
		ledger.ErrUnauthorized,
		ledger.ErrMemoTooLong,
		ledger.ErrMaxSupplyExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return pipeline.IsRejection(err)
}

func (s *Server) startHealth(ctx context.Context, g *errgroup.Group, logger *zap.Logger) error {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	g.Go(func() error {
		logger.Info("gRPC health server listening", zap.String("address", lis.Addr().String()))
		return srv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
		return nil
	})
	return nil
}

func (s *Server) runInitialReconcile(ctx context.Context, rec *reconciler.Reconciler, logger *zap.Logger) {
	if s.cfg.Reconciliation.InitialTimeout <= 0 {
		return
	}

	logger.Info("Running initial supply reconciliation",
		zap.Duration("timeout", s.cfg.Reconciliation.InitialTimeout))

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.Reconciliation.InitialTimeout)
	defer cancel()

	if _, err := rec.ReconcileAll(startupCtx); err != nil {
		logger.Warn("Initial reconciliation failed (will retry periodically)", zap.Error(err))
	}
}

func reconcileTimeout(cfg *config.ReconciliationConfig) time.Duration {
	if cfg.InitialTimeout > 0 {
		return cfg.InitialTimeout
	}
	return cfg.Interval
}

func (s *Server) newRouter(service api.Service, jwt *auth.JWTValidator, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if s.cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	api.RegisterRoutes(r, service, jwt.Middleware, logger)
	return r
}

// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"

	"mikrobill-service/internal/config"
	"mikrobill-service/internal/db"
	payoutHandler "mikrobill-service/internal/handlers/payout"
	planHandler "mikrobill-service/internal/handlers/plan"
	reconciliationHandler "mikrobill-service/internal/handlers/reconciliation"
	transactionHandler "mikrobill-service/internal/handlers/transaction"
	"mikrobill-service/internal/middleware"
	"mikrobill-service/internal/pkg/lock"
	"mikrobill-service/internal/repository/postgres"
	"mikrobill-service/internal/service/matching"
	"mikrobill-service/internal/service/normalizer"
	payoutUsecase "mikrobill-service/internal/service/payout"
	reconciliationUsecase "mikrobill-service/internal/service/reconciliation"
	"mikrobill-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	cancelScheduler context.CancelFunc
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB()
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	if err := db.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	txRepo := postgres.NewTransactionRepository(pool)
	commissionRepo := postgres.NewCommissionRepository(pool)
	payoutRepo := postgres.NewPayoutRepository(pool)
	planRepo := postgres.NewPlanRepository(pool)

	// ----- Services -----
	normalizerSvc := normalizer.NewService(logger)
	engine := matching.NewEngine(matching.Config{
		MaxSkew:              s.cfg.MatchMaxSkew,
		AmountToleranceCents: s.cfg.AmountToleranceCents,
	})
	locker := lock.NewMerchantLocker(redisClient, 0)

	reconciliationService := reconciliationUsecase.NewService(
		txRepo,
		commissionRepo,
		planRepo,
		payoutRepo,
		dbWrapper,
		normalizerSvc,
		engine,
		locker,
		logger,
		reconciliationUsecase.Config{
			Window:       s.cfg.MatchWindow,
			AutoApprove:  s.cfg.AutoApprove,
			StaleRetries: 3,
		},
	)
	payoutService := payoutUsecase.NewService(payoutRepo, planRepo, dbWrapper, logger)

	// ----- Scheduler -----
	scheduler := worker.NewScheduler(
		reconciliationService,
		payoutService,
		planRepo,
		logger,
		worker.SchedulerConfig{
			MatchInterval:       s.cfg.MatchInterval,
			PayoutCheckInterval: s.cfg.PayoutCheckInterval,
			Workers:             s.cfg.Workers,
		},
	)
	schedulerCtx, cancel := context.WithCancel(context.Background())
	s.cancelScheduler = cancel
	go scheduler.Run(schedulerCtx)

	// ----- Handlers -----
	transactionHandlerInst := transactionHandler.NewTransactionHandler(reconciliationService)
	reconciliationHandlerInst := reconciliationHandler.NewReconciliationHandler(reconciliationService)
	payoutHandlerInst := payoutHandler.NewPayoutHandler(payoutService)
	planHandlerInst := planHandler.NewPlanHandler(planRepo)

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	handlers := &Handlers{
		TransactionHandler:    transactionHandlerInst,
		ReconciliationHandler: reconciliationHandlerInst,
		PayoutHandler:         payoutHandlerInst,
		PlanHandler:           planHandlerInst,
	}
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}

// Stop halts background work; in-flight scheduler tasks are drained.
func (s *Server) Stop() {
	if s.cancelScheduler != nil {
		s.cancelScheduler()
	}
}

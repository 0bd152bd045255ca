package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-platform/internal/audit"
	"agent-platform/internal/auth"
	"agent-platform/internal/billing"
	"agent-platform/internal/bus"
	"agent-platform/internal/config"
	"agent-platform/internal/convo"
	"agent-platform/internal/httpapi"
	"agent-platform/internal/intent"
	"agent-platform/internal/kb"
	"agent-platform/internal/notify"
	"agent-platform/internal/orchestrator"
	"agent-platform/internal/rates"
	"agent-platform/internal/reporting"
	"agent-platform/internal/schedule"
	"agent-platform/internal/transcribe"
	"agent-platform/internal/wallet"
	"agent-platform/pkg/logger"
	"agent-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Billing core: rates -> wallet -> sync bus handlers.
	rateRepo := rates.NewCachedRepo(rates.NewPostgresSource(db), rdb, cfg.Rates.CacheTTL)
	walletSvc := wallet.NewService(wallet.NewPostgresStore(db), rates.NewService(rateRepo))

	b := bus.New(log)
	defer b.Close()
	billing.Register(b, walletSvc, log)

	// Notifications: AMQP when configured, in-memory otherwise.
	var sink notify.Sink
	if cfg.AMQP.URL != "" {
		amqpSink, err := notify.NewAMQPSink(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			log.Error("amqp init failed", "err", err)
			os.Exit(1)
		}
		defer amqpSink.Close()
		sink = amqpSink
	} else {
		log.Warn("amqp url not set; notifications stay in-process")
		sink = notify.NewMemorySink()
	}
	notify.Register(b, sink, log)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	convRepo := convo.NewPostgresRepo(db)
	flow := schedule.NewService(
		schedule.NoopCalendar{},
		schedule.NewPostgresAppointmentRepo(db),
		schedule.NewPostgresTicketRepo(db),
		b, log,
	)
	knowledge := kb.NewMetered(kb.NewPostgresStore(db), b, log)
	interp := intent.NewInterpreter(intent.NewHTTPProvider(cfg.LLM))

	var stt *transcribe.Service
	if cfg.STT.BaseURL != "" {
		stt = transcribe.NewService(transcribe.NewHTTPProvider(cfg.STT), b, log, cfg.STT.BillPerAttempt)
	}

	orch := orchestrator.New(convRepo, interp, flow, knowledge, b, auditSvc, rdb, log, orchestrator.Config{
		MaxAttempts:       cfg.LLM.MaxAttempts,
		TurnTimeout:       cfg.Orchestrator.TurnTimeout,
		MaxTurnsPerTenant: cfg.Orchestrator.MaxTurnsPerTenant,
	})

	reports := reporting.NewService(reporting.NewPostgresRepo(db))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps{
		auth: authManager,
		handlers: httpapi.Handlers{
			Auth:       authManager,
			Wallet:     walletSvc,
			Orch:       orch,
			Convs:      convRepo,
			Transcribe: stt,
			Schedule:   flow,
		},
		admin: httpapi.Admin{
			Wallet:  walletSvc,
			Reports: reports,
			Audit:   auditSvc,
		},
		wallet: walletSvc,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

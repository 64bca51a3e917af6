package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/fitbounty/fitbounty/internal/bot"
	"github.com/fitbounty/fitbounty/internal/challenge/handler"
	"github.com/fitbounty/fitbounty/internal/challenge/repository"
	"github.com/fitbounty/fitbounty/internal/challenge/service"
	"github.com/fitbounty/fitbounty/internal/command"
	"github.com/fitbounty/fitbounty/internal/dedupe"
	"github.com/fitbounty/fitbounty/internal/identity"
	"github.com/fitbounty/fitbounty/internal/ledger"
	"github.com/fitbounty/fitbounty/internal/payment"
	"github.com/fitbounty/fitbounty/internal/transport"
)

const healthService = "fitbounty.Bot"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("fitbounty exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("fitbounty")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage + ledger ─────────────────────────────────────────────────────
	var (
		store  repository.Store
		audit  ledger.Ledger
		dbPool *pgxpool.Pool
	)
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		db, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()
		if err := db.Ping(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		pgLedger := ledger.NewPostgres(db, logger)
		if err := pgLedger.EnsureGenesis(ctx); err != nil {
			return fmt.Errorf("ledger genesis: %w", err)
		}
		store, audit, dbPool = repository.NewPostgresStore(db), pgLedger, db
	} else {
		logger.Warn("database.url not set, challenges are kept in memory only")
		store, audit = repository.NewMemoryStore(), ledger.NewMemory()
	}

	if err := audit.Verify(ctx); err != nil {
		logger.Warn("audit ledger integrity check FAILED", zap.Error(err))
	} else {
		n, _ := audit.Len(ctx)
		root, _ := audit.Root(ctx)
		logger.Info("audit ledger verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Payments ─────────────────────────────────────────────────────────────
	var payments payment.Client
	switch backend := viper.GetString("payment.backend"); backend {
	case "lnbits":
		url := viper.GetString("payment.lnbits_url")
		if url == "" {
			return errors.New("payment.lnbits_url is required for the lnbits backend")
		}
		payments = payment.NewLNbitsClient(url, viper.GetString("payment.lnbits_api_key"), viper.GetFloat64("payment.rate_limit_rps"))
		logger.Info("payment backend: lnbits", zap.String("url", url))
	case "memory":
		payments = payment.NewMemoryClient()
		logger.Warn("payment backend: memory (invoices are never settled; use admin activate)")
	default:
		return fmt.Errorf("unknown payment.backend %q", backend)
	}

	// ── Duplicate suppression ────────────────────────────────────────────────
	dedupeTTL := viper.GetDuration("dedupe.ttl")
	var seen dedupe.Store
	if addr := viper.GetString("redis.addr"); addr != "" {
		rs := dedupe.NewRedisStore(addr, viper.GetString("redis.password"), viper.GetInt("redis.db"), dedupeTTL)
		if err := rs.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer rs.Close() //nolint:errcheck
		seen = rs
		logger.Info("mention dedupe: redis", zap.String("addr", addr))
	} else {
		seen = dedupe.NewMemoryStore(dedupeTTL)
		logger.Info("mention dedupe: in-process")
	}

	// ── Reply transport ──────────────────────────────────────────────────────
	var publisher transport.Publisher
	bridgeSecret := viper.GetString("transport.bridge_secret")
	if bridgeURL := viper.GetString("transport.bridge_url"); bridgeURL != "" {
		bp := transport.NewBridgePublisher(bridgeURL, bridgeSecret, logger)
		bp.SetMetricsRecorder(handler.RecordBridgeAttempt)
		publisher = bp
		logger.Info("reply transport: relay bridge", zap.String("url", bridgeURL))
	} else {
		publisher = transport.NewLogPublisher(logger)
		logger.Info("reply transport: log only (set transport.bridge_url to publish)")
	}

	// ── Command resolution ───────────────────────────────────────────────────
	var vocab *command.Vocabulary
	if path := viper.GetString("command.vocabulary_file"); path != "" {
		v, err := command.LoadVocabulary(path)
		if err != nil {
			return fmt.Errorf("load vocabulary: %w", err)
		}
		vocab = v
		logger.Info("exercise vocabulary loaded", zap.String("path", path))
	}
	botKey := viper.GetString("bot.pubkey")
	resolver := command.NewResolver(command.Config{
		BotHandle:    viper.GetString("bot.handle"),
		BotPublicKey: botKey,
		Limits: command.Limits{
			MinDuration:     viper.GetInt("limits.min_duration"),
			MaxDuration:     viper.GetInt("limits.max_duration"),
			DefaultDuration: viper.GetInt("limits.default_duration"),
			MinPenalty:      viper.GetInt64("limits.min_penalty"),
			MaxPenalty:      viper.GetInt64("limits.max_penalty"),
			MinBounty:       viper.GetInt64("limits.min_bounty"),
		},
		Vocabulary: vocab,
	})

	// ── Wire up layers ───────────────────────────────────────────────────────
	mgr := service.NewManager(store, payments, audit, service.Config{
		InvoiceExpiry: viper.GetDuration("escrow.invoice_expiry"),
		PledgeWindow:  viper.GetDuration("escrow.pledge_window"),
	}, logger)

	monitor := service.NewMonitor(payments, mgr, service.MonitorConfig{
		InitialDelay: viper.GetDuration("escrow.initial_delay"),
		PollInterval: viper.GetDuration("escrow.poll_interval"),
		PollTimeout:  viper.GetDuration("escrow.poll_timeout"),
	}, logger)
	monitor.SetPollRecord(handler.RecordEscrowPoll)
	mgr.SetMonitor(monitor)

	if n, err := mgr.Restore(ctx); err != nil {
		logger.Warn("restore escrow watches failed", zap.Error(err))
	} else {
		logger.Info("escrow watches restored", zap.Int("count", n))
	}

	exec := service.NewExecutor(mgr, resolver.Handle(), logger)
	exec.SetCommandRecord(handler.RecordCommand)

	b := bot.New(resolver, exec, seen, publisher, logger)
	if botKey != "" {
		b.SetSelf(botKey)
	}
	b.SetReplyRecord(handler.RecordReply)

	evaluator := service.NewEvaluator(mgr, service.EvaluatorConfig{
		Interval:   viper.GetDuration("evaluation.interval"),
		AutoFinish: viper.GetBool("evaluation.auto"),
	}, logger)
	evaluator.SetSweepRecord(handler.RecordSweep)
	go evaluator.Start(ctx)

	// ── Admin tokens ─────────────────────────────────────────────────────────
	signingKey := []byte(viper.GetString("admin.signing_key"))
	if len(signingKey) == 0 {
		signingKey = make([]byte, 32)
		if _, err := rand.Read(signingKey); err != nil {
			return fmt.Errorf("generate admin signing key: %w", err)
		}
		logger.Warn("admin.signing_key not set, admin tokens are valid until restart only")
	}
	httpPort := viper.GetInt("server.port")
	tokens := identity.NewAdminTokenIssuer(signingKey, viper.GetString("admin.secret_hash"),
		fmt.Sprintf("http://localhost:%d", httpPort), viper.GetDuration("admin.token_ttl"))
	if viper.GetString("admin.secret_hash") == "" {
		logger.Info("admin login disabled (set admin.secret_hash; see `fitctl hash-secret`)")
	}

	mentionHandler := handler.NewMentionHandler(b, resolver, bridgeSecret, logger)
	if perMin := viper.GetFloat64("bot.sender_rate_per_minute"); perMin > 0 {
		senders := handler.NewLimiter(perMin/60, viper.GetInt("bot.sender_burst"))
		go senders.Run(ctx)
		mentionHandler.SetSenderLimiter(senders)
	}
	challengeHandler := handler.NewChallengeHandler(mgr, tokens, logger)
	authHandler := handler.NewAuthHandler(tokens, logger)
	ledgerHandler := handler.NewLedgerHandler(audit, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", transport.SignatureHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	router.Use(func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	if rps := viper.GetFloat64("server.rate_limit_rps"); rps > 0 {
		router.Use(handler.RateLimiter(ctx, rps, int(rps*2)))
	}
	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if dbPool != nil {
			if err := dbPool.Ping(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "escrow_watches": monitor.Active()})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	mentionHandler.Register(v1)
	challengeHandler.Register(v1)
	authHandler.Register(v1)
	ledgerHandler.Register(v1)

	// ── gRPC health ──────────────────────────────────────────────────────────
	grpcPort := viper.GetInt("server.grpc_port")
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
	if err != nil {
		return fmt.Errorf("gRPC listen on :%d: %w", grpcPort, err)
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	healthSvc := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSvc)
	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	go func() {
		logger.Info("gRPC health listening", zap.Int("port", grpcPort))
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("gRPC serve error", zap.Error(err))
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("fitbounty HTTP listening", zap.Int("port", httpPort), zap.String("handle", resolver.Handle()))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down fitbounty...")

	healthSvc.SetServingStatus(healthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	cancel()
	monitor.Stop()

	logger.Info("fitbounty stopped")
	return nil
}

func setDefaults() {
	limits := command.DefaultLimits()
	defaults := service.DefaultConfig()

	viper.SetDefault("bot.handle", command.DefaultHandle)
	viper.SetDefault("bot.pubkey", "")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.grpc_port", 9090)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("bot.sender_rate_per_minute", 6)
	viper.SetDefault("bot.sender_burst", 3)
	viper.SetDefault("database.url", "")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("dedupe.ttl", "24h")
	viper.SetDefault("payment.backend", "memory")
	viper.SetDefault("payment.lnbits_url", "")
	viper.SetDefault("payment.lnbits_api_key", "")
	viper.SetDefault("payment.rate_limit_rps", 5)
	viper.SetDefault("escrow.initial_delay", "10s")
	viper.SetDefault("escrow.poll_interval", "30s")
	viper.SetDefault("escrow.poll_timeout", "15s")
	viper.SetDefault("escrow.invoice_expiry", defaults.InvoiceExpiry.String())
	viper.SetDefault("escrow.pledge_window", defaults.PledgeWindow.String())
	viper.SetDefault("limits.min_duration", limits.MinDuration)
	viper.SetDefault("limits.max_duration", limits.MaxDuration)
	viper.SetDefault("limits.default_duration", limits.DefaultDuration)
	viper.SetDefault("limits.min_penalty", limits.MinPenalty)
	viper.SetDefault("limits.max_penalty", limits.MaxPenalty)
	viper.SetDefault("limits.min_bounty", limits.MinBounty)
	viper.SetDefault("transport.bridge_url", "")
	viper.SetDefault("transport.bridge_secret", "")
	viper.SetDefault("admin.secret_hash", "")
	viper.SetDefault("admin.signing_key", "")
	viper.SetDefault("admin.token_ttl", "8h")
	viper.SetDefault("evaluation.auto", false)
	viper.SetDefault("evaluation.interval", "5m")
	viper.SetDefault("command.vocabulary_file", "")
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}

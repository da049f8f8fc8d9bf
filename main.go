package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-verify/internal/auth"
	"github.com/example/face-verify/internal/config"
	"github.com/example/face-verify/internal/faceoracle"
	"github.com/example/face-verify/internal/grpcclient"
	"github.com/example/face-verify/internal/handlers"
	"github.com/example/face-verify/internal/httporacle"
	"github.com/example/face-verify/internal/logging"
	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/uploads"
	"github.com/example/face-verify/internal/usecase"
	"github.com/example/face-verify/internal/workerpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := uploads.New(cfg.Uploads.Dir)
	if err != nil {
		logger.Fatal("failed to create upload directory", zap.String("dir", cfg.Uploads.Dir), zap.Error(err))
	}

	oracle, closeOracle := initOracle(ctx, cfg.Oracle, logger)
	defer closeOracle()

	var repo usecase.VerificationRepository = usecase.NopRepository{}
	if cfg.Database.DSN != "" {
		db := initDatabase(ctx, cfg.Database, logger)
		verificationRepo := repository.NewVerificationRepository(db, logger)
		if err := verificationRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = verificationRepo
	} else {
		logger.Info("DATABASE_DSN not set, audit log disabled")
	}

	var cache usecase.Cache = usecase.NopCache{}
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient := initRedis(redisCtx, cfg.Redis, logger)
		redisCancel()
		defer redisClient.Close()
		cache = usecase.NewRedisCache(redisClient)
	} else {
		logger.Info("REDIS_ADDR not set, result cache disabled")
	}

	pool := workerpool.New(cfg.Oracle.Workers, cfg.Oracle.QueueSize, logger)

	uc := usecase.NewVerificationUseCase(repo, cache, oracle, store, pool, usecase.Options{
		Model:            cfg.Oracle.Model,
		DistanceMetric:   cfg.Oracle.DistanceMetric,
		EnforceDetection: cfg.Oracle.EnforceDetection,
		OracleTimeout:    cfg.Oracle.Timeout,
		ResultTTL:        cfg.Redis.ResultTTL,
	}, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger), cors.New(corsConfig(cfg.HTTP)))
	r.MaxMultipartMemory = cfg.HTTP.MaxUploadBytes

	handlers.RegisterRoutes(r, uc, auth.Optional(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), cfg.HTTP.MaxUploadBytes, logger)

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	logger.Info("face verification API listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("oracle", cfg.Oracle.Kind),
		zap.String("model", cfg.Oracle.Model),
		zap.Bool("auth", cfg.Auth.JWTSecret != ""),
	)
	err = serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger)
	pool.Close()
	if err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initOracle(ctx context.Context, cfg config.OracleConfig, logger *zap.Logger) (faceoracle.Oracle, func()) {
	if cfg.Kind == config.OracleGRPC {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		defer dialCancel()
		oracle, conn, err := grpcclient.DialOracle(dialCtx, cfg.Addr, logger)
		if err != nil {
			logger.Fatal("failed to connect to face oracle", zap.String("addr", cfg.Addr), zap.Error(err))
		}
		return oracle, func() { conn.Close() }
	}
	return httporacle.NewClient(cfg.Addr, cfg.Timeout, logger), func() {}
}

func initDatabase(ctx context.Context, cfg config.DatabaseConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func corsConfig(cfg config.HTTPConfig) cors.Config {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	origins := cfg.Origins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

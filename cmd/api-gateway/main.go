package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	_ "github.com/noah-isme/college-timetable-api/api/swagger"
	"github.com/noah-isme/college-timetable-api/internal/handler"
	"github.com/noah-isme/college-timetable-api/internal/repository"
	"github.com/noah-isme/college-timetable-api/internal/router"
	"github.com/noah-isme/college-timetable-api/internal/service"
	"github.com/noah-isme/college-timetable-api/pkg/cache"
	"github.com/noah-isme/college-timetable-api/pkg/config"
	"github.com/noah-isme/college-timetable-api/pkg/database"
	"github.com/noah-isme/college-timetable-api/pkg/lock"
	"github.com/noah-isme/college-timetable-api/pkg/logger"
)

// @title College Timetable API
// @version 1.0.0
// @description Class group timetables: manual entry, generation, publication and views
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("postgres unavailable", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.Migrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("migrations failed", zap.Error(err))
		}
	}

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("redis unavailable", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	readiness := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if rdb != nil {
		readiness["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var mongoDB *mongo.Database
	if cfg.Timetable.Store == config.StoreMongo {
		mongoDB, err = database.NewMongo(context.Background(), cfg.Mongo)
		if err != nil {
			logr.Fatal("mongo unavailable", zap.Error(err))
		}
		defer mongoDB.Client().Disconnect(context.Background()) //nolint:errcheck
		readiness["mongo"] = func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) }
	}

	store, err := buildStore(cfg, db, mongoDB)
	if err != nil {
		logr.Fatal("timetable store init failed", zap.Error(err))
	}

	catalog, err := service.NewSlotCatalogFromConfig(cfg.Timetable.GenerationDays, cfg.Timetable.Slots, cfg.Timetable.RoomPrefix, cfg.Timetable.RoomBase)
	if err != nil {
		logr.Fatal("invalid slot catalog", zap.Error(err))
	}

	metrics := service.NewMetricsService()
	validate := service.NewValidator()
	locker := buildLocker(cfg, rdb)
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(rdb, logr), metrics, cfg.Timetable.CacheTTL, logr, cfg.Timetable.CacheEnabled && rdb != nil)

	departments := repository.NewDepartmentRepository(db)
	timetables := service.NewTimetableService(service.TimetableServiceDeps{
		Store:       store,
		Departments: departments,
		Users:       repository.NewUserRepository(db),
		Students:    repository.NewStudentRepository(db),
		Catalog:     catalog,
		Locker:      locker,
		Cache:       cacheSvc,
		Metrics:     metrics,
		Validator:   validate,
		Logger:      logr,
	})
	generator := service.NewTimetableGeneratorService(store, repository.NewSubjectRepository(db), departments, catalog, locker, cacheSvc, metrics, validate, logr)
	exporter := service.NewTimetableExportService(timetables, validate, logr)

	engine := router.Setup(cfg, router.Handlers{
		Timetable: handler.NewTimetableHandler(timetables, generator, exporter),
		Metrics:   handler.NewMetricsHandler(metrics, readiness),
	}, service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer), metrics, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logr.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Timetable.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logr.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildStore(cfg *config.Config, db *sqlx.DB, mongoDB *mongo.Database) (service.TimetableStore, error) {
	switch cfg.Timetable.Store {
	case config.StoreMongo:
		repo := repository.NewTimetableMongoRepository(mongoDB)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		return repo, nil
	case config.StoreMemory:
		return repository.NewTimetableMemoryRepository(), nil
	default:
		return repository.NewTimetableRepository(db), nil
	}
}

func buildLocker(cfg *config.Config, rdb *redis.Client) lock.Locker {
	if rdb != nil {
		return lock.NewRedisLocker(rdb, "lock:timetable:", cfg.Timetable.LockTTL, cfg.Timetable.LockWait)
	}
	return lock.NewLocalLocker(cfg.Timetable.LockWait)
}

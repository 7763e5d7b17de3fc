package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	appcli "github.com/noah-isme/recordkeeper/internal/cli"
	"github.com/noah-isme/recordkeeper/internal/repository"
	"github.com/noah-isme/recordkeeper/internal/service"
	"github.com/noah-isme/recordkeeper/pkg/cache"
	"github.com/noah-isme/recordkeeper/pkg/config"
	"github.com/noah-isme/recordkeeper/pkg/database"
	"github.com/noah-isme/recordkeeper/pkg/logger"
	"github.com/noah-isme/recordkeeper/pkg/storage"
)

type app struct {
	runtime appcli.Runtime
	db      *sqlx.DB
	cache   *repository.CacheRepository
	metrics *service.MetricsService
	cfg     *config.Config
}

func main() {
	a := &app{runtime: appcli.Runtime{In: os.Stdin, Out: os.Stdout}}

	cliApp := &cli.App{
		Name:  "recordkeeper",
		Usage: "college student records with capacity-aware enrollment",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file with configuration overrides"},
		},
		Before:   a.setup,
		After:    a.teardown,
		Action:   appcli.MenuAction(&a.runtime),
		Commands: appcli.Commands(&a.runtime),
		// Exit codes are applied below so After still closes the store.
		ExitErrHandler: func(*cli.Context, error) {},
	}

	if err := cliApp.RunContext(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		log.Fatalf("recordkeeper: %v", err)
	}
}

func (a *app) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.runtime.Logger = logr

	if err := database.Migrate(cfg.Database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db

	students := repository.NewStudentRepository(db)
	teachers := repository.NewTeacherRepository(db)
	counter := repository.NewCounterRepository(db)
	tx := repository.NewTransactor(db)
	if err := counter.Init(c.Context, cfg.Database.PRNStart); err != nil {
		return fmt.Errorf("seed prn counter: %w", err)
	}

	cacheEnabled := cfg.Cache.Enabled
	var redisClient *redis.Client
	if cacheEnabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("profile cache disabled", zap.Error(err))
			cacheEnabled = false
		} else {
			redisClient = client
		}
	}
	a.cache = repository.NewCacheRepository(redisClient, logr)

	fileStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		return fmt.Errorf("init export storage: %w", err)
	}

	a.metrics = service.NewMetricsService()
	validate := service.NewValidator()
	profileCache := service.NewCacheService(a.cache, a.metrics, cfg.Cache.TTL, logr, cacheEnabled)
	allocator := service.NewAllocator(service.AllocatorConfig{
		Capacity:  cfg.Enrollment.Capacity,
		Divisions: cfg.Enrollment.Divisions,
		Domain:    cfg.Enrollment.CollegeDomain,
	}, counter, students, tx)
	importer := service.NewImportService(students, teachers, counter, tx, cfg.Legacy.DataDir, logr)

	a.runtime.Services = appcli.Services{
		Enrollment: service.NewEnrollmentService(students, allocator, validate, a.metrics, logr),
		Students:   service.NewStudentService(students, allocator, profileCache, validate, a.metrics, logr),
		Auth:       service.NewAuthService(students, teachers, profileCache, validate, a.metrics, logr),
		Export:     service.NewExportService(students, fileStore, a.metrics, logr, nil, nil),
		Import:     importer,
	}

	if c.Args().First() != "import-legacy" {
		result, err := importer.ImportIfEmpty(c.Context)
		if err != nil {
			return fmt.Errorf("import legacy data: %w", err)
		}
		if result.Ran {
			logr.Info("legacy data imported", zap.String("summary", result.String()))
		}
	}

	logr.Debug("recordkeeper ready",
		zap.String("env", cfg.Env),
		zap.String("driver", cfg.Database.Driver),
		zap.Int("capacity", cfg.Enrollment.Capacity),
		zap.Strings("divisions", cfg.Enrollment.Divisions),
	)
	return nil
}

func (a *app) teardown(c *cli.Context) error {
	logr := a.runtime.Logger
	if logr == nil {
		return nil
	}
	defer logr.Sync() //nolint:errcheck

	if a.cfg != nil {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
			logr.Warn("write metrics textfile", zap.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logr.Warn("close cache", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logr.Warn("close database", zap.Error(err))
		}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/accountd/internal/api"
	"github.com/charlesng35/accountd/internal/app"
	"github.com/charlesng35/accountd/internal/app/maintenance"
	"github.com/charlesng35/accountd/internal/cache"
	"github.com/charlesng35/accountd/internal/database"
	"github.com/charlesng35/accountd/internal/middleware"
	"github.com/charlesng35/accountd/internal/services"
	"github.com/charlesng35/accountd/pkg/logger"
	"github.com/charlesng35/accountd/pkg/mail"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accountd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	dbStore := cache.NewDatabaseStore(db)

	var redisClient cache.Store
	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(redisErr))
		} else {
			redisClient = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	defer func() {
		if rc, ok := redisClient.(*cache.RedisClient); ok && rc != nil {
			_ = rc.Close()
		}
	}()

	mailer := buildMailer(cfg, log)

	registrationSvc, err := services.NewRegistrationService(db, mailer,
		services.WithBaseURL(cfg.Client.BaseURL),
		services.WithVerificationExpiry(cfg.Auth.Verification.TTL),
		services.WithVerificationTokenSize(cfg.Auth.Verification.TokenLength),
	)
	if err != nil {
		return fmt.Errorf("initialise registration service: %w", err)
	}

	sessionOpts := []services.SessionOption{
		services.WithSessionTTL(cfg.Auth.Session.TTL),
		services.WithSessionTokenSize(cfg.Auth.Session.KeyLength),
	}
	switch {
	case redisClient != nil:
		sessionOpts = append(sessionOpts, services.WithSessionCache(redisClient))
	case dbStore != nil:
		sessionOpts = append(sessionOpts, services.WithSessionCache(dbStore))
	}

	sessionSvc, err := services.NewSessionService(db, sessionOpts...)
	if err != nil {
		return fmt.Errorf("initialise session service: %w", err)
	}

	userSvc, err := services.NewUserService(db)
	if err != nil {
		return fmt.Errorf("initialise user service: %w", err)
	}

	cleaner := maintenance.NewCleaner(db, sessionSvc, registrationSvc,
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheSchedule),
	)
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := cleaner.Stop()
		if err := cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	var rateStore middleware.RateStore
	switch {
	case redisClient != nil:
		rateStore = middleware.NewCacheRateStore(redisClient)
	case dbStore != nil:
		rateStore = middleware.NewCacheRateStore(dbStore)
	}

	router, err := api.NewRouter(cfg, api.Deps{
		DB:           db,
		Registration: registrationSvc,
		Sessions:     sessionSvc,
		Users:        userSvc,
		RateStore:    rateStore,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

// buildMailer selects the SMTP mailer when configured, otherwise a log-only
// mailer. Sends still gate signup commits either way, so a misconfigured SMTP
// host fails registrations loudly instead of dropping mail on the floor.
func buildMailer(cfg *app.Config, log *zap.Logger) mail.Mailer {
	if cfg.Email.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err == nil {
			return mailer
		}
		log.Warn("smtp misconfigured; falling back to log mailer", zap.Error(err))
	}
	return mail.NewLogMailer(logger.WithModule("mail"))
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}

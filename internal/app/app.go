package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	redisclient "github.com/nndrao/stern-sub001/internal/clients/redis"
	"github.com/nndrao/stern-sub001/internal/data/db"
	"github.com/nndrao/stern-sub001/internal/data/repos/configs"
	apphttp "github.com/nndrao/stern-sub001/internal/http"
	httpH "github.com/nndrao/stern-sub001/internal/http/handlers"
	"github.com/nndrao/stern-sub001/internal/platform/envutil"
	"github.com/nndrao/stern-sub001/internal/platform/logger"
	"github.com/nndrao/stern-sub001/internal/services"
)

type Repos struct {
	Records configs.RecordRepo
}

type Services struct {
	Configs services.ConfigService
}

type Handlers struct {
	Health  *httpH.HealthHandler
	Configs *httpH.ConfigHandler
}

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *apphttp.Server
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services

	changeBus *redisclient.ChangeBus
	cancel    context.CancelFunc
}

func New() (*App, error) {
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	reposet := wireRepos(theDB, log)

	// Change notifications degrade to a no-op when Redis is not configured.
	var notifier services.ChangeNotifier
	var changeBus *redisclient.ChangeBus
	if envutil.String("REDIS_ADDR", "") != "" {
		changeBus, err = redisclient.NewChangeBus(log)
		if err != nil {
			log.Warn("Redis change bus init failed, notifications disabled", "error", err)
		} else {
			notifier = changeBus
		}
	}
	if notifier == nil {
		notifier = services.NewNoopNotifier()
	}

	serviceset := wireServices(log, cfg, reposet, notifier)
	handlerset := wireHandlers(log, serviceset)
	server := wireServer(log, handlerset)

	return &App{
		Log:       log,
		DB:        theDB,
		Server:    server,
		Router:    server.Engine,
		Cfg:       cfg,
		Repos:     reposet,
		Services:  serviceset,
		changeBus: changeBus,
	}, nil
}

func wireRepos(theDB *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Records: configs.NewRecordRepo(theDB, log),
	}
}

func wireServices(log *logger.Logger, cfg Config, reposet Repos, notifier services.ChangeNotifier) Services {
	log.Info("Wiring services...")
	return Services{
		Configs: services.NewConfigService(log, reposet.Records, notifier, services.Options{
			StorageTimeout: cfg.StorageTimeout,
			Retention:      time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		}),
	}
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:  httpH.NewHealthHandler(),
		Configs: httpH.NewConfigHandler(log, serviceset.Configs),
	}
}

func wireServer(log *logger.Logger, handlerset Handlers) *apphttp.Server {
	return apphttp.NewServer(apphttp.RouterConfig{
		Log:           log,
		ConfigHandler: handlerset.Configs,
		HealthHandler: handlerset.Health,
	})
}

// Start launches the periodic retention sweep. A zero interval disables it.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Cfg.CleanupInterval > 0 {
		go a.runCleanupLoop(ctx)
	}
}

func (a *App) runCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.Cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := a.Services.Configs.Cleanup(ctx, false)
			if report.Error != "" {
				a.Log.Warn("Scheduled cleanup failed", "error", report.Error)
				continue
			}
			a.Log.Info("Scheduled cleanup completed", "purged", report.PurgedCount)
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.changeBus != nil {
		if err := a.changeBus.Close(); err != nil {
			a.Log.Warn("Redis change bus close failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}

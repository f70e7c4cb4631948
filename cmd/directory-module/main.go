// Точка входа Directory Module — модуль каталога системы Sitedir.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует клиент Meilisearch, создаёт сервисный слой и API handlers,
// запускает мониторинг зависимостей (topologymetrics), HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/sitedir/directory-module/internal/api/handlers"
	"github.com/bigkaa/sitedir/directory-module/internal/api/middleware"
	"github.com/bigkaa/sitedir/directory-module/internal/config"
	"github.com/bigkaa/sitedir/directory-module/internal/database"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
	"github.com/bigkaa/sitedir/directory-module/internal/server"
	"github.com/bigkaa/sitedir/directory-module/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Directory Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("DM_DEPHEALTH_GROUP") == "" {
		logger.Warn("DM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL будет идти через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиент Meilisearch
	searchClient := search.NewClient(cfg.MeiliURL, cfg.MeiliAPIKey, cfg.MeiliIndexName, logger)
	logger.Info("Клиент Meilisearch создан",
		slog.String("url", cfg.MeiliURL),
		slog.String("index", cfg.MeiliIndexName),
	)

	// 6. Repositories
	orgRepo := repository.NewOrganizationRepository(pool)
	siteRepo := repository.NewSiteRepository(pool)
	catRepo := repository.NewCategoryRepository(pool)
	countryRepo := repository.NewCountryRepository(pool)
	trialRepo := repository.NewTrialRepository(pool)
	auditRepo := repository.NewAuditLogRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 7. Services
	auditSvc := service.NewAuditService(auditRepo, logger)
	entitlementSvc := service.NewEntitlementService(orgRepo, trialRepo, logger)
	categorySvc := service.NewCategoryService(catRepo, cfg.CategoryCacheSize, cfg.CategoryCacheTTL, logger)
	searchSvc := service.NewSearchService(searchClient, countryRepo, categorySvc, cfg.SearchScanPageSize, logger)
	indexerSvc := service.NewIndexerService(
		searchClient, siteRepo, catRepo, trialRepo,
		cfg.ReindexBatchSize, cfg.ReindexConcurrency,
		logger,
	)
	orgSvc := service.NewOrganizationService(orgRepo, trialRepo, txRunner, indexerSvc, auditSvc, logger)

	// 8. Настройка атрибутов индекса при старте.
	// Недоступный Meilisearch не блокирует запуск — readiness probe
	// будет сигнализировать о деградации.
	if err := indexerSvc.EnsureIndex(ctx); err != nil {
		logger.Warn("Не удалось настроить атрибуты индекса Meilisearch",
			slog.String("error", err.Error()),
		)
	}

	// 9. Readiness checkers (PostgreSQL + Meilisearch)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, searchClient)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		searchSvc,
		orgSvc,
		entitlementSvc,
		auditSvc,
		indexerSvc,
		logger,
	)

	// 11. topologymetrics — мониторинг зависимостей (PostgreSQL + Meilisearch)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"directory-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.MeiliURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 12. HTTP-сервер с middleware (metrics до logging)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 13. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Directory Module остановлен")
}

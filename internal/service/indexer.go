// indexer.go — поддержание поискового индекса в актуальном состоянии.
// Перестраивает проекцию сайта при изменении влияющих полей сайта или
// организации; сайты, потерявшие право находиться в индексе, удаляются.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
)

// Prometheus-метрики индексатора.
var (
	reindexDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_reindex_duration_seconds",
		Help:    "Длительность полной реиндексации.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~204s
	})
	reindexDocsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_reindex_docs_total",
		Help: "Количество документов, обработанных индексатором.",
	}, []string{"operation"}) // operation: upserted, removed, failed
)

// ReindexFailure — ошибка реиндексации одного сайта в bulk-операции.
type ReindexFailure struct {
	// SiteID — сайт, для которого реиндексация не удалась
	SiteID string
	// Error — текст ошибки
	Error string
}

// ReindexReport — итог полной реиндексации.
type ReindexReport struct {
	// Scanned — всего сайтов прочитано из БД
	Scanned int
	// Upserted — документов записано в индекс
	Upserted int
	// Removed — документов удалено из индекса
	Removed int
	// StartedAt — начало реиндексации
	StartedAt time.Time
	// CompletedAt — завершение реиндексации
	CompletedAt time.Time
}

// IndexerService — построение и обновление поисковых документов.
type IndexerService struct {
	index       search.Index
	siteRepo    repository.SiteRepository
	catRepo     repository.CategoryRepository
	trialRepo   repository.TrialRepository
	batchSize   int
	concurrency int
	logger      *slog.Logger

	// now переопределяется в тестах
	now func() time.Time
}

// NewIndexerService создаёт индексатор.
// batchSize — размер батча полной реиндексации,
// concurrency — предел параллельных реиндексаций в bulk-операциях.
func NewIndexerService(
	index search.Index,
	siteRepo repository.SiteRepository,
	catRepo repository.CategoryRepository,
	trialRepo repository.TrialRepository,
	batchSize int,
	concurrency int,
	logger *slog.Logger,
) *IndexerService {
	return &IndexerService{
		index:       index,
		siteRepo:    siteRepo,
		catRepo:     catRepo,
		trialRepo:   trialRepo,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "indexer_service")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// indexEligible сообщает, имеет ли сайт право находиться в индексе:
// статус верификации SUCCESS и владелец (если есть) одобрен,
// не ограничен и не удалён.
func indexEligible(site *model.Site, owner *model.Organization) bool {
	if site.VerificationStatus != model.VerificationSuccess {
		return false
	}
	if owner == nil {
		return true
	}
	return owner.IsApproved() && !owner.IsRestricted && !owner.IsDeleted()
}

// buildDocument строит поисковый документ сайта.
// Ранг приоритета вычисляется из прав организации-владельца;
// независимые сайты получают ранг NORMAL.
func (s *IndexerService) buildDocument(ctx context.Context, site *model.Site, owner *model.Organization) (search.SiteDocument, error) {
	priority := model.PriorityNormal
	if owner != nil {
		trial, err := s.trialRepo.GetLatestByOrganization(ctx, owner.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return search.SiteDocument{}, fmt.Errorf("получение триала организации: %w", err)
		}
		now := s.now()
		lc := ComputeLifecycle(owner.PlanType, owner.PaidTermEndAt, now, owner.GraceSuppressed)
		bundle := ResolveEntitlements(owner, trial, lc, now)
		priority = bundle.PriorityLevel
	}

	var category *model.Category
	if site.CategoryID != nil {
		cat, err := s.catRepo.GetByID(ctx, *site.CategoryID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return search.SiteDocument{}, fmt.Errorf("получение категории сайта: %w", err)
		}
		category = cat
	}

	return search.BuildDocument(site, owner, category, priority.Rank()), nil
}

// ReindexSite перестраивает документ одного сайта.
// Сайт без права на индексацию удаляется из индекса.
func (s *IndexerService) ReindexSite(ctx context.Context, siteID string) error {
	sw, err := s.siteRepo.GetWithOwner(ctx, siteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Сайт удалён из БД — убираем из индекса
			if err := s.index.Delete(ctx, []string{siteID}); err != nil {
				return s.maintenanceError(err)
			}
			reindexDocsTotal.WithLabelValues("removed").Inc()
			return nil
		}
		return fmt.Errorf("получение сайта для реиндексации: %w", err)
	}

	if !indexEligible(sw.Site, sw.Owner) {
		if err := s.index.Delete(ctx, []string{siteID}); err != nil {
			return s.maintenanceError(err)
		}
		reindexDocsTotal.WithLabelValues("removed").Inc()
		return nil
	}

	doc, err := s.buildDocument(ctx, sw.Site, sw.Owner)
	if err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, []search.SiteDocument{doc}); err != nil {
		return s.maintenanceError(err)
	}
	reindexDocsTotal.WithLabelValues("upserted").Inc()
	return nil
}

// ReindexOrganization перестраивает документы всех сайтов организации.
// Вызывается после изменения плана, приоритета, модерации или ограничения.
func (s *IndexerService) ReindexOrganization(ctx context.Context, orgID string) []ReindexFailure {
	sites, err := s.siteRepo.ListByOrganization(ctx, orgID)
	if err != nil {
		return []ReindexFailure{{SiteID: "", Error: fmt.Sprintf("список сайтов организации %s: %v", orgID, err)}}
	}

	ids := make([]string, 0, len(sites))
	for _, site := range sites {
		ids = append(ids, site.ID)
	}
	return s.ReindexSites(ctx, ids)
}

// ReindexSites перестраивает документы сайтов параллельно с ограничением
// concurrency. Ошибки отдельных сайтов собираются и возвращаются,
// не прерывая остальных — partial-failure модель bulk-операций.
func (s *IndexerService) ReindexSites(ctx context.Context, siteIDs []string) []ReindexFailure {
	if len(siteIDs) == 0 {
		return nil
	}

	sem := make(chan struct{}, s.concurrency)

	var mu sync.Mutex
	var failures []ReindexFailure

	var wg sync.WaitGroup
	for _, id := range siteIDs {
		wg.Add(1)
		go func(siteID string) {
			defer wg.Done()

			// Ограничение concurrency
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := s.ReindexSite(ctx, siteID); err != nil {
				reindexDocsTotal.WithLabelValues("failed").Inc()
				mu.Lock()
				failures = append(failures, ReindexFailure{SiteID: siteID, Error: err.Error()})
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	for _, f := range failures {
		s.logger.Warn("Ошибка реиндексации сайта",
			slog.String("site_id", f.SiteID),
			slog.String("error", f.Error),
		)
	}
	return failures
}

// ReindexAll выполняет полную реиндексацию каталога: постраничный обход
// сайтов с владельцами, batch upsert документов с правом на индексацию
// и удаление остальных.
func (s *IndexerService) ReindexAll(ctx context.Context) (*ReindexReport, error) {
	report := &ReindexReport{StartedAt: s.now()}

	s.logger.Info("Полная реиндексация запущена", slog.Int("batch_size", s.batchSize))

	afterID := ""
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		batch, err := s.siteRepo.ListWithOwnerBatch(ctx, afterID, s.batchSize)
		if err != nil {
			return nil, fmt.Errorf("чтение батча сайтов (after=%q): %w", afterID, err)
		}
		if len(batch) == 0 {
			break
		}

		var docs []search.SiteDocument
		var removeIDs []string
		for _, sw := range batch {
			report.Scanned++
			if !indexEligible(sw.Site, sw.Owner) {
				removeIDs = append(removeIDs, sw.Site.ID)
				continue
			}
			doc, err := s.buildDocument(ctx, sw.Site, sw.Owner)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}

		if len(docs) > 0 {
			if err := s.index.Upsert(ctx, docs); err != nil {
				return nil, s.maintenanceError(err)
			}
			report.Upserted += len(docs)
			reindexDocsTotal.WithLabelValues("upserted").Add(float64(len(docs)))
		}
		if len(removeIDs) > 0 {
			if err := s.index.Delete(ctx, removeIDs); err != nil {
				return nil, s.maintenanceError(err)
			}
			report.Removed += len(removeIDs)
			reindexDocsTotal.WithLabelValues("removed").Add(float64(len(removeIDs)))
		}

		afterID = batch[len(batch)-1].Site.ID

		// Неполный батч — конец данных
		if len(batch) < s.batchSize {
			break
		}
	}

	report.CompletedAt = s.now()
	reindexDuration.Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())

	s.logger.Info("Полная реиндексация завершена",
		slog.Int("scanned", report.Scanned),
		slog.Int("upserted", report.Upserted),
		slog.Int("removed", report.Removed),
	)
	return report, nil
}

// EnsureIndex приводит настройки индекса к требуемым. Вызывается при старте.
func (s *IndexerService) EnsureIndex(ctx context.Context) error {
	if err := s.index.EnsureSettings(ctx); err != nil {
		return s.maintenanceError(err)
	}
	return nil
}

// maintenanceError переводит ошибку индекса в ошибку сервисного слоя.
func (s *IndexerService) maintenanceError(err error) error {
	if errors.Is(err, search.ErrUnavailable) {
		return fmt.Errorf("%w: %s", ErrSearchUnavailable, err)
	}
	return fmt.Errorf("обновление индекса: %w", err)
}

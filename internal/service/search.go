// search.go — поиск по каталогу: exact-выдача из Meilisearch с локальным
// детерминированным пересортированием, расширение по определённой
// категории и сборка страницы.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
)

// maxScanDocs — жёсткий предел обхода индекса за один запрос.
// Ограничивает worst-case латентность и память.
const maxScanDocs = 5000

// Prometheus-метрики поиска.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_search_total",
		Help: "Общее количество поисковых запросов.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
	searchScannedDocs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_search_scanned_docs",
		Help:    "Количество документов, прочитанных из индекса за запрос.",
		Buckets: []float64{100, 500, 1000, 2500, 5000, 10000},
	})
)

// SearchFilters — область поиска.
type SearchFilters struct {
	// CountryISO — ISO-код или внутренний UUID страны (обязателен)
	CountryISO string
	// StateID — ограничение по региону
	StateID *string
	// CategoryID — явная категория (отключает лексическое определение)
	CategoryID *string
	// IsApproved — фильтр по флагу одобрения документов
	IsApproved bool
}

// SearchResult — результат поиска.
type SearchResult struct {
	// Hits — страница выдачи: exact, затем расширение по категории
	Hits []search.Hit
	// Exact — часть страницы из exact-совпадений
	Exact []search.Hit
	// CategoryExpansion — часть страницы из расширения по категории
	CategoryExpansion []search.Hit
	// Total — полное количество совпадений (exact + расширение)
	Total int
	// ExactTotal — полное количество exact-совпадений
	ExactTotal int
	// DetectedCategory — определённая категория (nil = не определена)
	DetectedCategory *model.Category
	// CountryISO — разрешённый ISO-код области поиска
	CountryISO string
}

// SearchService — поиск по каталогу сайтов.
type SearchService struct {
	index       search.Index
	countryRepo repository.CountryRepository
	categories  *CategoryService
	pageSize    int
	logger      *slog.Logger
}

// NewSearchService создаёт сервис поиска.
// pageSize — размер батча при обходе индекса.
func NewSearchService(
	index search.Index,
	countryRepo repository.CountryRepository,
	categories *CategoryService,
	pageSize int,
	logger *slog.Logger,
) *SearchService {
	return &SearchService{
		index:       index,
		countryRepo: countryRepo,
		categories:  categories,
		pageSize:    pageSize,
		logger:      logger.With(slog.String("component", "search_service")),
	}
}

// Search выполняет поиск по каталогу.
//
// Последовательность:
//  1. Разрешение страны (ISO-код или UUID); нераспознанная страна — ErrScopeInvalid.
//  2. Определение категории: явный фильтр валидируется, иначе лексический скоринг.
//  3. Полный набор exact-совпадений из индекса (обход батчами до maxScanDocs)
//     с локальным детерминированным пересортированием.
//  4. Расширение по категории: выборка по стране+категории без текстового
//     запроса, с исключением id, уже попавших в exact-набор.
//  5. Сборка страницы: сперва exact, остаток лимита — из расширения.
func (s *SearchService) Search(ctx context.Context, query string, f SearchFilters, limit, offset int) (*SearchResult, error) {
	start := time.Now()
	searchTotal.Inc()

	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	// 1. Разрешение страны. Нераспознанная страна никогда не
	// трактуется как «все страны».
	iso, err := s.countryRepo.ResolveISO(ctx, f.CountryISO)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrScopeInvalid, f.CountryISO)
		}
		return nil, fmt.Errorf("разрешение страны: %w", err)
	}

	// 2. Категория: явный фильтр или лексическое определение
	var category *model.Category
	explicitCategory := f.CategoryID != nil && *f.CategoryID != ""
	if explicitCategory {
		category, err = s.categories.Validate(ctx, *f.CategoryID)
		if err != nil {
			return nil, err
		}
	} else if query != "" {
		category, err = s.categories.Detect(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("определение категории: %w", err)
		}
	}

	// 3. Exact-совпадения
	exactFilter := search.NewFilter().
		Eq("countryIso", iso).
		EqBool("isApproved", f.IsApproved)
	if explicitCategory {
		exactFilter.Eq("categoryId", category.ID)
	}
	if f.StateID != nil && *f.StateID != "" {
		exactFilter.Eq("stateId", *f.StateID)
	}

	exact, err := s.scanQuery(ctx, query, exactFilter.String())
	if err != nil {
		return nil, err
	}
	sortExactHits(exact)

	// 4. Расширение по категории
	var expansion []search.Hit
	if category != nil {
		expansion, err = s.scanCategoryExpansion(ctx, iso, f.IsApproved, category, exact)
		if err != nil {
			return nil, err
		}
	}

	scanned := len(exact) + len(expansion)
	searchScannedDocs.Observe(float64(scanned))

	// 5. Сборка страницы
	result := assemblePage(exact, expansion, limit, offset)
	result.DetectedCategory = category
	result.CountryISO = iso

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск выполнен",
		slog.String("query", query),
		slog.String("country_iso", iso),
		slog.Int("exact_total", result.ExactTotal),
		slog.Int("total", result.Total),
		slog.Duration("duration", duration),
	)

	return result, nil
}

// scanQuery обходит индекс текстовым запросом батчами до maxScanDocs.
// Релевантность индекса определяет состав батчей, итоговый порядок
// пересчитывается локально.
func (s *SearchService) scanQuery(ctx context.Context, query, filter string) ([]search.Hit, error) {
	var hits []search.Hit

	offset := 0
	for offset < maxScanDocs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		batch := s.pageSize
		if offset+batch > maxScanDocs {
			batch = maxScanDocs - offset
		}

		page, err := s.index.Query(ctx, query, filter, batch, offset)
		if err != nil {
			return nil, s.indexError(err)
		}

		hits = append(hits, page.Hits...)
		offset += len(page.Hits)

		// Неполный батч — конец данных
		if len(page.Hits) < batch {
			break
		}
	}

	return hits, nil
}

// scanCategoryExpansion обходит индекс выборкой по категории (по id или slug)
// без текстового запроса, исключая id из exact-набора.
func (s *SearchService) scanCategoryExpansion(ctx context.Context, iso string, isApproved bool, category *model.Category, exact []search.Hit) ([]search.Hit, error) {
	seen := make(map[string]struct{}, len(exact))
	for _, h := range exact {
		seen[h.ID] = struct{}{}
	}

	filter := search.NewFilter().
		Eq("countryIso", iso).
		EqBool("isApproved", isApproved).
		AnyPair(
			search.Pair{Attr: "categoryId", Value: category.ID},
			search.Pair{Attr: "categorySlug", Value: category.Slug},
		).
		String()

	// Browse без текстового запроса не имеет релевантности;
	// сортировка задаётся явно и совпадает с итоговой.
	sortSpec := []string{"priorityRank:asc", "createdAt:desc", "id:asc"}

	var expansion []search.Hit

	offset := 0
	for offset < maxScanDocs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		batch := s.pageSize
		if offset+batch > maxScanDocs {
			batch = maxScanDocs - offset
		}

		page, err := s.index.Browse(ctx, filter, sortSpec, batch, offset)
		if err != nil {
			return nil, s.indexError(err)
		}

		for _, h := range page.Hits {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			expansion = append(expansion, h)
		}
		offset += len(page.Hits)

		if len(page.Hits) < batch {
			break
		}
	}

	sortExpansionHits(expansion)
	return expansion, nil
}

// indexError переводит ошибку индекса в ошибку сервисного слоя.
// Деградация к прямому запросу в БД не предусмотрена.
func (s *SearchService) indexError(err error) error {
	if errors.Is(err, search.ErrUnavailable) {
		s.logger.Error("Поисковый индекс недоступен", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %s", ErrSearchUnavailable, err)
	}
	return fmt.Errorf("запрос к индексу: %w", err)
}

// sortExactHits сортирует exact-совпадения: ранг приоритета по возрастанию
// (HIGH=1 лучший), релевантность по убыванию, время создания по убыванию,
// id по возрастанию. Авторитетен этот порядок, а не порядок индекса.
func sortExactHits(hits []search.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := &hits[i], &hits[j]
		if a.PriorityRank != b.PriorityRank {
			return a.PriorityRank < b.PriorityRank
		}
		if a.RankingScore != b.RankingScore {
			return a.RankingScore > b.RankingScore
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// sortExpansionHits сортирует расширение по категории: ранг приоритета,
// время создания по убыванию, id. Релевантности у browse-выборки нет.
func sortExpansionHits(hits []search.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := &hits[i], &hits[j]
		if a.PriorityRank != b.PriorityRank {
			return a.PriorityRank < b.PriorityRank
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	})
}

// assemblePage собирает страницу выдачи: окно limit/offset заполняется
// сперва из exact-списка, остаток — из расширения со смещением
// max(0, offset - exactTotal).
func assemblePage(exact, expansion []search.Hit, limit, offset int) *SearchResult {
	result := &SearchResult{
		ExactTotal: len(exact),
		Total:      len(exact) + len(expansion),
	}

	// Exact-часть страницы
	if offset < len(exact) {
		end := offset + limit
		if end > len(exact) {
			end = len(exact)
		}
		result.Exact = exact[offset:end]
	}

	// Остаток лимита — из расширения
	remaining := limit - len(result.Exact)
	if remaining > 0 && len(expansion) > 0 {
		expOffset := offset - len(exact)
		if expOffset < 0 {
			expOffset = 0
		}
		if expOffset < len(expansion) {
			end := expOffset + remaining
			if end > len(expansion) {
				end = len(expansion)
			}
			result.CategoryExpansion = expansion[expOffset:end]
		}
	}

	result.Hits = make([]search.Hit, 0, len(result.Exact)+len(result.CategoryExpansion))
	result.Hits = append(result.Hits, result.Exact...)
	result.Hits = append(result.Hits, result.CategoryExpansion...)
	return result
}

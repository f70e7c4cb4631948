// category.go — лексическое определение категории по поисковому запросу.
// Запрос нормализуется, токены расширяются через таблицу синонимов,
// каждая активная категория получает числовой балл; победитель с
// наибольшим баллом (>0) считается определённой категорией.
// Результаты кэшируются в LRU с TTL (hashicorp/golang-lru/v2/expirable).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
)

// Веса лексического скоринга категорий.
const (
	scoreExactFullMatch   = 120 // запрос целиком совпал с именем или slug
	scoreNameContainment  = 60  // имя категории содержится в запросе
	scoreSlugContainment  = 50  // slug категории содержится в запросе
	scoreTokenOverlap     = 15  // за каждое слово имени/slug, найденное в токенах запроса
	scoreTagExactWord     = 45  // тег совпал с токеном запроса целиком
	scoreTagSubstring     = 25  // тег содержится в запросе как подстрока
)

// Prometheus-метрики кэша определения категорий.
var (
	categoryCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_category_cache_hits_total",
		Help: "Общее количество попаданий в кэш определения категорий.",
	})
	categoryCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_category_cache_misses_total",
		Help: "Общее количество промахов кэша определения категорий.",
	})
)

// synonyms — фиксированная таблица синонимов для расширения токенов запроса.
var synonyms = map[string][]string{
	"gov":        {"government"},
	"govt":       {"government"},
	"government": {"gov"},
	"uni":        {"university"},
	"university": {"uni"},
	"edu":        {"education"},
	"education":  {"edu"},
	"med":        {"medical"},
	"medical":    {"med"},
	"tech":       {"technology"},
	"technology": {"tech"},
	"lib":        {"library"},
	"library":    {"lib"},
}

// nonQueryChars — всё, что не входит в [a-z0-9 -], удаляется при нормализации.
var nonQueryChars = regexp.MustCompile(`[^a-z0-9 -]+`)

// normalizeQuery приводит запрос к канонической форме: нижний регистр,
// только [a-z0-9 -], схлопнутые пробелы.
func normalizeQuery(query string) string {
	q := strings.ToLower(query)
	q = nonQueryChars.ReplaceAllString(q, " ")
	return strings.Join(strings.Fields(q), " ")
}

// expandTokens разбивает нормализованный запрос на токены и добавляет
// синонимы каждого токена.
func expandTokens(normalized string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		tokens[tok] = struct{}{}
		for _, syn := range synonyms[tok] {
			tokens[syn] = struct{}{}
		}
	}
	return tokens
}

// scoreCategory вычисляет балл категории для нормализованного запроса.
func scoreCategory(normalized string, tokens map[string]struct{}, cat *model.Category) int {
	name := normalizeQuery(cat.Name)
	slug := normalizeQuery(cat.Slug)

	score := 0

	// Полное совпадение запроса с именем или slug
	if normalized == name || normalized == slug {
		score += scoreExactFullMatch
	}

	// Вхождение имени/slug в запрос как подстроки
	if name != "" && strings.Contains(normalized, name) {
		score += scoreNameContainment
	}
	if slug != "" && slug != name && strings.Contains(normalized, slug) {
		score += scoreSlugContainment
	}

	// Пересечение слов имени и slug с токенами запроса
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(name) {
		seen[word] = struct{}{}
	}
	for _, word := range strings.Fields(slug) {
		seen[word] = struct{}{}
	}
	for word := range seen {
		if _, ok := tokens[word]; ok {
			score += scoreTokenOverlap
		}
	}

	// Теги: точное совпадение с токеном или вхождение в запрос
	for _, tag := range cat.Tags {
		t := normalizeQuery(tag)
		if t == "" {
			continue
		}
		if _, ok := tokens[t]; ok {
			score += scoreTagExactWord
		} else if strings.Contains(normalized, t) {
			score += scoreTagSubstring
		}
	}

	return score
}

// detectionEntry — закэшированный результат определения категории.
// Category = nil означает «категория не определена» (кэшируется тоже).
type detectionEntry struct {
	Category *model.Category
}

// CategoryService — определение категории по запросу с LRU-кэшем.
type CategoryService struct {
	catRepo repository.CategoryRepository
	cache   *expirable.LRU[string, *detectionEntry]
	logger  *slog.Logger
}

// NewCategoryService создаёт сервис определения категорий.
// cacheSize — максимум записей в кэше, ttl — время жизни записи.
func NewCategoryService(
	catRepo repository.CategoryRepository,
	cacheSize int,
	ttl time.Duration,
	logger *slog.Logger,
) *CategoryService {
	return &CategoryService{
		catRepo: catRepo,
		cache:   expirable.NewLRU[string, *detectionEntry](cacheSize, nil, ttl),
		logger:  logger.With(slog.String("component", "category_service")),
	}
}

// Detect определяет категорию по свободному текстовому запросу.
// Возвращает nil, если ни одна активная категория не набрала балл > 0.
func (s *CategoryService) Detect(ctx context.Context, query string) (*model.Category, error) {
	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil, nil
	}

	if entry, ok := s.cache.Get(normalized); ok {
		categoryCacheHitsTotal.Inc()
		return entry.Category, nil
	}
	categoryCacheMissesTotal.Inc()

	categories, err := s.catRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение активных категорий: %w", err)
	}

	tokens := expandTokens(normalized)

	var best *model.Category
	bestScore := 0
	for _, cat := range categories {
		score := scoreCategory(normalized, tokens, cat)
		if score == 0 {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && lessCategory(cat, best)) {
			best = cat
			bestScore = score
		}
	}

	s.cache.Add(normalized, &detectionEntry{Category: best})

	if best != nil {
		s.logger.Debug("Категория определена",
			slog.String("query", normalized),
			slog.String("category", best.Slug),
			slog.Int("score", bestScore),
		)
	}
	return best, nil
}

// Validate возвращает активную категорию по id или ErrCategoryNotFound.
func (s *CategoryService) Validate(ctx context.Context, id string) (*model.Category, error) {
	cat, err := s.catRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, fmt.Errorf("получение категории: %w", err)
	}
	if !cat.IsActive {
		return nil, ErrCategoryNotFound
	}
	return cat, nil
}

// lessCategory — tie-break при равном балле: меньший sort_order,
// затем алфавитный порядок имени.
func lessCategory(a, b *model.Category) bool {
	if a.SortOrder != b.SortOrder {
		return a.SortOrder < b.SortOrder
	}
	return a.Name < b.Name
}

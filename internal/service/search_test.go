package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
)

// usCountryRepo — мок страны, разрешающий только US.
func usCountryRepo() *mockCountryRepo {
	return &mockCountryRepo{
		resolveISOFn: func(_ context.Context, isoOrID string) (string, error) {
			if isoOrID == "US" || isoOrID == "country-us" {
				return "US", nil
			}
			return "", repository.ErrNotFound
		},
	}
}

func newSearchService(index *mockIndex, countries *mockCountryRepo, catRepo *mockCategoryRepo) *SearchService {
	cats := NewCategoryService(catRepo, 100, 5*time.Minute, slog.Default())
	return NewSearchService(index, countries, cats, 1000, slog.Default())
}

func hit(id string, rank int, score float64, createdAt int64) search.Hit {
	return search.Hit{
		SiteDocument: search.SiteDocument{
			ID:           id,
			PriorityRank: rank,
			CreatedAt:    createdAt,
			CountryISO:   "US",
		},
		RankingScore: score,
	}
}

// TestSortExactHits_Deterministic — порядок exact-выдачи: ранг приоритета,
// релевантность, время создания, id.
func TestSortExactHits_Deterministic(t *testing.T) {
	hits := []search.Hit{
		hit("A", 1, 0.2, 300),
		hit("B", 3, 0.95, 100),
		hit("C", 1, 0.8, 200),
	}

	sortExactHits(hits)

	want := []string{"C", "A", "B"}
	for i, id := range want {
		if hits[i].ID != id {
			t.Fatalf("позиция %d: %s, ожидалась последовательность C, A, B (получено %v)",
				i, hits[i].ID, []string{hits[0].ID, hits[1].ID, hits[2].ID})
		}
	}

	// Повторный прогон даёт идентичный порядок
	sortExactHits(hits)
	for i, id := range want {
		if hits[i].ID != id {
			t.Errorf("повторная сортировка недетерминирована: позиция %d = %s", i, hits[i].ID)
		}
	}
}

func TestSortExactHits_FinalTieBreakByID(t *testing.T) {
	hits := []search.Hit{
		hit("z", 2, 0.5, 100),
		hit("a", 2, 0.5, 100),
	}

	sortExactHits(hits)

	if hits[0].ID != "a" || hits[1].ID != "z" {
		t.Errorf("tie-break по id нарушен: %s, %s", hits[0].ID, hits[1].ID)
	}
}

// TestSearchService_ScopeInvalid — нераспознанная страна отклоняется
// до обращения к индексу.
func TestSearchService_ScopeInvalid(t *testing.T) {
	index := &mockIndex{
		queryFn: func(_ context.Context, _, _ string, _, _ int) (*search.QueryResult, error) {
			t.Error("индекс не должен вызываться при некорректной области")
			return &search.QueryResult{}, nil
		},
	}
	svc := newSearchService(index, usCountryRepo(), &mockCategoryRepo{})

	_, err := svc.Search(context.Background(), "test", SearchFilters{CountryISO: "XX"}, 20, 0)
	if !errors.Is(err, ErrScopeInvalid) {
		t.Errorf("ошибка = %v, ожидалась ErrScopeInvalid", err)
	}
}

// TestSearchService_SearchUnavailable — ошибка индекса превращается в
// ErrSearchUnavailable без деградации к БД.
func TestSearchService_SearchUnavailable(t *testing.T) {
	index := &mockIndex{
		queryFn: func(_ context.Context, _, _ string, _, _ int) (*search.QueryResult, error) {
			return nil, fmt.Errorf("%w: connection refused", search.ErrUnavailable)
		},
	}
	svc := newSearchService(index, usCountryRepo(), &mockCategoryRepo{})

	_, err := svc.Search(context.Background(), "test", SearchFilters{CountryISO: "US"}, 20, 0)
	if !errors.Is(err, ErrSearchUnavailable) {
		t.Errorf("ошибка = %v, ожидалась ErrSearchUnavailable", err)
	}
}

// TestSearchService_ScanCap — обход индекса останавливается на 5000 документах.
func TestSearchService_ScanCap(t *testing.T) {
	calls := 0
	index := &mockIndex{
		queryFn: func(_ context.Context, _, _ string, limit, offset int) (*search.QueryResult, error) {
			calls++
			// Индекс «бесконечен»: всегда возвращает полный батч
			hits := make([]search.Hit, limit)
			for i := range hits {
				hits[i] = hit(fmt.Sprintf("doc-%06d", offset+i), 3, 0.5, int64(offset+i))
			}
			return &search.QueryResult{Hits: hits, EstimatedTotal: 100000}, nil
		},
	}
	svc := newSearchService(index, usCountryRepo(), &mockCategoryRepo{})

	result, err := svc.Search(context.Background(), "query without category", SearchFilters{CountryISO: "US"}, 20, 0)
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	if result.ExactTotal != maxScanDocs {
		t.Errorf("ExactTotal = %d, ожидался предел %d", result.ExactTotal, maxScanDocs)
	}
	if calls != maxScanDocs/1000 {
		t.Errorf("индекс вызван %d раз, ожидалось %d (батчи по 1000)", calls, maxScanDocs/1000)
	}
}

// TestSearchService_ShortPageTerminates — неполный батч завершает обход.
func TestSearchService_ShortPageTerminates(t *testing.T) {
	calls := 0
	index := &mockIndex{
		queryFn: func(_ context.Context, _, _ string, _, _ int) (*search.QueryResult, error) {
			calls++
			return &search.QueryResult{
				Hits:           []search.Hit{hit("only", 1, 0.9, 100)},
				EstimatedTotal: 1,
			}, nil
		},
	}
	svc := newSearchService(index, usCountryRepo(), &mockCategoryRepo{})

	result, err := svc.Search(context.Background(), "zzz", SearchFilters{CountryISO: "US"}, 20, 0)
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	if calls != 1 {
		t.Errorf("индекс вызван %d раз, ожидался 1 (неполный батч)", calls)
	}
	if result.ExactTotal != 1 {
		t.Errorf("ExactTotal = %d, ожидался 1", result.ExactTotal)
	}
}

// TestSearchService_CategoryExpansionDedup — id из exact-набора никогда
// не попадают в расширение по категории.
func TestSearchService_CategoryExpansionDedup(t *testing.T) {
	catRepo := &mockCategoryRepo{
		listActiveFn: func(_ context.Context) ([]*model.Category, error) {
			return []*model.Category{
				{ID: "cat-gov", Name: "Government", Slug: "government",
					Tags: []string{"gov"}, SortOrder: 1, IsActive: true},
			}, nil
		},
	}

	index := &mockIndex{
		queryFn: func(_ context.Context, _, _ string, _, _ int) (*search.QueryResult, error) {
			return &search.QueryResult{
				Hits: []search.Hit{
					hit("site-1", 1, 0.9, 300),
					hit("site-2", 2, 0.7, 200),
				},
			}, nil
		},
		browseFn: func(_ context.Context, _ string, _ []string, _, _ int) (*search.QueryResult, error) {
			return &search.QueryResult{
				Hits: []search.Hit{
					hit("site-2", 2, 0, 200), // дубликат exact-набора
					hit("site-3", 1, 0, 100),
					hit("site-4", 3, 0, 400),
				},
			}, nil
		},
	}
	svc := newSearchService(index, usCountryRepo(), catRepo)

	result, err := svc.Search(context.Background(), "government", SearchFilters{CountryISO: "US"}, 20, 0)
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	if result.DetectedCategory == nil || result.DetectedCategory.ID != "cat-gov" {
		t.Fatalf("DetectedCategory = %+v, ожидалась cat-gov", result.DetectedCategory)
	}
	if result.Total != 4 {
		t.Errorf("Total = %d, ожидался 4 (2 exact + 2 расширение)", result.Total)
	}

	exactIDs := make(map[string]struct{})
	for _, h := range result.Exact {
		exactIDs[h.ID] = struct{}{}
	}
	for _, h := range result.CategoryExpansion {
		if _, dup := exactIDs[h.ID]; dup {
			t.Errorf("документ %s присутствует и в exact, и в расширении", h.ID)
		}
	}

	// Порядок расширения: ранг приоритета, затем время создания по убыванию
	if len(result.CategoryExpansion) != 2 ||
		result.CategoryExpansion[0].ID != "site-3" ||
		result.CategoryExpansion[1].ID != "site-4" {
		t.Errorf("порядок расширения = %v, ожидался [site-3 site-4]", result.CategoryExpansion)
	}
}

// TestSearchService_PageAssembly — страница заполняется сперва из exact,
// затем из расширения со смещением offset-exactTotal.
func TestSearchService_PageAssembly(t *testing.T) {
	exact := []search.Hit{
		hit("e1", 1, 0.9, 300), hit("e2", 1, 0.8, 200), hit("e3", 2, 0.7, 100),
	}
	expansion := []search.Hit{
		hit("x1", 1, 0, 400), hit("x2", 2, 0, 300), hit("x3", 3, 0, 200),
	}

	tests := []struct {
		name          string
		limit, offset int
		wantHits      []string
	}{
		{"первая страница покрывает exact и часть расширения", 4, 0,
			[]string{"e1", "e2", "e3", "x1"}},
		{"страница целиком в exact", 2, 0, []string{"e1", "e2"}},
		{"страница на границе", 2, 2, []string{"e3", "x1"}},
		{"страница целиком в расширении", 2, 4, []string{"x2", "x3"}},
		{"offset за пределами данных", 10, 100, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := assemblePage(exact, expansion, tt.limit, tt.offset)

			if page.Total != 6 {
				t.Errorf("Total = %d, ожидался 6", page.Total)
			}
			if len(page.Hits) != len(tt.wantHits) {
				t.Fatalf("страница %d документов, ожидалось %d", len(page.Hits), len(tt.wantHits))
			}
			for i, id := range tt.wantHits {
				if page.Hits[i].ID != id {
					t.Errorf("позиция %d = %s, ожидался %s", i, page.Hits[i].ID, id)
				}
			}
		})
	}
}

// TestSearchService_ExplicitCategoryFilter — явная категория валидируется
// и попадает в фильтр exact-запроса.
func TestSearchService_ExplicitCategoryFilter(t *testing.T) {
	catRepo := &mockCategoryRepo{
		getByIDFn: func(_ context.Context, id string) (*model.Category, error) {
			return &model.Category{ID: id, Name: "Gov", Slug: "government", IsActive: true}, nil
		},
	}

	var gotFilter string
	index := &mockIndex{
		queryFn: func(_ context.Context, _, filter string, _, _ int) (*search.QueryResult, error) {
			gotFilter = filter
			return &search.QueryResult{}, nil
		},
		browseFn: func(_ context.Context, _ string, _ []string, _, _ int) (*search.QueryResult, error) {
			return &search.QueryResult{}, nil
		},
	}
	svc := newSearchService(index, usCountryRepo(), catRepo)

	catID := "cat-gov"
	_, err := svc.Search(context.Background(), "services", SearchFilters{
		CountryISO: "US",
		CategoryID: &catID,
	}, 20, 0)
	if err != nil {
		t.Fatalf("Search ошибка: %v", err)
	}

	want := `countryIso = "US" AND isApproved = false AND categoryId = "cat-gov"`
	if gotFilter != want {
		t.Errorf("фильтр = %q, ожидался %q", gotFilter, want)
	}
}

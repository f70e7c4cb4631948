// search.go — обработчик GET /api/v1/search.
// Разбор query-параметров, вызов SearchService, сериализация ответа.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/sitedir/directory-module/internal/api/errors"
	"github.com/bigkaa/sitedir/directory-module/internal/search"
	"github.com/bigkaa/sitedir/directory-module/internal/service"
)

// searchItem — элемент поисковой выдачи.
type searchItem struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	WebsiteURL       string  `json:"websiteUrl"`
	OrganizationID   string  `json:"organizationId,omitempty"`
	OrganizationName string  `json:"organizationName,omitempty"`
	PriorityRank     int     `json:"priorityRank"`
	CategoryID       string  `json:"categoryId,omitempty"`
	CategorySlug     string  `json:"categorySlug,omitempty"`
	CountryISO       string  `json:"countryIso"`
	StateID          string  `json:"stateId,omitempty"`
	CreatedAt        int64   `json:"createdAt"`
	Score            float64 `json:"score"`
	// Source — происхождение элемента: exact или category
	Source string `json:"source"`
}

// searchCategory — категория в ответе поиска.
type searchCategory struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// searchResponse — ответ GET /api/v1/search.
type searchResponse struct {
	Items            []searchItem    `json:"items"`
	Total            int             `json:"total"`
	ExactTotal       int             `json:"exactTotal"`
	Limit            int             `json:"limit"`
	Offset           int             `json:"offset"`
	CountryISO       string          `json:"countryIso"`
	DetectedCategory *searchCategory `json:"detectedCategory,omitempty"`
}

// handleSearch — реализация GET /api/v1/search.
// Параметры: q, country (обязателен), state, category, approved, limit, offset.
func (h *APIHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	country := q.Get("country")
	if country == "" {
		apierrors.ScopeInvalid(w, "Параметр country обязателен")
		return
	}

	filters := service.SearchFilters{
		CountryISO: country,
		IsApproved: true,
	}
	if v := q.Get("state"); v != "" {
		filters.StateID = &v
	}
	if v := q.Get("category"); v != "" {
		filters.CategoryID = &v
	}
	// approved=false — служебный режим просмотра неодобренных документов
	if q.Get("approved") == "false" {
		filters.IsApproved = false
	}

	limit, offset := paginationParams(r, 20, 100)

	result, err := h.searchSvc.Search(r.Context(), q.Get("q"), filters, limit, offset)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrScopeInvalid):
			apierrors.ScopeInvalid(w, "Страна не распознана: "+country)
		case errors.Is(err, service.ErrCategoryNotFound):
			apierrors.ValidationError(w, "Категория не найдена или неактивна")
		case errors.Is(err, service.ErrSearchUnavailable):
			apierrors.SearchUnavailable(w, "Поисковый индекс временно недоступен")
		default:
			h.logger.Error("Ошибка поиска",
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Внутренняя ошибка при поиске")
		}
		return
	}

	resp := searchResponse{
		Items:      make([]searchItem, 0, len(result.Hits)),
		Total:      result.Total,
		ExactTotal: result.ExactTotal,
		Limit:      limit,
		Offset:     offset,
		CountryISO: result.CountryISO,
	}
	for i := range result.Exact {
		resp.Items = append(resp.Items, hitToItem(&result.Exact[i], "exact"))
	}
	for i := range result.CategoryExpansion {
		resp.Items = append(resp.Items, hitToItem(&result.CategoryExpansion[i], "category"))
	}
	if result.DetectedCategory != nil {
		resp.DetectedCategory = &searchCategory{
			ID:   result.DetectedCategory.ID,
			Slug: result.DetectedCategory.Slug,
			Name: result.DetectedCategory.Name,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// hitToItem конвертирует документ индекса в элемент ответа.
func hitToItem(hit *search.Hit, source string) searchItem {
	return searchItem{
		ID:               hit.ID,
		Name:             hit.Name,
		WebsiteURL:       hit.WebsiteURL,
		OrganizationID:   hit.OrganizationID,
		OrganizationName: hit.OrganizationName,
		PriorityRank:     hit.PriorityRank,
		CategoryID:       hit.CategoryID,
		CategorySlug:     hit.CategorySlug,
		CountryISO:       hit.CountryISO,
		StateID:          hit.StateID,
		CreatedAt:        hit.CreatedAt,
		Score:            hit.RankingScore,
		Source:           source,
	}
}

// handler.go — основной обработчик API Directory Module.
// Объединяет health, search, organizations и audit обработчики,
// регистрирует маршруты chi.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/sitedir/directory-module/internal/service"
)

// APIHandler — основной обработчик API Directory Module.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	health       *HealthHandler
	searchSvc    *service.SearchService
	orgSvc       *service.OrganizationService
	entitlements *service.EntitlementService
	auditSvc     *service.AuditService
	indexer      *service.IndexerService
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	searchSvc *service.SearchService,
	orgSvc *service.OrganizationService,
	entitlements *service.EntitlementService,
	auditSvc *service.AuditService,
	indexer *service.IndexerService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:       health,
		searchSvc:    searchSvc,
		orgSvc:       orgSvc,
		entitlements: entitlements,
		auditSvc:     auditSvc,
		indexer:      indexer,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует все маршруты API на переданном роутере.
func (h *APIHandler) Routes(r chi.Router) {
	// Health и метрики
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	// Публичный поиск
	r.Get("/api/v1/search", h.handleSearch)

	// Администрирование организаций
	r.Route("/api/v1/organizations", func(r chi.Router) {
		r.Post("/", h.handleCreateOrganization)
		r.Get("/", h.handleListOrganizations)
		r.Post("/bulk/plan", h.handleBulkUpdatePlan)
		r.Post("/bulk/delete", h.handleBulkSoftDelete)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetOrganization)
			r.Delete("/", h.handleDeleteOrganization)
			r.Put("/plan", h.handleUpdatePlan)
			r.Put("/priority", h.handleSetPriority)
			r.Put("/restriction", h.handleSetRestriction)
			r.Put("/approval", h.handleSetApproval)
			r.Post("/restore", h.handleRestoreOrganization)
			r.Post("/trial", h.handleStartTrial)
			r.Get("/entitlements", h.handleGetEntitlements)
			r.Post("/reindex", h.handleReindexOrganization)
		})
	})

	// Журнал аудита
	r.Route("/api/v1/audit", func(r chi.Router) {
		r.Get("/", h.handleListAudit)
		r.Get("/verify", h.handleVerifyAuditChain)
		r.Get("/export", h.handleExportAudit)
	})

	// Служебные операции
	r.Post("/api/v1/admin/reindex", h.handleReindexAll)
	r.Post("/api/v1/admin/trials/expire", h.handleExpireTrials)
	r.Post("/api/v1/admin/audit/retention", h.handleAuditRetention)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationParams извлекает limit и offset из query-параметров.
// Некорректные значения тихо заменяются значениями по умолчанию.
func paginationParams(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}

// actorFromRequest извлекает администратора из заголовков запроса.
// Идентичность проставляет API Gateway; при отсутствии заголовков
// операция записывается в аудит от имени system.
func actorFromRequest(r *http.Request) service.Actor {
	actor := service.Actor{
		ID:   r.Header.Get("X-Admin-Id"),
		Role: r.Header.Get("X-Admin-Role"),
	}
	if actor.ID == "" {
		actor.ID = "system"
	}
	if actor.Role == "" {
		actor.Role = "system"
	}
	return actor
}

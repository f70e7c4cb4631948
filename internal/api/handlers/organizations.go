// organizations.go — обработчики администрирования организаций.
// CRUD, управление планом и приоритетом, модерация, триалы,
// bulk-операции и реиндексация.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/sitedir/directory-module/internal/api/errors"
	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/service"
)

// organizationResponse — организация в ответах API.
type organizationResponse struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	PlanType                string     `json:"planType"`
	PlanStatus              string     `json:"planStatus"`
	PlanStartAt             *time.Time `json:"planStartAt,omitempty"`
	PaidTermEndAt           *time.Time `json:"paidTermEndAt,omitempty"`
	GraceSuppressed         bool       `json:"graceSuppressed"`
	ManualPriority          string     `json:"manualPriority"`
	ManualPriorityExpiresAt *time.Time `json:"manualPriorityExpiresAt,omitempty"`
	PriorityOverride        *int       `json:"priorityOverride,omitempty"`
	IsRestricted            bool       `json:"isRestricted"`
	Status                  string     `json:"status"`
	SupportTier             string     `json:"supportTier"`
	DeletedAt               *time.Time `json:"deletedAt,omitempty"`
	CreatedAt               time.Time  `json:"createdAt"`
	UpdatedAt               time.Time  `json:"updatedAt"`
}

// entitlementsResponse — набор прав организации.
type entitlementsResponse struct {
	CanShowBadge     bool   `json:"canShowBadge"`
	CanAccessOrgPage bool   `json:"canAccessOrgPage"`
	AnalyticsLevel   string `json:"analyticsLevel"`
	CanExportReports bool   `json:"canExportReports"`
	SupportTier      string `json:"supportTier"`
	PriorityLevel    string `json:"priorityLevel"`
	IsExpired        bool   `json:"isExpired"`
	IsInGrace        bool   `json:"isInGrace"`
	IsTrial          bool   `json:"isTrial"`
}

// trialResponse — триал-сессия в ответах API.
type trialResponse struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Status         string    `json:"status"`
	EndsAt         time.Time `json:"endsAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// reindexFailureItem — ошибка реиндексации одного сайта.
type reindexFailureItem struct {
	SiteID string `json:"siteId"`
	Error  string `json:"error"`
}

// mutationResponse — итог мутирующей операции.
type mutationResponse struct {
	Status          string               `json:"status"`
	ReindexFailures []reindexFailureItem `json:"reindexFailures,omitempty"`
}

// bulkResponse — итог bulk-операции.
type bulkResponse struct {
	Updated         int                  `json:"updated"`
	ReindexFailures []reindexFailureItem `json:"reindexFailures,omitempty"`
}

// --- Запросы ---

// createOrganizationRequest — тело POST /api/v1/organizations.
type createOrganizationRequest struct {
	Name          string     `json:"name"`
	PlanType      string     `json:"planType"`
	PaidTermEndAt *time.Time `json:"paidTermEndAt"`
}

// planChangeRequest — тело PUT .../plan и bulk/plan.
type planChangeRequest struct {
	PlanType         string     `json:"planType"`
	PaidTermEndAt    *time.Time `json:"paidTermEndAt"`
	SupportTier      string     `json:"supportTier"`
	PriorityOverride *int       `json:"priorityOverride"`
}

// priorityRequest — тело PUT .../priority.
type priorityRequest struct {
	Priority  string     `json:"priority"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// restrictionRequest — тело PUT .../restriction.
type restrictionRequest struct {
	Restricted bool `json:"restricted"`
}

// approvalRequest — тело PUT .../approval.
type approvalRequest struct {
	Status string `json:"status"`
}

// trialRequest — тело POST .../trial.
type trialRequest struct {
	DurationDays int `json:"durationDays"`
}

// bulkPlanRequest — тело POST bulk/plan.
type bulkPlanRequest struct {
	IDs  []string          `json:"ids"`
	Plan planChangeRequest `json:"plan"`
}

// bulkDeleteRequest — тело POST bulk/delete.
type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// --- Обработчики ---

// handleCreateOrganization — POST /api/v1/organizations.
func (h *APIHandler) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	org, err := h.orgSvc.Create(r.Context(), actorFromRequest(r), service.CreateOrganizationInput{
		Name:          req.Name,
		PlanType:      model.PlanType(req.PlanType),
		PaidTermEndAt: req.PaidTermEndAt,
	})
	if err != nil {
		h.writeOrgError(w, err, "создание организации")
		return
	}

	writeJSON(w, http.StatusCreated, orgToResponse(org))
}

// handleListOrganizations — GET /api/v1/organizations.
func (h *APIHandler) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r, 50, 500)

	orgs, err := h.orgSvc.List(r.Context(), limit, offset)
	if err != nil {
		h.writeOrgError(w, err, "список организаций")
		return
	}

	items := make([]organizationResponse, 0, len(orgs))
	for _, org := range orgs {
		items = append(items, orgToResponse(org))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetOrganization — GET /api/v1/organizations/{id}.
func (h *APIHandler) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgSvc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeOrgError(w, err, "получение организации")
		return
	}

	writeJSON(w, http.StatusOK, orgToResponse(org))
}

// handleUpdatePlan — PUT /api/v1/organizations/{id}/plan.
func (h *APIHandler) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req planChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	failures, err := h.orgSvc.UpdatePlan(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), planChangeFromRequest(req))
	if err != nil {
		h.writeOrgError(w, err, "смена плана")
		return
	}

	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleSetPriority — PUT /api/v1/organizations/{id}/priority.
func (h *APIHandler) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	failures, err := h.orgSvc.SetManualPriority(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"),
		model.PriorityLevel(req.Priority), req.ExpiresAt)
	if err != nil {
		h.writeOrgError(w, err, "смена приоритета")
		return
	}

	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleSetRestriction — PUT /api/v1/organizations/{id}/restriction.
func (h *APIHandler) handleSetRestriction(w http.ResponseWriter, r *http.Request) {
	var req restrictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	failures, err := h.orgSvc.SetRestricted(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"), req.Restricted)
	if err != nil {
		h.writeOrgError(w, err, "смена ограничения")
		return
	}

	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleSetApproval — PUT /api/v1/organizations/{id}/approval.
func (h *APIHandler) handleSetApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}

	failures, err := h.orgSvc.SetApprovalStatus(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"),
		model.ApprovalStatus(req.Status))
	if err != nil {
		h.writeOrgError(w, err, "смена статуса модерации")
		return
	}

	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleDeleteOrganization — DELETE /api/v1/organizations/{id}.
// По умолчанию — soft delete. Параметр ?hard=true выполняет
// невосстановимое удаление с каскадом по сайтам.
func (h *APIHandler) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := actorFromRequest(r)

	if r.URL.Query().Get("hard") == "true" {
		if err := h.orgSvc.HardDelete(r.Context(), actor, id); err != nil {
			h.writeOrgError(w, err, "удаление организации")
			return
		}
		writeJSON(w, http.StatusOK, mutationResponse{Status: "ok"})
		return
	}

	failures, err := h.orgSvc.SoftDelete(r.Context(), actor, id)
	if err != nil {
		h.writeOrgError(w, err, "удаление организации")
		return
	}

	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleRestoreOrganization — POST /api/v1/organizations/{id}/restore.
func (h *APIHandler) handleRestoreOrganization(w http.ResponseWriter, r *http.Request) {
	failures, err := h.orgSvc.Restore(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"))
	if err != nil {
		h.writeOrgError(w, err, "восстановление организации")
		return
	}

	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleStartTrial — POST /api/v1/organizations/{id}/trial.
func (h *APIHandler) handleStartTrial(w http.ResponseWriter, r *http.Request) {
	// Тело необязательно: без него триал запускается на 14 дней
	var req trialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.DurationDays == 0 {
		req.DurationDays = 14
	}

	trial, err := h.orgSvc.StartTrial(r.Context(), actorFromRequest(r), chi.URLParam(r, "id"),
		time.Duration(req.DurationDays)*24*time.Hour)
	if err != nil {
		h.writeOrgError(w, err, "запуск триала")
		return
	}

	writeJSON(w, http.StatusCreated, trialResponse{
		ID:             trial.ID,
		OrganizationID: trial.OrganizationID,
		Status:         string(trial.Status),
		EndsAt:         trial.EndsAt,
		CreatedAt:      trial.CreatedAt,
	})
}

// handleGetEntitlements — GET /api/v1/organizations/{id}/entitlements.
func (h *APIHandler) handleGetEntitlements(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.entitlements.Resolve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeOrgError(w, err, "вычисление прав")
		return
	}

	writeJSON(w, http.StatusOK, entitlementsResponse{
		CanShowBadge:     bundle.CanShowBadge,
		CanAccessOrgPage: bundle.CanAccessOrgPage,
		AnalyticsLevel:   string(bundle.AnalyticsLevel),
		CanExportReports: bundle.CanExportReports,
		SupportTier:      string(bundle.SupportTier),
		PriorityLevel:    string(bundle.PriorityLevel),
		IsExpired:        bundle.IsExpired,
		IsInGrace:        bundle.IsInGrace,
		IsTrial:          bundle.IsTrial,
	})
}

// handleReindexOrganization — POST /api/v1/organizations/{id}/reindex.
func (h *APIHandler) handleReindexOrganization(w http.ResponseWriter, r *http.Request) {
	failures := h.indexer.ReindexOrganization(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, okMutation(failures))
}

// handleBulkUpdatePlan — POST /api/v1/organizations/bulk/plan.
func (h *APIHandler) handleBulkUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req bulkPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if len(req.IDs) == 0 {
		apierrors.ValidationError(w, "Список ids не может быть пустым")
		return
	}

	result, err := h.orgSvc.BulkUpdatePlan(r.Context(), actorFromRequest(r), req.IDs, planChangeFromRequest(req.Plan))
	if err != nil {
		h.writeOrgError(w, err, "bulk-смена плана")
		return
	}

	writeJSON(w, http.StatusOK, bulkResponse{
		Updated:         result.Updated,
		ReindexFailures: failuresToItems(result.ReindexFailures),
	})
}

// handleBulkSoftDelete — POST /api/v1/organizations/bulk/delete.
func (h *APIHandler) handleBulkSoftDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if len(req.IDs) == 0 {
		apierrors.ValidationError(w, "Список ids не может быть пустым")
		return
	}

	result, err := h.orgSvc.BulkSoftDelete(r.Context(), actorFromRequest(r), req.IDs)
	if err != nil {
		h.writeOrgError(w, err, "bulk-удаление")
		return
	}

	writeJSON(w, http.StatusOK, bulkResponse{
		Updated:         result.Updated,
		ReindexFailures: failuresToItems(result.ReindexFailures),
	})
}

// handleReindexAll — POST /api/v1/admin/reindex.
// Полная реиндексация каталога, выполняется синхронно.
func (h *APIHandler) handleReindexAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.indexer.ReindexAll(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrSearchUnavailable) {
			apierrors.SearchUnavailable(w, "Поисковый индекс временно недоступен")
			return
		}
		h.logger.Error("Ошибка полной реиндексации",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при реиндексации")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scanned":     report.Scanned,
		"upserted":    report.Upserted,
		"removed":     report.Removed,
		"startedAt":   report.StartedAt,
		"completedAt": report.CompletedAt,
	})
}

// handleExpireTrials — POST /api/v1/admin/trials/expire.
// Помечает истёкшие триальные сессии статусом EXPIRED.
func (h *APIHandler) handleExpireTrials(w http.ResponseWriter, r *http.Request) {
	marked, err := h.orgSvc.ExpireTrials(r.Context())
	if err != nil {
		h.writeOrgError(w, err, "завершение триалов")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"expired": marked})
}

// --- Вспомогательные функции ---

// writeOrgError транслирует ошибки сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeOrgError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrOrganizationNotFound):
		apierrors.NotFound(w, "Организация не найдена")
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrSearchUnavailable):
		apierrors.SearchUnavailable(w, "Поисковый индекс временно недоступен")
	default:
		h.logger.Error("Ошибка операции с организацией",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}

// planChangeFromRequest конвертирует тело запроса в service.PlanChange.
func planChangeFromRequest(req planChangeRequest) service.PlanChange {
	return service.PlanChange{
		PlanType:         model.PlanType(req.PlanType),
		PaidTermEndAt:    req.PaidTermEndAt,
		SupportTier:      model.SupportTier(req.SupportTier),
		PriorityOverride: req.PriorityOverride,
	}
}

// okMutation строит ответ успешной мутации с ошибками реиндексации.
func okMutation(failures []service.ReindexFailure) mutationResponse {
	return mutationResponse{
		Status:          "ok",
		ReindexFailures: failuresToItems(failures),
	}
}

// failuresToItems конвертирует ошибки реиндексации в элементы ответа.
func failuresToItems(failures []service.ReindexFailure) []reindexFailureItem {
	if len(failures) == 0 {
		return nil
	}
	items := make([]reindexFailureItem, 0, len(failures))
	for _, f := range failures {
		items = append(items, reindexFailureItem{SiteID: f.SiteID, Error: f.Error})
	}
	return items
}

// orgToResponse конвертирует доменную модель в ответ API.
func orgToResponse(org *model.Organization) organizationResponse {
	return organizationResponse{
		ID:                      org.ID,
		Name:                    org.Name,
		PlanType:                string(org.PlanType),
		PlanStatus:              string(org.PlanStatus),
		PlanStartAt:             org.PlanStartAt,
		PaidTermEndAt:           org.PaidTermEndAt,
		GraceSuppressed:         org.GraceSuppressed,
		ManualPriority:          string(org.ManualPriority),
		ManualPriorityExpiresAt: org.ManualPriorityExpiresAt,
		PriorityOverride:        org.PriorityOverride,
		IsRestricted:            org.IsRestricted,
		Status:                  string(org.Status),
		SupportTier:             string(org.SupportTier),
		DeletedAt:               org.DeletedAt,
		CreatedAt:               org.CreatedAt,
		UpdatedAt:               org.UpdatedAt,
	}
}

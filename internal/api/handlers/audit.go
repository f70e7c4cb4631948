// audit.go — обработчики журнала аудита.
// Листинг с фильтрами, проверка хэш-цепочки, экспорт CSV/JSON.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/sitedir/directory-module/internal/api/errors"
	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
)

// auditEntryResponse — запись журнала аудита в ответах API.
type auditEntryResponse struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actorId"`
	ActorRole   string    `json:"actorRole"`
	Action      string    `json:"action"`
	Entity      string    `json:"entity"`
	TargetID    string    `json:"targetId"`
	Details     string    `json:"details"`
	PrevHash    string    `json:"prevHash"`
	CurrentHash string    `json:"currentHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// auditListResponse — ответ GET /api/v1/audit.
type auditListResponse struct {
	Items  []auditEntryResponse `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// chainReportResponse — ответ GET /api/v1/audit/verify.
type chainReportResponse struct {
	IsValid      bool `json:"isValid"`
	Checked      int  `json:"checked"`
	LinkMismatch int  `json:"linkMismatch"`
	HashMismatch int  `json:"hashMismatch"`
	LegacyCount  int  `json:"legacyCount"`
}

// handleListAudit — GET /api/v1/audit.
// Фильтры: actor, entity, action, target, since, until (RFC3339).
func (h *APIHandler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filters, err := auditFiltersFromRequest(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	limit, offset := paginationParams(r, 50, 500)

	entries, total, err := h.auditSvc.List(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("Ошибка выборки журнала аудита",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при выборке журнала")
		return
	}

	resp := auditListResponse{
		Items:  make([]auditEntryResponse, 0, len(entries)),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}
	for _, e := range entries {
		resp.Items = append(resp.Items, auditEntryToResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleVerifyAuditChain — GET /api/v1/audit/verify.
// Параметр limit ограничивает количество проверяемых записей.
func (h *APIHandler) handleVerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			apierrors.ValidationError(w, "Параметр limit должен быть положительным числом")
			return
		}
		limit = v
	}

	report, err := h.auditSvc.VerifyChain(r.Context(), limit)
	if err != nil {
		h.logger.Error("Ошибка проверки хэш-цепочки",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при проверке цепочки")
		return
	}

	writeJSON(w, http.StatusOK, chainReportResponse{
		IsValid:      report.IsValid,
		Checked:      report.Checked,
		LinkMismatch: report.LinkMismatch,
		HashMismatch: report.HashMismatch,
		LegacyCount:  report.LegacyCount,
	})
}

// handleExportAudit — GET /api/v1/audit/export?format=csv|json.
func (h *APIHandler) handleExportAudit(w http.ResponseWriter, r *http.Request) {
	filters, err := auditFiltersFromRequest(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
		_, err = h.auditSvc.ExportCSV(r.Context(), filters, w)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="audit.json"`)
		_, err = h.auditSvc.ExportJSON(r.Context(), filters, w)
	default:
		apierrors.ValidationError(w, "Неизвестный формат экспорта: "+format)
		return
	}

	if err != nil {
		// Заголовки уже отправлены — логируем, ответ не переписываем
		h.logger.Error("Ошибка экспорта журнала аудита",
			slog.String("format", format),
			slog.String("error", err.Error()),
		)
	}
}

// handleAuditRetention — POST /api/v1/admin/audit/retention.
// Удаляет записи журнала старше maxAgeDays (retention по возрасту,
// никогда по содержимому).
func (h *APIHandler) handleAuditRetention(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("maxAgeDays"))
	if err != nil || days < 1 {
		apierrors.ValidationError(w, "Параметр maxAgeDays должен быть положительным числом")
		return
	}

	deleted, err := h.auditSvc.Retention(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.Error("Ошибка retention журнала аудита",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при очистке журнала")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// auditFiltersFromRequest извлекает фильтры журнала из query-параметров.
func auditFiltersFromRequest(r *http.Request) (repository.AuditListFilters, error) {
	q := r.URL.Query()
	var filters repository.AuditListFilters

	if v := q.Get("actor"); v != "" {
		filters.ActorID = &v
	}
	if v := q.Get("entity"); v != "" {
		filters.Entity = &v
	}
	if v := q.Get("action"); v != "" {
		filters.Action = &v
	}
	if v := q.Get("target"); v != "" {
		filters.TargetID = &v
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errValidationParam("since")
		}
		filters.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, errValidationParam("until")
		}
		filters.Until = &t
	}
	return filters, nil
}

// errValidationParam — ошибка разбора временного параметра.
type errValidationParam string

func (e errValidationParam) Error() string {
	return "Параметр " + string(e) + " должен быть в формате RFC3339"
}

// auditEntryToResponse конвертирует запись журнала в ответ API.
func auditEntryToResponse(e *model.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:          e.ID,
		ActorID:     e.ActorID,
		ActorRole:   e.ActorRole,
		Action:      e.Action,
		Entity:      e.Entity,
		TargetID:    e.TargetID,
		Details:     e.Details,
		PrevHash:    e.PrevHash,
		CurrentHash: e.CurrentHash,
		CreatedAt:   e.CreatedAt,
	}
}

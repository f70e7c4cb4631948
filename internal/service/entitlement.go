// entitlement.go — вычисление прав организации из плана, триала и ограничений.
// ResolveEntitlements — чистая функция; EntitlementService добавляет
// единственный побочный эффект: идемпотентный авто-даунгрейд истёкшего плана.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
)

// proBoostWindow — окно повышенного приоритета после старта плана PRO.
const proBoostWindow = 30 * 24 * time.Hour

// Prometheus-метрики резолвера прав.
var (
	autoDowngradeTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_auto_downgrade_total",
		Help: "Общее количество авто-даунгрейдов истёкших планов.",
	})
)

// ResolveEntitlements вычисляет набор прав организации на момент now.
// trial может быть nil (триалов не было). Чистая функция без I/O.
func ResolveEntitlements(org *model.Organization, trial *model.TrialSession, lc model.Lifecycle, now time.Time) model.EntitlementBundle {
	trialActive := trial.IsActiveAt(now)
	activePaid := org.PlanType != model.PlanFree &&
		org.PlanStatus == model.PlanStatusActive &&
		!lc.IsExpired

	effectivePlan := model.PlanFree
	switch {
	case activePaid:
		effectivePlan = org.PlanType
	case trialActive:
		effectivePlan = model.PlanPro
	}

	approved := org.IsApproved()
	visible := approved && !org.IsRestricted

	bundle := model.EntitlementBundle{
		SupportTier: org.SupportTier,
		IsExpired:   lc.IsExpired,
		IsInGrace:   lc.IsInGrace,
		IsTrial:     !activePaid && trialActive,
	}
	if !activePaid {
		bundle.SupportTier = model.SupportNone
	}

	// Доступы — монотонные функции эффективного плана
	if visible && effectivePlan != model.PlanFree {
		bundle.CanShowBadge = true
		bundle.CanAccessOrgPage = true
	}
	switch effectivePlan {
	case model.PlanBasic:
		bundle.AnalyticsLevel = model.AnalyticsBasic
	case model.PlanPro:
		bundle.AnalyticsLevel = model.AnalyticsAdvanced
		// Триальный PRO разрешает просмотр, но не экспорт
		bundle.CanExportReports = activePaid
	case model.PlanBusiness, model.PlanEnterprise:
		bundle.AnalyticsLevel = model.AnalyticsBusiness
		bundle.CanExportReports = true
	default:
		bundle.AnalyticsLevel = model.AnalyticsNone
	}

	bundle.PriorityLevel = computePriority(org, trialActive, activePaid, now)
	return bundle
}

// computePriority вычисляет итоговый приоритет организации в выдаче.
func computePriority(org *model.Organization, trialActive, activePaid bool, now time.Time) model.PriorityLevel {
	// Немодерированные и ограниченные организации — всегда LOW
	if !org.IsApproved() || org.IsRestricted {
		return model.PriorityLow
	}

	if !activePaid {
		if trialActive {
			return model.PriorityNormal
		}
		return model.PriorityLow
	}

	var computed model.PriorityLevel
	enterpriseAbsolute := false

	switch org.PlanType {
	case model.PlanEnterprise:
		// Override абсолютен и не сливается с ручным приоритетом
		enterpriseAbsolute = true
		computed = enterprisePriority(org.PriorityOverride)
	case model.PlanBusiness:
		computed = model.PriorityHigh
	case model.PlanPro:
		computed = model.PriorityNormal
		if org.PlanStartAt != nil && now.Sub(*org.PlanStartAt) <= proBoostWindow {
			computed = model.PriorityHigh
		}
	case model.PlanBasic:
		computed = model.PriorityNormal
	default:
		computed = model.PriorityLow
	}

	if enterpriseAbsolute {
		return computed
	}

	// Слияние с ручным приоритетом по максимуму веса.
	// Истёкший ручной приоритет деградирует до NORMAL до слияния.
	manual := org.ManualPriority
	if !manual.Valid() {
		manual = model.PriorityNormal
	}
	if org.ManualPriorityExpiresAt != nil && now.After(*org.ManualPriorityExpiresAt) {
		manual = model.PriorityNormal
	}
	return model.MaxPriority(computed, manual)
}

// enterprisePriority переводит числовой override ENTERPRISE в уровень.
// nil или >=3 — HIGH, >=2 — MEDIUM, >=1 — NORMAL, иначе LOW.
func enterprisePriority(override *int) model.PriorityLevel {
	if override == nil {
		return model.PriorityHigh
	}
	switch {
	case *override >= 3:
		return model.PriorityHigh
	case *override >= 2:
		return model.PriorityMedium
	case *override >= 1:
		return model.PriorityNormal
	default:
		return model.PriorityLow
	}
}

// EntitlementService — резолвер прав с доступом к хранилищу.
// Единственная мутация — авто-даунгрейд истёкшего плана при чтении.
type EntitlementService struct {
	orgRepo   repository.OrganizationRepository
	trialRepo repository.TrialRepository
	logger    *slog.Logger

	// now переопределяется в тестах
	now func() time.Time
}

// NewEntitlementService создаёт резолвер прав.
func NewEntitlementService(
	orgRepo repository.OrganizationRepository,
	trialRepo repository.TrialRepository,
	logger *slog.Logger,
) *EntitlementService {
	return &EntitlementService{
		orgRepo:   orgRepo,
		trialRepo: trialRepo,
		logger:    logger.With(slog.String("component", "entitlement_service")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Resolve вычисляет права организации по её id.
// Если оплаченный план истёк, организация прозрачно переводится на
// FREE/EXPIRED (идемпотентная запись фиксированных значений); возвращаемый
// bundle при этом уже отражает истёкшее состояние.
func (s *EntitlementService) Resolve(ctx context.Context, orgID string) (*model.EntitlementBundle, error) {
	org, err := s.orgRepo.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("получение организации: %w", err)
	}
	return s.ResolveForOrganization(ctx, org)
}

// ResolveForOrganization вычисляет права уже загруженной организации.
func (s *EntitlementService) ResolveForOrganization(ctx context.Context, org *model.Organization) (*model.EntitlementBundle, error) {
	now := s.now()

	trial, err := s.trialRepo.GetLatestByOrganization(ctx, org.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("получение триала организации: %w", err)
	}

	lc := ComputeLifecycle(org.PlanType, org.PaidTermEndAt, now, org.GraceSuppressed)

	// Авто-даунгрейд истёкшего плана при чтении
	if org.PlanType != model.PlanFree && lc.IsExpired {
		if err := s.orgRepo.Downgrade(ctx, org.ID); err != nil {
			return nil, fmt.Errorf("авто-даунгрейд организации %s: %w", org.ID, err)
		}
		autoDowngradeTotal.Inc()
		s.logger.Info("Истёкший план переведён на FREE",
			slog.String("organization_id", org.ID),
			slog.String("plan_type", string(org.PlanType)),
		)

		org.PlanType = model.PlanFree
		org.PlanStatus = model.PlanStatusExpired
		org.PlanStartAt = nil
		org.PaidTermEndAt = nil
		org.SupportTier = model.SupportNone
		org.PriorityOverride = nil
	}

	bundle := ResolveEntitlements(org, trial, lc, now)
	return &bundle, nil
}

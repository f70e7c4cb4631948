// lifecycle.go — вычисление жизненного цикла оплаченного плана.
// Чистая функция без I/O: грейс-период и факт истечения выводятся
// из типа плана, конца оплаченного периода и текущего времени.
package service

import (
	"time"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
)

// graceDaysByPlan — длительность грейс-периода по типам планов.
var graceDaysByPlan = map[model.PlanType]int{
	model.PlanBasic:      7,
	model.PlanPro:        7,
	model.PlanBusiness:   7,
	model.PlanEnterprise: 14,
}

// ComputeLifecycle вычисляет состояние жизненного цикла плана на момент now.
//
// Правила:
//   - paidTermEndAt == nil — план без фиксированного срока, не истекает;
//   - graceSuppressed принудительно обнуляет грейс-период (срок организации
//     синхронизируется управляющим enterprise-аккаунтом);
//   - now <= paidTermEndAt — план активен, GraceEndsAt вычисляется для показа;
//   - now > paidTermEndAt при grace=0 — истёк немедленно;
//   - now > paidTermEndAt при grace>0 — в грейс-периоде до paidTermEndAt+grace
//     включительно, после — истёк.
func ComputeLifecycle(planType model.PlanType, paidTermEndAt *time.Time, now time.Time, graceSuppressed bool) model.Lifecycle {
	if paidTermEndAt == nil {
		return model.Lifecycle{}
	}

	graceDays := graceDaysByPlan[planType]
	if graceSuppressed {
		graceDays = 0
	}

	var graceEndsAt *time.Time
	if graceDays > 0 {
		t := paidTermEndAt.Add(time.Duration(graceDays) * 24 * time.Hour)
		graceEndsAt = &t
	}

	// Срок ещё не истёк
	if !now.After(*paidTermEndAt) {
		return model.Lifecycle{
			GraceDays:   graceDays,
			GraceEndsAt: graceEndsAt,
		}
	}

	// Срок истёк, грейс-периода нет
	if graceDays == 0 {
		return model.Lifecycle{IsExpired: true}
	}

	inGrace := !now.After(*graceEndsAt)
	return model.Lifecycle{
		GraceDays:   graceDays,
		GraceEndsAt: graceEndsAt,
		IsInGrace:   inGrace,
		IsExpired:   !inGrace,
	}
}

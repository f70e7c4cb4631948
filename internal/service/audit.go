// audit.go — журнал аудита с хэш-цепочкой.
// Каждая запись через SHA-256 коммитит хэш предыдущей записи и собственные
// поля; VerifyChain обнаруживает изменение и вставку вне порядка replay'ем
// от старых записей к новым.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/sitedir/directory-module/internal/domain/model"
	"github.com/bigkaa/sitedir/directory-module/internal/repository"
)

// genesisHash — sentinel PrevHash первой записи цепочки.
const genesisHash = "GENESIS"

// maxExportRecords — предел записей в одном вызове экспорта.
const maxExportRecords = 5000

// Prometheus-метрики журнала аудита.
var (
	auditAppendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_audit_append_total",
		Help: "Общее количество добавлений в журнал аудита.",
	}, []string{"status"}) // status: ok, error
	auditChainMismatches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dm_audit_chain_mismatches",
		Help: "Расхождения, найденные последней проверкой цепочки аудита.",
	}, []string{"kind"}) // kind: hash, link
)

// AuditRecord — входные данные для добавления записи журнала.
type AuditRecord struct {
	// ActorID — идентификатор действующего лица
	ActorID string
	// ActorRole — роль действующего лица
	ActorRole string
	// Action — вид действия (e.g. "organization.update_plan")
	Action string
	// Entity — имя сущности (e.g. "organization")
	Entity string
	// TargetID — идентификатор целевой записи
	TargetID string
	// Details — свободный текст с деталями действия
	Details string
	// Snapshot — структурированный снимок изменения (сериализуется в JSON)
	Snapshot any
}

// AuditService — журнал аудита с хэш-цепочкой.
type AuditService struct {
	repo   repository.AuditLogRepository
	logger *slog.Logger

	// entropy для генерации ULID; ulid.Monotonic не потокобезопасен
	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	// now переопределяется в тестах
	now func() time.Time
}

// NewAuditService создаёт журнал аудита.
func NewAuditService(repo repository.AuditLogRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:    repo,
		logger:  logger.With(slog.String("component", "audit_service")),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// computeHash вычисляет CurrentHash записи:
// SHA256(prevHash | actorId | role | action | entity | targetId | isoTimestamp | details).
func computeHash(prevHash, actorID, role, action, entity, targetID, isoTimestamp, details string) string {
	payload := strings.Join([]string{
		prevHash, actorID, role, action, entity, targetID, isoTimestamp, details,
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Append добавляет запись в журнал: читает CurrentHash последней записи
// (genesis-sentinel для пустого журнала), вычисляет хэш новой записи
// и сохраняет её.
//
// Конкурентные добавления могут породить две записи с одинаковым PrevHash —
// допустимо для журнала, чья проверка целостности ровно это и обнаружит.
func (s *AuditService) Append(ctx context.Context, rec AuditRecord) (*model.AuditEntry, error) {
	prevHash := genesisHash
	last, err := s.repo.GetLast(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		auditAppendTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("получение последней записи журнала: %w", err)
	}
	if last != nil && last.CurrentHash != "" {
		prevHash = last.CurrentHash
	}

	now := s.now()

	var snapshot []byte
	if rec.Snapshot != nil {
		snapshot, err = json.Marshal(rec.Snapshot)
		if err != nil {
			auditAppendTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("сериализация snapshot: %w", err)
		}
	}

	entry := &model.AuditEntry{
		ID:          s.newULID(now),
		ActorID:     rec.ActorID,
		ActorRole:   rec.ActorRole,
		Action:      rec.Action,
		Entity:      rec.Entity,
		TargetID:    rec.TargetID,
		Details:     rec.Details,
		Snapshot:    snapshot,
		PrevHash:    prevHash,
		CreatedAt:   now,
		CurrentHash: computeHash(prevHash, rec.ActorID, rec.ActorRole, rec.Action,
			rec.Entity, rec.TargetID, now.Format(time.RFC3339Nano), rec.Details),
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		auditAppendTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("добавление записи журнала: %w", err)
	}

	auditAppendTotal.WithLabelValues("ok").Inc()
	return entry, nil
}

// AppendBestEffort добавляет запись, логируя ошибку вместо её возврата.
// Журнал не связан транзакционно с бизнес-мутацией: сбой добавления
// не откатывает и не проваливает операцию, которую документирует.
func (s *AuditService) AppendBestEffort(ctx context.Context, rec AuditRecord) {
	if _, err := s.Append(ctx, rec); err != nil {
		s.logger.Error("Запись аудита потеряна",
			slog.String("action", rec.Action),
			slog.String("entity", rec.Entity),
			slog.String("target_id", rec.TargetID),
			slog.String("error", err.Error()),
		)
	}
}

// VerifyChain проверяет целостность цепочки replay'ем от старых записей
// к новым. Ожидаемый хэш каждой записи пересчитывается от предыдущей
// записи, реально встреченной в replay, а не от сохранённого PrevHash:
//   - HashMismatch — сохранённый CurrentHash не совпадает с пересчитанным
//     (изменены поля записи);
//   - LinkMismatch — сохранённый PrevHash расходится с ожидаемым по replay
//     (вставка вне порядка или подмена, независимо от корректности хэша).
//
// Записи без хэшей (до включения цепочки) считаются отдельно и не ломают
// проверку. Расхождения возвращаются как данные, не как ошибка.
func (s *AuditService) VerifyChain(ctx context.Context, limit int) (*model.ChainReport, error) {
	if limit <= 0 || limit > maxExportRecords {
		limit = maxExportRecords
	}

	entries, err := s.repo.ListOldest(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("выборка журнала для проверки: %w", err)
	}

	report := &model.ChainReport{}
	expectedPrev := genesisHash

	for _, e := range entries {
		if e.CurrentHash == "" {
			report.LegacyCount++
			continue
		}
		report.Checked++

		if e.PrevHash != expectedPrev {
			report.LinkMismatch++
		}

		recomputed := computeHash(expectedPrev, e.ActorID, e.ActorRole, e.Action,
			e.Entity, e.TargetID, e.CreatedAt.Format(time.RFC3339Nano), e.Details)
		if recomputed != e.CurrentHash {
			report.HashMismatch++
		}

		expectedPrev = e.CurrentHash
	}

	report.IsValid = report.HashMismatch == 0 && report.LinkMismatch == 0

	auditChainMismatches.WithLabelValues("hash").Set(float64(report.HashMismatch))
	auditChainMismatches.WithLabelValues("link").Set(float64(report.LinkMismatch))

	if !report.IsValid {
		s.logger.Warn("Проверка цепочки аудита нашла расхождения",
			slog.Int("checked", report.Checked),
			slog.Int("hash_mismatch", report.HashMismatch),
			slog.Int("link_mismatch", report.LinkMismatch),
		)
	}
	return report, nil
}

// List возвращает страницу журнала (от новых к старым) и общее количество.
func (s *AuditService) List(ctx context.Context, filters repository.AuditListFilters, limit, offset int) ([]*model.AuditEntry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.repo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("выборка журнала аудита: %w", err)
	}
	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт записей журнала: %w", err)
	}
	return entries, total, nil
}

// ExportCSV выписывает записи журнала в CSV (до maxExportRecords за вызов).
func (s *AuditService) ExportCSV(ctx context.Context, filters repository.AuditListFilters, w io.Writer) (int, error) {
	entries, err := s.repo.List(ctx, filters, maxExportRecords, 0)
	if err != nil {
		return 0, fmt.Errorf("выборка журнала для экспорта: %w", err)
	}

	cw := csv.NewWriter(w)
	header := []string{"id", "created_at", "actor_id", "actor_role", "action",
		"entity", "target_id", "details", "prev_hash", "current_hash"}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("запись заголовка CSV: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.ID, e.CreatedAt.Format(time.RFC3339Nano), e.ActorID, e.ActorRole,
			e.Action, e.Entity, e.TargetID, e.Details, e.PrevHash, e.CurrentHash,
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("запись строки CSV: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("завершение CSV: %w", err)
	}
	return len(entries), nil
}

// ExportJSON выписывает записи журнала в JSON (до maxExportRecords за вызов).
func (s *AuditService) ExportJSON(ctx context.Context, filters repository.AuditListFilters, w io.Writer) (int, error) {
	entries, err := s.repo.List(ctx, filters, maxExportRecords, 0)
	if err != nil {
		return 0, fmt.Errorf("выборка журнала для экспорта: %w", err)
	}

	type exportEntry struct {
		ID          string          `json:"id"`
		CreatedAt   time.Time       `json:"createdAt"`
		ActorID     string          `json:"actorId"`
		ActorRole   string          `json:"actorRole,omitempty"`
		Action      string          `json:"action"`
		Entity      string          `json:"entity"`
		TargetID    string          `json:"targetId,omitempty"`
		Details     string          `json:"details,omitempty"`
		Snapshot    json.RawMessage `json:"snapshot,omitempty"`
		PrevHash    string          `json:"prevHash"`
		CurrentHash string          `json:"currentHash"`
	}

	out := make([]exportEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, exportEntry{
			ID: e.ID, CreatedAt: e.CreatedAt, ActorID: e.ActorID,
			ActorRole: e.ActorRole, Action: e.Action, Entity: e.Entity,
			TargetID: e.TargetID, Details: e.Details, Snapshot: e.Snapshot,
			PrevHash: e.PrevHash, CurrentHash: e.CurrentHash,
		})
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("сериализация экспорта: %w", err)
	}
	return len(entries), nil
}

// Retention удаляет записи старше maxAge. Retention работает по возрасту,
// никогда по содержимому.
func (s *AuditService) Retention(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	removed, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention журнала аудита: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Retention журнала аудита выполнен",
			slog.Int("removed", removed),
			slog.Time("cutoff", cutoff),
		)
	}
	return removed, nil
}

// newULID генерирует монотонный ULID для id записи.
func (s *AuditService) newULID(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

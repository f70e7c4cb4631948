// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrOrganizationNotFound — организация не найдена.
	ErrOrganizationNotFound = errors.New("организация не найдена")
	// ErrSiteNotFound — сайт не найден.
	ErrSiteNotFound = errors.New("сайт не найден")
	// ErrCategoryNotFound — категория не найдена или неактивна.
	ErrCategoryNotFound = errors.New("категория не найдена или неактивна")
	// ErrScopeInvalid — некорректная область поиска (страна не распознана).
	ErrScopeInvalid = errors.New("некорректная область поиска: страна не распознана")
	// ErrSearchUnavailable — поисковый индекс недоступен.
	// Fallback на прямой запрос к БД не предусмотрен.
	ErrSearchUnavailable = errors.New("поисковый индекс недоступен")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
)

package model

import "time"

// Category — категория каталога.
// Хранится в таблице categories. Используется для лексического
// определения категории по поисковому запросу.
type Category struct {
	// ID — UUID записи
	ID string
	// Name — название категории
	Name string
	// Slug — URL-слаг категории
	Slug string
	// Tags — ключевые слова для определения категории по запросу
	Tags []string
	// SortOrder — порядок отображения (меньше = выше)
	SortOrder int
	// IsActive — категория активна
	IsActive bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Country — страна каталога.
// Хранится в таблице countries.
type Country struct {
	// ID — UUID записи
	ID string
	// ISO — ISO-3166 alpha-2 код (верхний регистр)
	ISO string
	// Name — название страны
	Name string
}

// State — регион страны.
// Хранится в таблице states.
type State struct {
	// ID — UUID записи
	ID string
	// CountryISO — ISO-код страны
	CountryISO string
	// Name — название региона
	Name string
}

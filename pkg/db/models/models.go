package models

// All lists every persisted model, in migration order. Used by SQLite-backed
// tests and the dev auto-migrate path.
func All() []any {
	return []any{
		&ProcessedEvent{},
		&Store{},
		&Product{},
		&StockLine{},
		&StockAdjustment{},
	}
}

package event

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("event.store",
	fx.Provide(
		ProvideStore,
		ProvideCursorStore,
	),
)

func ProvideStore(db *gorm.DB) (Store, error) {
	store := NewGormStore(db)
	if err := store.Migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func ProvideCursorStore(db *gorm.DB) (CursorStore, error) {
	cursors := NewGormCursorStore(db)
	if err := cursors.Migrate(); err != nil {
		return nil, err
	}
	return cursors, nil
}

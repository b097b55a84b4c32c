package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/stylemint/server/internal/model"
	"gorm.io/gorm"
)

// StoreRepository resolves public store identifiers to their owning account.
type StoreRepository interface {
	GetActiveStore(ctx context.Context, storeID string) (*model.Store, error)
}

type storeRepository struct {
	db *gorm.DB
}

// NewStoreRepository creates a new store repository.
func NewStoreRepository(db *gorm.DB) StoreRepository {
	return &storeRepository{db: db}
}

func (r *storeRepository) GetActiveStore(ctx context.Context, storeID string) (*model.Store, error) {
	var store model.Store
	err := r.db.WithContext(ctx).
		Where("id = ? AND active = ?", storeID, true).
		First(&store).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("get store: %w", err)
	}
	return &store, nil
}

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	interfaces "main/internal/domain/interfaces"
)

// Registry backs the token-set, source and royalty registries with Postgres.
type Registry struct {
	db *gorm.DB
}

func NewRegistry(dsn string) (*Registry, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	return &Registry{db: db}, nil
}

// AutoMigrate creates the registry tables.
func (r *Registry) AutoMigrate() error {
	return r.db.AutoMigrate(&TokenSetModel{}, &SourceModel{}, &RoyaltyScheduleModel{})
}

// RegisterCollectionWide registers (idempotently) the token set covering the
// whole collection and returns its id.
func (r *Registry) RegisterCollectionWide(ctx context.Context, collection string) (string, error) {
	contract := strings.ToLower(collection)
	model := TokenSetModel{
		ID:       "contract:" + contract,
		Schema:   SchemaContract,
		Contract: contract,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return "", fmt.Errorf("register collection token set: %w", err)
	}
	return model.ID, nil
}

// RegisterSingleItem registers (idempotently) the token set covering exactly
// one item and returns its id.
func (r *Registry) RegisterSingleItem(ctx context.Context, collection, itemID string) (string, error) {
	contract := strings.ToLower(collection)
	model := TokenSetModel{
		ID:       "token:" + contract + ":" + itemID,
		Schema:   SchemaToken,
		Contract: contract,
		TokenID:  &itemID,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error; err != nil {
		return "", fmt.Errorf("register item token set: %w", err)
	}
	return model.ID, nil
}

// Resolve maps a source name to its id, creating the source on first use.
func (r *Registry) Resolve(ctx context.Context, name string) (int64, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&SourceModel{Name: name}).Error; err != nil {
		return 0, fmt.Errorf("create source %q: %w", name, err)
	}
	var model SourceModel
	if err := r.db.WithContext(ctx).Take(&model, "name = ?", name).Error; err != nil {
		return 0, fmt.Errorf("lookup source %q: %w", name, err)
	}
	return model.ID, nil
}

// DefaultRoyalties returns the collection's registered default royalty
// schedule. A missing schedule resolves to an empty list, not an error.
func (r *Registry) DefaultRoyalties(ctx context.Context, collection string) ([]interfaces.RoyaltyShare, error) {
	var model RoyaltyScheduleModel
	err := r.db.WithContext(ctx).Take(&model, "collection = ?", strings.ToLower(collection)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup royalties for %s: %w", collection, err)
	}
	if len(model.Breakdown) == 0 {
		return nil, nil
	}
	var shares []interfaces.RoyaltyShare
	if err := json.Unmarshal(model.Breakdown, &shares); err != nil {
		return nil, fmt.Errorf("decode royalty breakdown for %s: %w", collection, err)
	}
	return shares, nil
}

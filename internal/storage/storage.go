// Package storage persists passages keyed by id.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/ragchain/internal/config"
	"github.com/hyperjump/ragchain/internal/models"
)

// PassageStore is a durable keyed store of passages.
type PassageStore interface {
	// Get returns the passages of ids in request order, skipping unknown ids.
	// Under GetPolicyStrict a non-empty miss set also returns a *NotFoundError
	// alongside the passages that were found.
	Get(ctx context.Context, ids []string) ([]*models.Passage, error)
	// Upsert inserts or replaces passages by id. CreatedAt of an existing id is kept.
	Upsert(ctx context.Context, passages []*models.Passage) error
	Delete(ctx context.Context, ids []string) error
	// ListByFilepath returns the passages of one source file in chain order.
	ListByFilepath(ctx context.Context, filepath string) ([]*models.Passage, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Driver names a store backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// GetPolicy decides how Get reports missing ids.
type GetPolicy string

const (
	GetPolicyStrict  GetPolicy = "strict"
	GetPolicyPartial GetPolicy = "partial"
)

// NotFoundError lists ids that are not in the store.
type NotFoundError struct {
	Missing []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("passages not found: %s", strings.Join(e.Missing, ", "))
}

// New opens the store selected by cfg.Driver. The caller owns the store and must Close it.
func New(cfg config.StorageConfig) (PassageStore, error) {
	policy := GetPolicy(cfg.GetPolicy)
	switch Driver(cfg.Driver) {
	case DriverSQLite, "":
		return NewSQLiteStore(cfg.DatabasePath, policy)
	case DriverPostgres:
		return NewPostgresStore(cfg.PostgresDSN, policy)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}
}

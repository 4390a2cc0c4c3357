// Package storage selects and constructs the persistence backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/storage/surrealdb"
)

// NewStorageManager connects to the configured SurrealDB instance.
func NewStorageManager(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.StorageManager, error) {
	if config.Storage.Address == "" {
		return nil, fmt.Errorf("storage address is not configured")
	}
	m, err := surrealdb.NewManager(ctx, logger, config)
	if err != nil {
		return nil, err
	}
	return m, nil
}

package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// sysKV is a row of the system_kv table.
type sysKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// InternalStore keeps system settings, such as upstream credentials, in system_kv.
type InternalStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

func NewInternalStore(db *surrealdb.DB, logger *common.Logger) *InternalStore {
	return &InternalStore{
		db:     db,
		logger: logger,
	}
}

// GetSystemKV returns the value for key, or an error wrapping models.ErrNotFound.
func (s *InternalStore) GetSystemKV(ctx context.Context, key string) (string, error) {
	kv, err := surrealdb.Select[sysKV](ctx, s.db, surrealmodels.NewRecordID(tableSystemKV, key))
	if err != nil && !isNotFoundError(err) {
		return "", fmt.Errorf("failed to select system KV %s: %w", key, err)
	}
	if kv == nil || kv.Key == "" {
		return "", fmt.Errorf("system KV %s: %w", key, models.ErrNotFound)
	}
	return kv.Value, nil
}

func (s *InternalStore) SetSystemKV(ctx context.Context, key, value string) error {
	sql := "UPSERT type::record('system_kv', $id) CONTENT $kv"
	vars := map[string]any{"id": key, "kv": sysKV{Key: key, Value: value}}

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]sysKV](ctx, s.db, sql, vars)
		if err == nil {
			return nil
		}
		if attempt == 3 {
			return fmt.Errorf("failed to set system KV after retries: %w", err)
		}
		s.logger.Debug().Err(err).Str("key", key).Int("attempt", attempt).Msg("Retrying system KV write")
	}
	return nil
}

func (s *InternalStore) Close() error {
	return nil
}

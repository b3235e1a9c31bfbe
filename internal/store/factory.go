package store

import (
	"fmt"

	"scheduling-sync-service/internal/config"
)

func New(cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "mysql":
		return NewMySQLStore(cfg)
	case "sqlite", "":
		return NewSQLiteStore(cfg)
	default:
		return nil, fmt.Errorf("unknown state storage type %q", cfg.Type)
	}
}

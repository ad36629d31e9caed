package repository

import (
	"context"
	"fmt"
	"time"

	"locatr/internal/config"
	"locatr/pkg/log"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
)

// ConnectWithRetry opens the CouchDB client, creating the database and the
// location index on first use.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig) (*kivik.Client, error) {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		client, err := kivik.New("couch", cfg.URL())
		if err == nil {
			if err = bootstrap(ctx, client, cfg.Name); err == nil {
				return client, nil
			}
		}

		lastErr = err
		log.Warn("CouchDB not ready, retrying", "attempt", i, "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectDelay):
		}
	}

	return nil, fmt.Errorf("db connect failed after %d attempts: %w", attempts, lastErr)
}

func bootstrap(ctx context.Context, client *kivik.Client, dbName string) error {
	exists, err := client.DBExists(ctx, dbName)
	if err != nil {
		return fmt.Errorf("failed to check database existence: %w", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, dbName); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		log.Info("Created database", "name", dbName)
	}

	index := map[string]interface{}{
		"fields": []string{"device_id", "ts_ms"},
	}
	if err := client.DB(dbName).CreateIndex(ctx, locationIndexName, locationIndexName, index); err != nil {
		return fmt.Errorf("failed to create location index: %w", err)
	}

	return nil
}

// Store is the combined device and sample store.
type Store interface {
	DeviceRepository
	LocationRepository
}

type couchStore struct {
	DeviceRepository
	LocationRepository
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Info("Using in-memory store")
		return NewMemoryStore(), nil
	case "couchdb", "":
		client, err := ConnectWithRetry(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("Connected to CouchDB", "host", cfg.Host, "port", cfg.Port, "db", cfg.Name)
		return &couchStore{
			DeviceRepository:   NewDeviceRepository(client, cfg.Name),
			LocationRepository: NewLocationRepository(client, cfg.Name),
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"locatr/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// DeviceRepository stores device identity records keyed by device code.
type DeviceRepository interface {
	FindByCode(ctx context.Context, code string) (*domain.Device, error)
	// CreateIfAbsent stores device unless its code is already registered.
	// It returns the stored record and whether this call created it.
	CreateIfAbsent(ctx context.Context, device *domain.Device) (*domain.Device, bool, error)
	Touch(ctx context.Context, code string, at time.Time) error
}

type deviceDoc struct {
	Type string `json:"type"`
	domain.Device
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func deviceDocID(code string) string {
	return fmt.Sprintf("device:%s", code)
}

func (r *deviceRepository) FindByCode(ctx context.Context, code string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(ctx, deviceDocID(code))

	var doc deviceDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ReadError(fmt.Errorf("failed to find device: %w", err))
	}

	return &doc.Device, nil
}

// CreateIfAbsent relies on document ID uniqueness: the loser of a concurrent
// registration gets a 409 and reads the winner's record instead.
func (r *deviceRepository) CreateIfAbsent(ctx context.Context, device *domain.Device) (*domain.Device, bool, error) {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, deviceDocID(device.Code), deviceDoc{Type: "device", Device: *device})
	if err == nil {
		return device, true, nil
	}

	if kivik.HTTPStatus(err) != http.StatusConflict {
		return nil, false, domain.WriteError(fmt.Errorf("failed to create device: %w", err))
	}

	existing, findErr := r.FindByCode(ctx, device.Code)
	if findErr != nil {
		return nil, false, findErr
	}

	return existing, false, nil
}

func (r *deviceRepository) Touch(ctx context.Context, code string, at time.Time) error {
	db := r.client.DB(r.dbName)
	docID := deviceDocID(code)

	var rawDoc map[string]interface{}
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&rawDoc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return domain.ErrNotFound
		}
		return domain.ReadError(err)
	}

	// last_seen only moves forward.
	if prev, ok := rawDoc["last_seen"].(string); ok {
		if seen, err := time.Parse(time.RFC3339Nano, prev); err == nil && !at.After(seen) {
			return nil
		}
	}
	rawDoc["last_seen"] = at.UTC()

	_, err := db.Put(ctx, docID, rawDoc)
	if err != nil {
		return domain.WriteError(fmt.Errorf("failed to update last seen: %w", err))
	}

	return nil
}

package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"locatr/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	locationDocPrefix = "location:"
	locationIndexName = "locations-by-device-time"
)

// LocationRepository is the append-only sample store.
type LocationRepository interface {
	Insert(ctx context.Context, sample *domain.LocationSample) error
	// Recent returns at most limit of the newest samples for deviceID,
	// ordered by capture timestamp ascending.
	Recent(ctx context.Context, deviceID string, limit int) ([]domain.LocationSample, error)
	SubscribeInserts(ctx context.Context) (InsertStream, error)
}

// InsertStream delivers insert events for the locations table until closed.
type InsertStream interface {
	Events() <-chan domain.InsertEvent
	// Err reports why the stream ended. It is valid once Events is closed.
	Err() error
	Close() error
}

// locationDoc adds a sortable millisecond timestamp; RFC 3339 strings with
// trimmed fractions do not sort lexically.
type locationDoc struct {
	Type string `json:"type"`
	TsMs int64  `json:"ts_ms"`
	domain.LocationSample
}

type locationRepository struct {
	client *kivik.Client
	dbName string
}

func NewLocationRepository(client *kivik.Client, dbName string) LocationRepository {
	return &locationRepository{
		client: client,
		dbName: dbName,
	}
}

func locationDocID(sample *domain.LocationSample) string {
	return fmt.Sprintf("%s%s:%s", locationDocPrefix, sample.DeviceID, sample.ID)
}

func (r *locationRepository) Insert(ctx context.Context, sample *domain.LocationSample) error {
	db := r.client.DB(r.dbName)

	doc := locationDoc{
		Type:           "location",
		TsMs:           sample.Timestamp.UnixMilli(),
		LocationSample: *sample,
	}

	if _, err := db.Put(ctx, locationDocID(sample), doc); err != nil {
		return domain.WriteError(fmt.Errorf("failed to insert location: %w", err))
	}

	return nil
}

// Recent sorts descending and limits inside CouchDB so history is never
// loaded unbounded, then flips the page to ascending order.
func (r *locationRepository) Recent(ctx context.Context, deviceID string, limit int) ([]domain.LocationSample, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"device_id": deviceID,
			"ts_ms":     map[string]interface{}{"$gt": nil},
		},
		"sort": []map[string]string{
			{"device_id": "desc"},
			{"ts_ms": "desc"},
		},
		"limit":     limit,
		"use_index": locationIndexName,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, domain.ReadError(fmt.Errorf("failed to query locations: %w", err))
	}
	defer rows.Close()

	var samples []domain.LocationSample
	for rows.Next() {
		var doc locationDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		samples = append(samples, doc.LocationSample)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ReadError(fmt.Errorf("failed to read locations: %w", err))
	}

	reverse(samples)
	return samples, nil
}

func reverse(samples []domain.LocationSample) {
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
}

func (r *locationRepository) SubscribeInserts(ctx context.Context) (InsertStream, error) {
	db := r.client.DB(r.dbName)

	ctx, cancel := context.WithCancel(ctx)
	changes := db.Changes(ctx, kivik.Params(map[string]interface{}{
		"feed":         "continuous",
		"since":        "now",
		"include_docs": true,
		"heartbeat":    int((30 * time.Second).Milliseconds()),
	}))
	if err := changes.Err(); err != nil {
		cancel()
		return nil, domain.ReadError(fmt.Errorf("failed to open changes feed: %w", err))
	}

	s := &changesStream{
		changes: changes,
		cancel:  cancel,
		events:  make(chan domain.InsertEvent),
	}
	go s.run(ctx)

	return s, nil
}

type changesStream struct {
	changes *kivik.Changes
	cancel  context.CancelFunc
	events  chan domain.InsertEvent
	err     error
}

func (s *changesStream) run(ctx context.Context) {
	defer close(s.events)

	for s.changes.Next() {
		if !isLocationInsert(s.changes.ID(), s.changes.Changes(), s.changes.Deleted()) {
			continue
		}

		var doc locationDoc
		if err := s.changes.ScanDoc(&doc); err != nil {
			continue
		}

		event := domain.InsertEvent{
			Table:  domain.LocationsTable,
			Seq:    s.changes.Seq(),
			Sample: doc.LocationSample,
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}

	if ctx.Err() == nil {
		s.err = s.changes.Err()
	}
}

// isLocationInsert reports whether a change row is the first revision of a
// location document. Later revisions and deletions are not inserts.
func isLocationInsert(id string, revs []string, deleted bool) bool {
	if deleted || !strings.HasPrefix(id, locationDocPrefix) || len(revs) == 0 {
		return false
	}
	return strings.HasPrefix(revs[0], "1-")
}

func (s *changesStream) Events() <-chan domain.InsertEvent {
	return s.events
}

func (s *changesStream) Err() error {
	return s.err
}

func (s *changesStream) Close() error {
	s.cancel()
	return s.changes.Close()
}

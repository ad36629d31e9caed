package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"locatr/internal/domain"
)

// MemoryStore keeps devices and samples in process memory. It backs local
// runs without CouchDB and the package tests of its callers.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]*domain.Device
	samples []domain.LocationSample
	seq     int64
	streams map[*memoryStream]struct{}
}

var (
	_ DeviceRepository   = (*MemoryStore)(nil)
	_ LocationRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]*domain.Device),
		streams: make(map[*memoryStream]struct{}),
	}
}

func (m *MemoryStore) FindByCode(ctx context.Context, code string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d := *device
	return &d, nil
}

func (m *MemoryStore) CreateIfAbsent(ctx context.Context, device *domain.Device) (*domain.Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.devices[device.Code]; ok {
		d := *existing
		return &d, false, nil
	}

	d := *device
	m.devices[device.Code] = &d
	stored := d
	return &stored, true, nil
}

func (m *MemoryStore) Touch(ctx context.Context, code string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	device, ok := m.devices[code]
	if !ok {
		return domain.ErrNotFound
	}
	if at.After(device.LastSeen) {
		device.LastSeen = at.UTC()
	}
	return nil
}

func (m *MemoryStore) Insert(ctx context.Context, sample *domain.LocationSample) error {
	m.mu.Lock()
	m.samples = append(m.samples, *sample)
	m.seq++
	event := domain.InsertEvent{
		Table:  domain.LocationsTable,
		Seq:    strconv.FormatInt(m.seq, 10),
		Sample: *sample,
	}
	streams := make([]*memoryStream, 0, len(m.streams))
	for s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.deliver(event)
	}
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, deviceID string, limit int) ([]domain.LocationSample, error) {
	m.mu.Lock()
	var samples []domain.LocationSample
	for _, s := range m.samples {
		if s.DeviceID == deviceID {
			samples = append(samples, s)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	return samples, nil
}

func (m *MemoryStore) SubscribeInserts(ctx context.Context) (InsertStream, error) {
	s := &memoryStream{
		store:  m,
		events: make(chan domain.InsertEvent, 256),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.streams[s] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Subscribers returns the number of open insert streams.
func (m *MemoryStore) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

type memoryStream struct {
	store  *MemoryStore
	events chan domain.InsertEvent
	done   chan struct{}
	once   sync.Once

	// mu is held while sending so events is never closed mid-send.
	mu     sync.Mutex
	closed bool
}

func (s *memoryStream) deliver(event domain.InsertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func (s *memoryStream) Events() <-chan domain.InsertEvent {
	return s.events
}

func (s *memoryStream) Err() error {
	return nil
}

func (s *memoryStream) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.streams, s)
		s.store.mu.Unlock()

		close(s.done)

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}

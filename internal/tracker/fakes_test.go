package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"locatr/internal/domain"
	"locatr/internal/repository"
)

type fakeProvider struct {
	mu        sync.Mutex
	granted   bool
	fixes     []domain.Fix
	fixFn     func(ctx context.Context, call int) (domain.Fix, error)
	fixCalls  int
	battery   int
	batteryOK bool
	desc      domain.DeviceDescriptor
	now       func() time.Time
}

func newFakeProvider(fixes ...domain.Fix) *fakeProvider {
	return &fakeProvider{
		granted:   true,
		fixes:     fixes,
		battery:   80,
		batteryOK: true,
		desc:      domain.DeviceDescriptor{Model: "Pixel 8", Platform: "android"},
		now:       time.Now,
	}
}

func (p *fakeProvider) RequestLocationPermission(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted, nil
}

func (p *fakeProvider) CurrentFix(ctx context.Context, timeout time.Duration) (domain.Fix, error) {
	p.mu.Lock()
	call := p.fixCalls
	p.fixCalls++
	fn := p.fixFn
	var fix domain.Fix
	if len(p.fixes) > 0 {
		idx := call
		if idx >= len(p.fixes) {
			idx = len(p.fixes) - 1
		}
		fix = p.fixes[idx]
	}
	now := p.now
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, call)
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = now()
	}
	return fix, nil
}

func (p *fakeProvider) BatteryLevel(ctx context.Context) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.battery, p.batteryOK, nil
}

func (p *fakeProvider) DeviceDescriptor(ctx context.Context) domain.DeviceDescriptor {
	return p.desc
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fixCalls
}

type mockDeviceRepo struct {
	mu          sync.Mutex
	devices     map[string]*domain.Device
	findCalls   int
	createCalls int
	findErr     error
	createErr   error
	// raced, when set, is stored by a concurrent writer before our create lands.
	raced *domain.Device
}

func newMockDeviceRepo() *mockDeviceRepo {
	return &mockDeviceRepo{
		devices: make(map[string]*domain.Device),
	}
}

func (m *mockDeviceRepo) FindByCode(ctx context.Context, code string) (*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	if d, ok := m.devices[code]; ok {
		device := *d
		return &device, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockDeviceRepo) CreateIfAbsent(ctx context.Context, device *domain.Device) (*domain.Device, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, false, m.createErr
	}
	if m.raced != nil {
		m.devices[m.raced.Code] = m.raced
		m.raced = nil
	}
	if d, ok := m.devices[device.Code]; ok {
		existing := *d
		return &existing, false, nil
	}
	stored := *device
	m.devices[device.Code] = &stored
	return device, true, nil
}

func (m *mockDeviceRepo) Touch(ctx context.Context, code string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[code]
	if !ok {
		return domain.ErrNotFound
	}
	d.LastSeen = at
	return nil
}

func (m *mockDeviceRepo) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findCalls, m.createCalls
}

type mockLocationRepo struct {
	mu       sync.Mutex
	inserted []domain.LocationSample
	failNext int
}

var _ repository.LocationRepository = (*mockLocationRepo)(nil)

func (m *mockLocationRepo) Insert(ctx context.Context, sample *domain.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return domain.WriteError(errors.New("connection refused"))
	}
	m.inserted = append(m.inserted, *sample)
	return nil
}

func (m *mockLocationRepo) Recent(ctx context.Context, deviceID string, limit int) ([]domain.LocationSample, error) {
	return nil, nil
}

func (m *mockLocationRepo) SubscribeInserts(ctx context.Context) (repository.InsertStream, error) {
	return nil, errors.New("not supported")
}

func (m *mockLocationRepo) samples() []domain.LocationSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LocationSample, len(m.inserted))
	copy(out, m.inserted)
	return out
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) record(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) count(kind NoticeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

func (r *noticeRecorder) last(kind NoticeKind) (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.notices) - 1; i >= 0; i-- {
		if r.notices[i].Kind == kind {
			return r.notices[i], true
		}
	}
	return Notice{}, false
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"locatr/internal/capability"
	"locatr/internal/domain"
	"locatr/internal/metrics"
	"locatr/internal/repository"
	"locatr/pkg/log"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"
)

const (
	StateIdle        = "idle"
	StateRegistering = "registering"
	StateArmed       = "armed"
	StateSamplingOn  = "sampling_on"
	StateSamplingOff = "sampling_off"

	EventRegister = "register"
	EventAbort    = "abort"
	EventArm      = "arm"
	EventSample   = "sample"
	EventStop     = "stop"
)

const (
	DefaultInterval   = 30 * time.Second
	DefaultFixTimeout = 10 * time.Second
)

type Option func(*Loop)

func WithClock(c clock.WithTicker) Option {
	return func(l *Loop) { l.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

func WithFixTimeout(d time.Duration) Option {
	return func(l *Loop) { l.fixTimeout = d }
}

func WithObserver(o SampleObserver) Option {
	return func(l *Loop) { l.observer = o }
}

func WithNoticeFunc(fn NoticeFunc) Option {
	return func(l *Loop) { l.notify = fn }
}

func WithLogger(logger log.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// Loop turns the local device into a periodic telemetry source. A Loop is
// bound to one device code for its lifetime and can be stopped and started
// again indefinitely.
type Loop struct {
	provider  capability.Provider
	registrar *Registrar
	locations repository.LocationRepository

	clock      clock.WithTicker
	interval   time.Duration
	fixTimeout time.Duration
	observer   SampleObserver
	notify     NoticeFunc
	logger     log.Logger

	// opMu serializes Start and Stop.
	opMu sync.Mutex
	fsm  *fsm.FSM

	mu         sync.Mutex
	code       string
	device     *domain.Device
	lastSample *domain.LocationSample
	battery    *int
	ticker     clock.Ticker
	stopCh     chan struct{}

	inFlight atomic.Bool
}

func NewLoop(provider capability.Provider, registrar *Registrar, locations repository.LocationRepository, opts ...Option) *Loop {
	l := &Loop{
		provider:   provider,
		registrar:  registrar,
		locations:  locations,
		clock:      clock.RealClock{},
		interval:   DefaultInterval,
		fixTimeout: DefaultFixTimeout,
		notify:     func(Notice) {},
		logger:     log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventRegister, Src: []string{StateIdle, StateSamplingOff}, Dst: StateRegistering},
			{Name: EventAbort, Src: []string{StateRegistering}, Dst: StateIdle},
			{Name: EventArm, Src: []string{StateRegistering}, Dst: StateArmed},
			{Name: EventSample, Src: []string{StateArmed}, Dst: StateSamplingOn},
			{Name: EventStop, Src: []string{StateArmed, StateSamplingOn}, Dst: StateSamplingOff},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debug("Sampling loop transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)

	return l
}

// State returns the current lifecycle state.
func (l *Loop) State() string {
	return l.fsm.Current()
}

// Start requests permission, binds the session's device on first use,
// reports one sample immediately and then samples every interval.
func (l *Loop) Start(ctx context.Context, code string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	if l.fsm.Is(StateSamplingOn) {
		return nil
	}

	code, err := domain.ValidateCode(code)
	if err != nil {
		return err
	}

	l.mu.Lock()
	bound := l.code
	l.mu.Unlock()
	if bound != "" && bound != code {
		return fmt.Errorf("%w: bound to %s", domain.ErrSessionBound, bound)
	}

	granted, err := l.provider.RequestLocationPermission(ctx)
	if err != nil {
		l.logger.Error(err, "Location permission request failed", "device_code", code)
		granted = false
	}
	if !granted {
		return domain.ErrPermissionDenied
	}

	if err := l.fsm.Event(ctx, EventRegister); err != nil {
		return fmt.Errorf("sampling loop cannot start from %s: %w", l.fsm.Current(), err)
	}

	if err := l.bind(ctx, code); err != nil {
		_ = l.fsm.Event(ctx, EventAbort)
		return err
	}

	if err := l.fsm.Event(ctx, EventArm); err != nil {
		return err
	}

	l.refreshBattery(ctx)
	l.cycle(ctx)

	if err := l.fsm.Event(ctx, EventSample); err != nil {
		return err
	}

	ticker := l.clock.NewTicker(l.interval)
	stopCh := make(chan struct{})

	l.mu.Lock()
	l.ticker = ticker
	l.stopCh = stopCh
	l.mu.Unlock()

	go l.run(ctx, ticker, stopCh)

	l.logger.Info("Location tracking started", "device_code", code, "interval", l.interval)
	l.notify(Notice{Kind: NoticeStarted})

	return nil
}

// Stop cancels the periodic timer. A cycle already in flight completes but
// no further ticks are taken. The cached last sample is kept.
func (l *Loop) Stop() {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	ticker, stopCh := l.ticker, l.stopCh
	l.ticker, l.stopCh = nil, nil
	l.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stopCh)
	}

	if l.fsm.Can(EventStop) {
		_ = l.fsm.Event(context.Background(), EventStop)
		l.logger.Info("Location tracking stopped", "device_code", l.code)
		l.notify(Notice{Kind: NoticeStopped})
	}
}

// Session returns a snapshot of the tracking session.
func (l *Loop) Session() domain.TrackingSession {
	l.mu.Lock()
	defer l.mu.Unlock()

	session := domain.TrackingSession{
		State:      l.fsm.Current(),
		Tracking:   l.fsm.Is(StateSamplingOn),
		DeviceCode: l.code,
	}
	if l.device != nil {
		session.DeviceID = l.device.ID
	}
	if l.lastSample != nil {
		sample := *l.lastSample
		session.LastSample = &sample
		session.Accuracy = sample.Accuracy
	}
	if l.battery != nil {
		b := *l.battery
		session.Battery = &b
	}
	return session
}

func (l *Loop) bind(ctx context.Context, code string) error {
	l.mu.Lock()
	device := l.device
	l.mu.Unlock()
	if device != nil {
		return nil
	}

	desc := l.provider.DeviceDescriptor(ctx)
	device, err := l.registrar.Ensure(ctx, code, desc)
	if err != nil {
		l.logger.Error(err, "Error registering device", "device_code", code)
		return fmt.Errorf("failed to register device %s: %w", code, err)
	}

	l.mu.Lock()
	l.code = code
	l.device = device
	l.mu.Unlock()

	return nil
}

func (l *Loop) run(ctx context.Context, ticker clock.Ticker, stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			l.Stop()
			return
		case <-ticker.C():
			select {
			case <-stopCh:
				return
			default:
			}
			go l.cycle(ctx)
		}
	}
}

// cycle performs one capture-and-report. Overlapping cycles are dropped.
func (l *Loop) cycle(ctx context.Context) {
	if !l.inFlight.CompareAndSwap(false, true) {
		metrics.CyclesSkipped.WithLabelValues("overlap").Inc()
		l.logger.Warn("Dropping sampling tick, previous cycle still running", "device_code", l.code)
		l.notify(Notice{Kind: NoticeCycleSkipped, Err: ErrCycleInFlight})
		return
	}
	defer l.inFlight.Store(false)

	l.mu.Lock()
	device := l.device
	l.mu.Unlock()

	fix, err := l.acquireFix(ctx)
	if err != nil {
		reason := "fix_error"
		if errors.Is(err, domain.ErrFixTimeout) {
			reason = "fix_timeout"
		}
		metrics.CyclesSkipped.WithLabelValues(reason).Inc()
		l.logger.Error(err, "Error getting location, skipping cycle", "device_code", device.Code)
		l.notify(Notice{Kind: NoticeCycleSkipped, Err: err})
		return
	}

	l.mu.Lock()
	battery := l.battery
	l.mu.Unlock()

	sample := domain.NewLocationSample(device.ID, fix, battery)
	if err := l.locations.Insert(ctx, sample); err != nil {
		metrics.SamplesWritten.WithLabelValues("failed").Inc()
		l.logger.Error(err, "Error sending location", "device_code", device.Code)
		l.notify(Notice{Kind: NoticeWriteFailed, Err: err, Sample: sample})
		return
	}
	metrics.SamplesWritten.WithLabelValues("success").Inc()

	l.mu.Lock()
	l.lastSample = sample
	l.mu.Unlock()

	if err := l.registrar.Touch(ctx, device.Code, sample.Timestamp); err != nil {
		l.logger.Warn("Failed to update last seen", "device_code", device.Code, "error", err.Error())
		l.notify(Notice{Kind: NoticeTouchFailed, Err: err})
	}

	if l.observer != nil {
		l.observer.SampleObserved(*sample)
	}

	l.refreshBattery(ctx)
}

func (l *Loop) acquireFix(ctx context.Context) (domain.Fix, error) {
	fixCtx, cancel := context.WithTimeout(ctx, l.fixTimeout)
	defer cancel()

	fix, err := l.provider.CurrentFix(fixCtx, l.fixTimeout)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrFixTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrFixTimeout, err)
		}
		return domain.Fix{}, err
	}
	if fix.CapturedAt.IsZero() {
		fix.CapturedAt = l.clock.Now()
	}
	return fix, nil
}

// refreshBattery keeps the previous reading when the platform cannot report one.
func (l *Loop) refreshBattery(ctx context.Context) {
	level, ok, err := l.provider.BatteryLevel(ctx)
	if err != nil {
		l.logger.Debug("Error getting battery info", "error", err.Error())
		return
	}
	if !ok {
		return
	}

	l.mu.Lock()
	l.battery = &level
	l.mu.Unlock()
}

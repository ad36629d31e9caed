package viewer

import (
	"context"
	"sync"

	"locatr/internal/domain"
	"locatr/internal/feed"
	"locatr/pkg/log"
)

const DefaultTrailCapacity = 1000

// Feed hands out scoped insert subscriptions.
type Feed interface {
	Subscribe() *feed.Subscription
}

// Change describes one ViewState transition. Appended is set when the
// transition was a single live sample.
type Change struct {
	State    domain.ViewState
	Appended *domain.LocationSample
	Err      error
}

type ChangeFunc func(Change)

// Session is one viewer's ViewState together with the live subscription
// scoped to the currently resolved device.
type Session struct {
	resolver *Resolver
	feed     Feed
	capacity int
	onChange ChangeFunc
	logger   log.Logger

	// notifyMu keeps change callbacks in commit order.
	notifyMu sync.Mutex

	mu    sync.Mutex
	state domain.ViewState
	// req identifies the latest Resolve call, view the committed device.
	req  uint64
	view uint64
	// loadingView is the view whose history load is still running, or 0.
	loadingView uint64
	sub         *feed.Subscription
	pending     []domain.LocationSample
	closed      bool
}

func NewSession(resolver *Resolver, f Feed, capacity int, onChange ChangeFunc, logger log.Logger) *Session {
	if capacity <= 0 {
		capacity = DefaultTrailCapacity
	}
	if onChange == nil {
		onChange = func(Change) {}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Session{
		resolver: resolver,
		feed:     f,
		capacity: capacity,
		onChange: onChange,
		logger:   logger,
		state:    domain.ViewState{Sequence: []domain.LocationSample{}},
	}
}

// Resolve replaces the view with the device registered under code. If the
// device lookup fails the previous view is kept. If only the history load
// fails the device is committed with an empty trail and a LoadError is
// returned.
func (s *Session) Resolve(ctx context.Context, code string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return context.Canceled
	}
	s.req++
	req := s.req
	s.mu.Unlock()

	current := func() bool { return s.req == req }

	s.commit(current, func() { s.state.Loading = true }, nil, nil)

	device, err := s.resolver.FindDevice(ctx, code)
	if err != nil {
		s.commit(current, func() {
			// A history load for the committed view still owns Loading
			// and pending; it finishes the view itself.
			if s.loadingView != 0 {
				return
			}
			s.state.Sequence = s.trim(append(s.state.Sequence, s.pending...))
			s.pending = nil
			s.state.Loading = false
		}, nil, err)
		return err
	}

	// Subscribe before loading history so nothing inserted during the load
	// is missed; those events wait in pending.
	sub := s.feed.Subscribe()
	var view uint64
	if !s.commit(current, func() {
		s.release()
		s.view++
		view = s.view
		s.loadingView = view
		s.sub = sub
		s.pending = nil
		s.state = domain.ViewState{Device: device, Sequence: []domain.LocationSample{}, Loading: true}
	}, nil, nil) {
		sub.Close()
		return nil
	}
	go s.pump(sub, view, device.ID)

	// Only a newer committed view supersedes the load. A later Resolve whose
	// lookup fails leaves this view in place.
	samples, loadErr := s.resolver.History(ctx, device.ID)
	s.commit(func() bool { return s.view == view }, func() {
		s.state.Sequence = s.merge(samples)
		s.state.Loading = false
		s.loadingView = 0
	}, nil, loadErr)

	if loadErr == nil {
		s.logger.Debug("View resolved", "device_code", device.Code, "samples", len(samples))
	}
	return loadErr
}

// merge combines the bootstrap load with events buffered while it ran,
// dropping buffered samples the load already returned.
func (s *Session) merge(bootstrap []domain.LocationSample) []domain.LocationSample {
	seen := make(map[string]struct{}, len(bootstrap))
	seq := make([]domain.LocationSample, 0, len(bootstrap)+len(s.pending))
	for _, sample := range bootstrap {
		seen[sample.ID] = struct{}{}
		seq = append(seq, sample)
	}
	for _, sample := range s.pending {
		if _, dup := seen[sample.ID]; dup {
			continue
		}
		seq = append(seq, sample)
	}
	s.pending = nil
	return s.trim(seq)
}

func (s *Session) trim(seq []domain.LocationSample) []domain.LocationSample {
	if over := len(seq) - s.capacity; over > 0 {
		seq = append([]domain.LocationSample(nil), seq[over:]...)
	}
	return seq
}

// pump appends live events for deviceID until the subscription closes.
// deviceID is fixed for the subscription so a later resolution can never
// receive samples of an earlier one.
func (s *Session) pump(sub *feed.Subscription, view uint64, deviceID string) {
	current := func() bool { return s.view == view }

	for event := range sub.Events() {
		sample := event.Sample
		if sample.DeviceID != deviceID {
			continue
		}

		live := s.commit(current, func() {
			if s.state.Loading {
				s.pending = append(s.pending, sample)
				return
			}
			s.state.Sequence = s.trim(append(s.state.Sequence, sample))
		}, &sample, nil)
		if !live {
			return
		}
	}
}

// commit applies mutate under the lock while current holds and then reports
// the new state. It returns false when the caller has been superseded.
// Samples buffered during a load are reported by the merge, not here.
func (s *Session) commit(current func() bool, mutate func(), appended *domain.LocationSample, err error) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || !current() {
		s.mu.Unlock()
		return false
	}
	mutate()
	loading := s.state.Loading
	change := Change{State: s.snapshot(), Err: err}
	s.mu.Unlock()

	if appended != nil {
		if loading {
			return true
		}
		change.Appended = appended
	}
	s.onChange(change)
	return true
}

// State returns a copy of the current ViewState.
func (s *Session) State() domain.ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() domain.ViewState {
	state := domain.ViewState{
		Loading:  s.state.Loading,
		Sequence: make([]domain.LocationSample, len(s.state.Sequence)),
	}
	copy(state.Sequence, s.state.Sequence)
	if s.state.Device != nil {
		device := *s.state.Device
		state.Device = &device
	}
	return state
}

// Summary derives the viewer read model from the current state.
func (s *Session) Summary() *domain.Summary {
	return s.State().Summarize()
}

// Close clears the view and releases its live subscription.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.view++
	s.loadingView = 0
	s.release()
	s.pending = nil
	s.state = domain.ViewState{Sequence: []domain.LocationSample{}}
}

func (s *Session) release() {
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}

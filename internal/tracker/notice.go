package tracker

import (
	"errors"

	"locatr/internal/domain"
)

// ErrCycleInFlight is reported when a tick fires while the previous cycle is
// still running; the tick is dropped.
var ErrCycleInFlight = errors.New("previous sampling cycle still in flight")

type NoticeKind string

const (
	NoticeStarted      NoticeKind = "started"
	NoticeStopped      NoticeKind = "stopped"
	NoticeCycleSkipped NoticeKind = "cycle_skipped"
	NoticeWriteFailed  NoticeKind = "write_failed"
	NoticeTouchFailed  NoticeKind = "touch_failed"
)

// Notice is a non-fatal event surfaced to the tracked device's own session.
type Notice struct {
	Kind   NoticeKind
	Err    error
	Sample *domain.LocationSample
}

type NoticeFunc func(Notice)

// SampleObserver is told about every sample the loop has written.
type SampleObserver interface {
	SampleObserved(sample domain.LocationSample)
}

type SampleObserverFunc func(sample domain.LocationSample)

func (f SampleObserverFunc) SampleObserved(sample domain.LocationSample) {
	f(sample)
}

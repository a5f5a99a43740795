package location

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/banshee-data/ride.report/internal/monitoring"
	"github.com/banshee-data/ride.report/internal/serialmux"
	"github.com/banshee-data/ride.report/internal/timeutil"
)

var logf = monitoring.Tagged("gps")

const (
	DefaultFixTimeout          = 10 * time.Second
	DefaultStaleFixTolerance   = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second

	eventBuffer = 16
)

var errReceiverClosed = errors.New("receiver stream ended")

// Opener opens the receiver for one watch. It is called again after the
// receiver fails.
type Opener func() (serialmux.SerialMuxInterface, error)

// SerialOpener opens the port at path through factory.
func SerialOpener(factory serialmux.SerialPortFactory, path string, opts serialmux.PortOptions) Opener {
	return func() (serialmux.SerialMuxInterface, error) {
		return serialmux.OpenSerialMux(factory, path, opts)
	}
}

// Options tune sampling. Zero values select the defaults.
type Options struct {
	// FixTimeout is how long to wait for each fix before emitting a timeout.
	FixTimeout time.Duration
	// StaleFixTolerance is how far before the watch start a fix timestamp
	// may lie and still be delivered. Negative disables the check, for
	// receivers whose clock is not comparable with the host's.
	StaleFixTolerance   time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration

	UEREMeters             float64
	FallbackAccuracyMeters float64

	Clock timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.FixTimeout <= 0 {
		o.FixTimeout = DefaultFixTimeout
	}
	if o.StaleFixTolerance == 0 {
		o.StaleFixTolerance = DefaultStaleFixTolerance
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = DefaultReconnectBackoff
	}
	if o.MaxReconnectBackoff < o.ReconnectBackoff {
		o.MaxReconnectBackoff = max(DefaultMaxReconnectBackoff, o.ReconnectBackoff)
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Source wraps a GPS receiver as a cancellable stream of Events. At most one
// watch is active at a time.
type Source struct {
	open       Opener
	opts       Options
	permission *PermissionCell
	events     chan Event

	// lifecycleMu serialises StartTracking and StopTracking.
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	mu       sync.Mutex
	lastErr  *Error
	receiver serialmux.SerialMuxInterface
}

func NewSource(open Opener, opts Options) *Source {
	return &Source{
		open:       open,
		opts:       opts.withDefaults(),
		permission: NewPermissionCell(Prompt),
		events:     make(chan Event, eventBuffer),
	}
}

// Events is the stream of samples and errors for every watch this Source
// runs. The channel is never closed.
func (s *Source) Events() <-chan Event {
	return s.events
}

// ObservePermission returns a channel that receives the current permission
// state immediately and then every change.
func (s *Source) ObservePermission() (string, <-chan Permission) {
	return s.permission.Subscribe()
}

// Unobserve releases a channel returned by ObservePermission.
func (s *Source) Unobserve(id string) {
	s.permission.Unsubscribe(id)
}

// Permission returns the current permission state.
func (s *Source) Permission() Permission {
	return s.permission.Get()
}

// LastError returns the most recent error event, or nil if the latest event
// was a sample.
func (s *Source) LastError() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Receiver returns the receiver the current watch has open, or nil.
func (s *Source) Receiver() serialmux.SerialMuxInterface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receiver
}

func (s *Source) setReceiver(mux serialmux.SerialMuxInterface) {
	s.mu.Lock()
	s.receiver = mux
	s.mu.Unlock()
}

// Tracking reports whether a watch is active.
func (s *Source) Tracking() bool {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.cancel != nil
}

// StartTracking begins a watch. It is a no-op while already tracking.
// Opening the receiver is the permission request: the outcome shows up on
// ObservePermission and as events, not as a return value.
func (s *Source) StartTracking() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	startedAt := s.opts.Clock.Now()
	go func() {
		defer close(done)
		s.watch(ctx, startedAt)
	}()
}

// StopTracking cancels the watch and waits for it to release the receiver.
// Events still buffered from the watch are discarded, so nothing is delivered
// after StopTracking returns. It is a no-op when not tracking.
func (s *Source) StopTracking() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	for {
		select {
		case <-s.events:
		default:
			return
		}
	}
}

func (s *Source) watch(ctx context.Context, startedAt time.Time) {
	backoff := s.opts.ReconnectBackoff
	for {
		mux, err := s.open()
		if err != nil {
			if errors.Is(err, serialmux.ErrPermissionDenied) || errors.Is(err, os.ErrPermission) {
				logf("receiver access denied: %v", err)
				s.permission.Set(Denied)
				s.emit(ctx, errorEvent(PermissionDenied, err))
				return
			}
			logf("failed to open receiver: %v", err)
			s.emit(ctx, errorEvent(PositionUnavailable, err))
		} else {
			s.permission.Set(Granted)
			backoff = s.opts.ReconnectBackoff
			s.setReceiver(mux)
			err = s.sample(ctx, mux, startedAt)
			s.setReceiver(nil)
			if cerr := mux.Close(); cerr != nil {
				logf("failed to close receiver: %v", cerr)
			}
			if ctx.Err() != nil {
				return
			}
			logf("receiver failed: %v", err)
			s.emit(ctx, errorEvent(PositionUnavailable, err))
		}

		select {
		case <-ctx.Done():
			return
		case <-s.opts.Clock.After(backoff):
		}
		backoff = min(backoff*2, s.opts.MaxReconnectBackoff)
	}
}

// sample reads fixes from one open receiver until ctx is cancelled or the
// receiver fails. It returns the failure.
func (s *Source) sample(ctx context.Context, mux serialmux.SerialMuxInterface, startedAt time.Time) error {
	if err := mux.Initialize(); err != nil {
		logf("receiver init failed, continuing with its current output: %v", err)
	}

	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	monCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	monErr := make(chan error, 1)
	go func() { monErr <- mux.Monitor(monCtx) }()

	dec := NewDecoder(s.opts.UEREMeters, s.opts.FallbackAccuracyMeters)
	timer := s.opts.Clock.NewTimer(s.opts.FixTimeout)
	defer timer.Stop()

	var staleBefore int64
	if s.opts.StaleFixTolerance >= 0 {
		staleBefore = startedAt.Add(-s.opts.StaleFixTolerance).UnixMilli()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-monErr:
			if err == nil {
				err = errReceiverClosed
			}
			return err

		case line, ok := <-lines:
			if !ok {
				return errReceiverClosed
			}
			ev, ok := dec.Decode(line)
			if !ok {
				continue
			}
			if ev.Err == nil {
				if ev.Sample.TimestampMillis < staleBefore {
					continue
				}
				timer.Reset(s.opts.FixTimeout)
			}
			s.emit(ctx, ev)

		case <-timer.C():
			s.emit(ctx, errorEvent(Timeout, nil))
			timer.Reset(s.opts.FixTimeout)
		}
	}
}

func (s *Source) emit(ctx context.Context, ev Event) {
	s.mu.Lock()
	s.lastErr = ev.Err
	s.mu.Unlock()

	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

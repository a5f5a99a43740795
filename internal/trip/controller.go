// Package trip runs the ride lifecycle: it starts and stops GPS tracking,
// feeds samples to the motion estimator, and logs finished rides.
package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/location"
	"github.com/banshee-data/ride.report/internal/monitoring"
	"github.com/banshee-data/ride.report/internal/motion"
	"github.com/banshee-data/ride.report/internal/timeutil"
)

var logf = monitoring.Tagged("trip")

var (
	// ErrNotRiding is returned by Stop when no trip is open.
	ErrNotRiding = errors.New("no ride in progress")
	// ErrStorageFailure means a finished ride could not be logged. The ride
	// stays queued and the next Start or Stop retries the write.
	ErrStorageFailure = errors.New("failed to save ride")
)

// Tracker is the location source a Controller drives.
type Tracker interface {
	Events() <-chan location.Event
	StartTracking()
	StopTracking()
	Permission() location.Permission
	LastError() *location.Error
}

// Store is the ride log.
type Store interface {
	AddRide(db.Ride) (int64, error)
	GetSettings() (db.Settings, error)
	FuelTotals() (db.FuelTotals, error)
}

type Options struct {
	Clock             timeutil.Clock
	SmoothingFactor   float64
	MeaningfulTripKm  float64
	DefaultKmPerLitre float64
}

// Controller owns one Estimator. Samples are ingested by a single goroutine
// per open trip; everything else reads copies under mu.
type Controller struct {
	src   Tracker
	store Store
	opts  Options

	// lifecycleMu serialises Start and Stop.
	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}

	mu     sync.Mutex
	est    *motion.Estimator
	riding bool
	tripID string
	// pending holds rides that failed to save, oldest first. Only Start and
	// Stop change it.
	pending []db.Ride
}

func NewController(src Tracker, store Store, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.MeaningfulTripKm <= 0 {
		opts.MeaningfulTripKm = fuel.MeaningfulTripKm
	}
	opts.DefaultKmPerLitre = fuel.KmPerLitre(opts.DefaultKmPerLitre)

	return &Controller{
		src:   src,
		store: store,
		opts:  opts,
		est:   motion.New(motion.WithClock(opts.Clock), motion.WithSmoothingFactor(opts.SmoothingFactor)),
	}
}

// Start opens a new trip and returns its ID. While a trip is open it keeps
// that trip and only asks the receiver to resume, which is how a rider
// recovers after granting access to the device.
func (c *Controller) Start() string {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	if c.riding {
		id := c.tripID
		c.mu.Unlock()
		c.src.StartTracking()
		return id
	}
	unsaved := len(c.pending)
	c.est.Reset()
	c.tripID = uuid.NewString()
	c.riding = true
	id := c.tripID
	c.mu.Unlock()

	if unsaved > 0 {
		if _, err := c.flush(motion.Snapshot{}); err != nil {
			logf("keeping unsaved rides for the next stop: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx, c.done)

	c.src.StartTracking()
	logf("trip %s started", id)
	return id
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := c.src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Err != nil {
				c.handleError(ev.Err)
				continue
			}
			c.mu.Lock()
			c.est.Ingest(ev.Sample)
			c.mu.Unlock()
		}
	}
}

func (c *Controller) handleError(err *location.Error) {
	logf("location error: %v", err)
	if err.Kind == location.PermissionDenied {
		// the trip stays open with its progress; Start resumes it
		c.src.StopTracking()
	}
}

// StopResult describes what Stop logged.
type StopResult struct {
	Saved    bool            `json:"saved"`
	Ride     *db.Ride        `json:"ride,omitempty"`
	Snapshot motion.Snapshot `json:"snapshot"`
}

// Stop ends the trip and logs it as a ride when it covered a meaningful
// distance. A storage failure returns ErrStorageFailure with the ride kept
// for the next Start or Stop; the trip's figures are unaffected either way.
func (c *Controller) Stop() (StopResult, error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.mu.Lock()
	riding := c.riding
	c.mu.Unlock()

	if !riding {
		c.mu.Lock()
		unsaved := len(c.pending)
		snap := c.est.Snapshot()
		c.mu.Unlock()
		if unsaved == 0 {
			return StopResult{}, ErrNotRiding
		}
		return c.flush(snap)
	}

	c.src.StopTracking()
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil

	end := c.opts.Clock.Now()
	c.mu.Lock()
	c.riding = false
	snap := c.est.Snapshot()
	start := c.est.StartTime()
	id := c.tripID
	c.mu.Unlock()

	logf("trip %s stopped after %.3f km", id, snap.DistanceKm)
	if !fuel.Meaningful(snap.DistanceKm, c.opts.MeaningfulTripKm) {
		return StopResult{Snapshot: snap}, nil
	}

	ride := db.Ride{
		TripID:         id,
		DateStart:      start,
		DateEnd:        end,
		DistanceKm:     fuel.Round(snap.DistanceKm, 2),
		AvgSpeedKmh:    fuel.Round(snap.AvgSpeedKmh, 1),
		FuelUsedLitres: fuel.Used(snap.DistanceKm, c.kmPerLitre()),
	}
	return c.save(ride, snap)
}

// save queues ride behind any earlier unsaved rides and writes the queue.
func (c *Controller) save(ride db.Ride, snap motion.Snapshot) (StopResult, error) {
	c.mu.Lock()
	c.pending = append(c.pending, ride)
	c.mu.Unlock()
	return c.flush(snap)
}

// flush writes unsaved rides oldest first. It stops at the first failure and
// keeps that ride and everything after it. The result describes the newest
// ride in the queue.
func (c *Controller) flush(snap motion.Snapshot) (StopResult, error) {
	c.mu.Lock()
	queue := append([]db.Ride(nil), c.pending...)
	c.mu.Unlock()

	var last db.Ride
	for i, ride := range queue {
		rowID, err := c.store.AddRide(ride)
		if err != nil {
			c.mu.Lock()
			c.pending = queue[i:]
			c.mu.Unlock()
			newest := queue[len(queue)-1]
			return StopResult{Ride: &newest, Snapshot: snap}, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		ride.ID = rowID
		last = ride
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return StopResult{Saved: true, Ride: &last, Snapshot: snap}, nil
}

// kmPerLitre is the rider's mileage, or the configured default when it is
// unset or the settings cannot be read.
func (c *Controller) kmPerLitre() float64 {
	s, err := c.store.GetSettings()
	if err != nil {
		logf("using default mileage: %v", err)
		return c.opts.DefaultKmPerLitre
	}
	if !(s.KmPerLitre > 0) {
		return c.opts.DefaultKmPerLitre
	}
	return s.KmPerLitre
}

// Status is a point-in-time view of the trip for presentation.
type Status struct {
	Riding     bool                `json:"riding"`
	TripID     string              `json:"trip_id,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	Snapshot   motion.Snapshot     `json:"snapshot"`
	Permission location.Permission `json:"permission"`
	LastError  *location.Error     `json:"-"`
	Unsaved    bool                `json:"unsaved"`
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Riding:    c.riding,
		TripID:    c.tripID,
		StartedAt: c.est.StartTime(),
		Snapshot:  c.est.Snapshot(),
		Unsaved:   len(c.pending) > 0,
	}
	c.mu.Unlock()

	st.Permission = c.src.Permission()
	st.LastError = c.src.LastError()
	return st
}

// EstimatedRangeKm is how far the fuel left in the tank should go, from the
// refuel and ride logs.
func (c *Controller) EstimatedRangeKm() (float64, error) {
	totals, err := c.store.FuelTotals()
	if err != nil {
		return 0, err
	}
	return fuel.EstimateRange(totals.RefuelledLitres, totals.UsedLitres, c.kmPerLitre()), nil
}

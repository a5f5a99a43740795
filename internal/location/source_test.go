package location

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ride.report/internal/serialmux"
	"github.com/banshee-data/ride.report/internal/timeutil"
)

var fixTime = time.Date(2026, time.March, 19, 12, 35, 19, 0, time.UTC)

func rmcAt(ts time.Time) []byte {
	body := "GPRMC," + ts.Format("150405") + ".00,A,4807.03800,N,01131.00000,E,022.4,084.4," + ts.Format("020106") + ",,"
	return []byte(serialmux.Sentence(body) + "\r\n")
}

type sourceFixture struct {
	clock   *timeutil.MockClock
	factory *serialmux.MockSerialPortFactory
	port    *serialmux.TestableSerialPort
	src     *Source
}

func newSourceFixture(t *testing.T, ports ...*serialmux.TestableSerialPort) *sourceFixture {
	t.Helper()
	if len(ports) == 0 {
		ports = []*serialmux.TestableSerialPort{serialmux.NewTestableSerialPort()}
	}
	factory := serialmux.NewMockSerialPortFactory(ports[len(ports)-1])
	for _, p := range ports[:len(ports)-1] {
		factory.Ports = append(factory.Ports, p)
	}
	clock := timeutil.NewMockClock(fixTime)
	src := NewSource(SerialOpener(factory, "/dev/ttyGPS", serialmux.PortOptions{}), Options{Clock: clock})
	t.Cleanup(src.StopTracking)
	return &sourceFixture{clock: clock, factory: factory, port: ports[0], src: src}
}

func nextEvent(t *testing.T, src *Source) Event {
	t.Helper()
	select {
	case ev := <-src.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, src *Source) {
	t.Helper()
	select {
	case ev := <-src.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSource_DeliversSamples(t *testing.T) {
	f := newSourceFixture(t)
	f.src.StartTracking()
	require.True(t, f.src.Tracking())

	f.port.AddReadData(rmcAt(fixTime))
	ev := nextEvent(t, f.src)
	require.Nil(t, ev.Err)
	assert.Equal(t, fixTime.UnixMilli(), ev.Sample.TimestampMillis)
	assert.Nil(t, f.src.LastError())
	assert.Equal(t, Granted, f.src.Permission())

	call := f.factory.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyGPS", call.Path)
	assert.Equal(t, 9600, call.Mode.BaudRate)
	assert.Contains(t, string(f.port.GetWrittenData()), serialmux.Sentence("PMTK220,1000"))
}

func TestSource_StartTrackingIsIdempotent(t *testing.T) {
	f := newSourceFixture(t)
	f.src.StartTracking()
	f.src.StartTracking()

	f.port.AddReadData(rmcAt(fixTime))
	nextEvent(t, f.src)
	assertNoEvent(t, f.src)
	assert.Equal(t, 1, f.factory.CallCount())
}

func TestSource_StopTracking(t *testing.T) {
	f := newSourceFixture(t)
	f.src.StartTracking()
	f.port.AddReadData(rmcAt(fixTime))
	nextEvent(t, f.src)

	// queued but unread events must not survive the stop
	f.port.AddReadData(rmcAt(fixTime.Add(time.Second)))
	require.Eventually(t, func() bool { return len(f.src.Events()) > 0 }, 2*time.Second, 5*time.Millisecond)

	assert.NotNil(t, f.src.Receiver())

	f.src.StopTracking()
	assert.False(t, f.src.Tracking())
	assert.True(t, f.port.IsClosed())
	assert.Nil(t, f.src.Receiver())
	assertNoEvent(t, f.src)

	// second stop is a no-op
	f.src.StopTracking()
}

func TestSource_PermissionDenied(t *testing.T) {
	f := newSourceFixture(t)
	f.factory.SetError(serialmux.ErrPermissionDenied)

	id, perms := f.src.ObservePermission()
	defer f.src.Unobserve(id)
	assert.Equal(t, Prompt, <-perms)

	f.src.StartTracking()
	ev := nextEvent(t, f.src)
	require.NotNil(t, ev.Err)
	assert.Equal(t, PermissionDenied, ev.Err.Kind)
	assert.False(t, ev.Err.Transient())
	assert.True(t, errors.Is(ev.Err, ErrPermissionDenied))
	assert.True(t, errors.Is(ev.Err, serialmux.ErrPermissionDenied))
	assert.Equal(t, Denied, <-perms)
	assert.Equal(t, PermissionDenied, f.src.LastError().Kind)

	// the watch stays registered until the collaborator stops it
	assert.True(t, f.src.Tracking())
	f.src.StopTracking()
	assert.False(t, f.src.Tracking())

	// granting access and starting again recovers
	f.factory.SetError(nil)
	f.src.StartTracking()
	assert.Equal(t, Granted, <-perms)
}

func TestSource_ObservePermission(t *testing.T) {
	f := newSourceFixture(t)
	id, perms := f.src.ObservePermission()
	assert.Equal(t, Prompt, <-perms)

	f.src.StartTracking()
	select {
	case p := <-perms:
		assert.Equal(t, Granted, p)
	case <-time.After(2 * time.Second):
		t.Fatal("no permission update")
	}

	f.src.Unobserve(id)
	_, open := <-perms
	assert.False(t, open)
}

func TestSource_FixTimeout(t *testing.T) {
	f := newSourceFixture(t)
	f.src.StartTracking()
	require.Eventually(t, func() bool { return f.clock.PendingTimers() == 1 }, 2*time.Second, 5*time.Millisecond)

	f.clock.Advance(9 * time.Second)
	assertNoEvent(t, f.src)

	f.clock.Advance(time.Second)
	ev := nextEvent(t, f.src)
	require.NotNil(t, ev.Err)
	assert.Equal(t, Timeout, ev.Err.Kind)
	assert.True(t, ev.Err.Transient())
	assert.True(t, errors.Is(f.src.LastError(), ErrTimeout))

	// sampling continues and a later fix clears the error
	f.port.AddReadData(rmcAt(fixTime.Add(10 * time.Second)))
	ev = nextEvent(t, f.src)
	require.Nil(t, ev.Err)
	assert.Nil(t, f.src.LastError())
}

func TestSource_DropsStaleFixes(t *testing.T) {
	f := newSourceFixture(t)
	f.src.StartTracking()

	stale := fixTime.Add(-time.Minute)
	f.port.AddReadData(rmcAt(stale))
	f.port.AddReadData(rmcAt(fixTime.Add(time.Second)))

	ev := nextEvent(t, f.src)
	require.Nil(t, ev.Err)
	assert.Equal(t, fixTime.Add(time.Second).UnixMilli(), ev.Sample.TimestampMillis)
}

func TestSource_StaleToleranceAllowsClockSkew(t *testing.T) {
	f := newSourceFixture(t)
	f.src.StartTracking()

	// beyond the default tolerance, then just inside it
	f.port.AddReadData(rmcAt(fixTime.Add(-DefaultStaleFixTolerance - time.Second)))
	f.port.AddReadData(rmcAt(fixTime.Add(-3 * time.Second)))

	ev := nextEvent(t, f.src)
	require.Nil(t, ev.Err)
	assert.Equal(t, fixTime.Add(-3*time.Second).UnixMilli(), ev.Sample.TimestampMillis)
}

func TestSource_StaleCheckDisabled(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	factory := serialmux.NewMockSerialPortFactory(port)
	src := NewSource(SerialOpener(factory, "/dev/ttyGPS", serialmux.PortOptions{}), Options{
		Clock:             timeutil.NewMockClock(fixTime),
		StaleFixTolerance: -1,
	})
	defer src.StopTracking()
	src.StartTracking()

	port.AddReadData(rmcAt(fixTime.Add(-time.Hour)))
	ev := nextEvent(t, src)
	require.Nil(t, ev.Err)
}

func TestSource_ReopensAfterReceiverFailure(t *testing.T) {
	first, second := serialmux.NewTestableSerialPort(), serialmux.NewTestableSerialPort()
	f := newSourceFixture(t, first, second)
	f.src.StartTracking()

	first.AddReadData(rmcAt(fixTime))
	nextEvent(t, f.src)

	first.FailReads(errors.New("device unplugged"))
	ev := nextEvent(t, f.src)
	require.NotNil(t, ev.Err)
	assert.Equal(t, PositionUnavailable, ev.Err.Kind)
	assert.True(t, strings.Contains(ev.Err.Error(), "device unplugged"))
	assert.True(t, first.IsClosed())

	require.Eventually(t, func() bool { return f.clock.PendingTimers() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.clock.Advance(DefaultReconnectBackoff)
	require.Eventually(t, func() bool { return f.factory.CallCount() == 2 }, 2*time.Second, 5*time.Millisecond)

	second.AddReadData(rmcAt(fixTime.Add(2 * time.Second)))
	ev = nextEvent(t, f.src)
	require.Nil(t, ev.Err)
}

func TestSource_OpenFailureIsTransient(t *testing.T) {
	f := newSourceFixture(t)
	f.factory.SetError(serialmux.ErrPortNotFound)
	f.src.StartTracking()

	ev := nextEvent(t, f.src)
	require.NotNil(t, ev.Err)
	assert.Equal(t, PositionUnavailable, ev.Err.Kind)
	assert.Equal(t, Prompt, f.src.Permission())

	f.factory.SetError(nil)
	require.Eventually(t, func() bool { return f.clock.PendingTimers() == 1 }, 2*time.Second, 5*time.Millisecond)
	f.clock.Advance(DefaultReconnectBackoff)

	f.port.AddReadData(rmcAt(fixTime))
	ev = nextEvent(t, f.src)
	require.Nil(t, ev.Err)
	assert.Equal(t, Granted, f.src.Permission())
}

package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// LineGenerator produces the bytes a simulated device emits at a given tick.
type LineGenerator func(now time.Time) []byte

// MockSerialPort is a pipe-backed port fed by a LineGenerator. Commands
// written to it are captured.
type MockSerialPort struct {
	r *io.PipeReader

	mu      sync.Mutex
	written bytes.Buffer
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.Write(p)
}

// Close closes the read side, which stops the generator on its next write.
func (m *MockSerialPort) Close() error {
	return m.r.Close()
}

// Written returns everything sent to the port so far.
func (m *MockSerialPort) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written.String()
}

// NewMockSerialMux creates a SerialMux backed by a simulated device that
// emits gen's output every interval until the mux is closed.
func NewMockSerialMux(gen LineGenerator, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{r: r}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for now := range ticker.C {
			if _, err := w.Write(gen(now)); err != nil {
				return
			}
		}
	}()

	return NewSerialMux(mockPort)
}

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for
// tests: scripted reads, captured writes and injected errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by every Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added, an error is
	// injected or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort returns a port whose reads block until data arrives.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.BlockReads && !t.Closed && t.ReadError == nil && t.ReadBuffer.Len() == 0 {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, errPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		return 0, t.WriteError
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes any blocked reader.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData appends data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailReads makes the next Read return err.
func (t *TestableSerialPort) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// IsClosed reports whether Close was called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.Closed
}

// MockSerialPortFactory implements SerialPortFactory for testing.
type MockSerialPortFactory struct {
	mu sync.Mutex

	// Ports are handed out in order by successive Open calls; once
	// exhausted, Port is returned.
	Ports []SerialPorter

	// Port is the port to return from Open
	Port SerialPorter

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Mode *SerialPortMode
}

func NewMockSerialPortFactory(port SerialPorter) *MockSerialPortFactory {
	return &MockSerialPortFactory{Port: port}
}

// Open returns the next configured port or error.
func (f *MockSerialPortFactory) Open(path string, mode *SerialPortMode) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Mode: mode})

	if f.Error != nil {
		return nil, f.Error
	}
	if len(f.Ports) > 0 {
		p := f.Ports[0]
		f.Ports = f.Ports[1:]
		return p, nil
	}
	return f.Port, nil
}

// SetError changes the error returned by subsequent Open calls.
func (f *MockSerialPortFactory) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Error = err
}

// CallCount returns the number of Open calls so far.
func (f *MockSerialPortFactory) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.OpenCalls)
}

// LastCall returns the most recent Open call, or nil if none.
func (f *MockSerialPortFactory) LastCall() *MockOpenCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.OpenCalls) == 0 {
		return nil
	}
	return &f.OpenCalls[len(f.OpenCalls)-1]
}

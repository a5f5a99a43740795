package serialmux

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewMockSerialMux(t *testing.T) {
	gen := func(now time.Time) []byte {
		return []byte(Sentence("GPTXT,01,01,02,tick") + "\r\n")
	}
	mux := NewMockSerialMux(gen, 5*time.Millisecond)
	_, ch := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	line := recvLine(t, ch)
	if !strings.HasPrefix(line, "$GPTXT,01,01,02,tick*") {
		t.Errorf("unexpected line %q", line)
	}

	if err := mux.SendCommand("$PMTK000*32"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := mux.port.Written(); got != "$PMTK000*32\r\n" {
		t.Errorf("captured command = %q", got)
	}

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Monitor returned %v after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
}

func TestTestableSerialPort_FailReadsWakesBlockedReader(t *testing.T) {
	port := NewTestableSerialPort()
	errCh := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 8))
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	port.FailReads(errPortClosed)

	select {
	case err := <-errCh:
		if err != errPortClosed {
			t.Errorf("Read returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Read was not woken")
	}
}

func TestMockSerialPortFactory_PortQueue(t *testing.T) {
	first, second := NewTestableSerialPort(), NewTestableSerialPort()
	factory := &MockSerialPortFactory{Ports: []SerialPorter{first}, Port: second}

	p1, _ := factory.Open("a", nil)
	p2, _ := factory.Open("b", nil)
	p3, _ := factory.Open("c", nil)

	if p1 != first || p2 != second || p3 != second {
		t.Error("factory should drain Ports before falling back to Port")
	}
	if factory.LastCall().Path != "c" {
		t.Errorf("LastCall path = %q", factory.LastCall().Path)
	}
}
